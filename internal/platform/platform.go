// Package platform maps each migrated resource onto its REST endpoints.
// Collection reads return *api.FetchError on failure; writes return the
// underlying client error for the caller to classify.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/cursor"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/record"
)

const (
	pathTenantsList   = "/tenants/resources/tenants/v2"
	pathTenants       = "/tenants/resources/tenants/v1"
	pathCategories    = "/identity/resources/permissions/v1/categories"
	pathPermissions   = "/identity/resources/permissions/v1"
	pathRolesList     = "/identity/resources/roles/v2"
	pathRoles         = "/identity/resources/roles/v1"
	pathUsersV3       = "/identity/resources/users/v3"
	pathUsersV2       = "/identity/resources/users/v2"
	pathUsersV1       = "/identity/resources/users/v1"
	pathUserImport    = "/identity/resources/migrations/v1/local/bulk/csv"
	pathBulkInvite    = "/identity/resources/users/bulk/v1/invite"
	pathGroups        = "/identity/resources/groups/v1"
	pathApplications  = "/applications/resources/applications/v1"
	pathSecurityRules = "/security-engines/resources/policies/v1"
	pathMailTemplates = "/identity/resources/mail/v1/configs/templates"
	pathMailConfigV1  = "/identity/resources/mail/v1/configurations"
	pathMailConfigV2  = "/identity/resources/mail/v2/configurations"
	pathPrehooks      = "/prehooks/resources/configurations/v1"
	pathCustomCode    = "/custom-code/resources/codes/v1"
	pathVendors       = "/vendors"
	pathRedirectURIs  = "/oauth/resources/configurations/v1/redirect-uri"
	pathIdentityConf  = "/identity/resources/configurations/v1"

	rolesPageSize = 2000
	usersPageSize = 200
)

// Platform exposes the resource operations of one instance.
type Platform struct {
	c   *api.Client
	log logging.Logger
}

// New wraps an authenticated client.
func New(c *api.Client, log logging.Logger) *Platform {
	if log == nil {
		log = logging.Discard()
	}
	return &Platform{c: c, log: log.With("instance", c.Name())}
}

// Client returns the underlying client.
func (p *Platform) Client() *api.Client { return p.c }

// Name returns the instance name.
func (p *Platform) Name() string { return p.c.Name() }

// list reads an endpoint returning a bare array, or an envelope holding
// the array under items or groups. A 404 is treated as an empty collection
// when emptyOK is set.
func (p *Platform) list(ctx context.Context, resource, path string, emptyOK bool, opts ...api.Option) ([]record.Record, error) {
	resp, err := p.c.Get(ctx, path, opts...)
	if err != nil {
		if emptyOK && api.IsNotFound(err) {
			return nil, nil
		}
		return nil, &api.FetchError{Resource: resource, Err: err}
	}
	recs, err := decodeCollection(resp.Body)
	if err != nil {
		return nil, &api.FetchError{Resource: resource, Err: err}
	}
	p.log.Debug("fetched collection", "resource", resource, "count", len(recs))
	return recs, nil
}

// listPaged follows _limit/_offset or _links.next pages until exhausted.
func (p *Platform) listPaged(ctx context.Context, resource, path string, limit int, opts ...api.Option) ([]record.Record, error) {
	cur := cursor.New(limit)
	var all []record.Record

	for {
		pagePath, err := cur.Apply(path)
		if err != nil {
			return nil, &api.FetchError{Resource: resource, Err: err}
		}
		resp, err := p.c.Get(ctx, pagePath, opts...)
		if err != nil {
			return nil, &api.FetchError{Resource: resource, Err: err}
		}

		var page cursor.Page
		if err := resp.Decode(&page); err != nil {
			return nil, &api.FetchError{Resource: resource, Err: err}
		}
		recs, err := record.DecodeAll(page.Items)
		if err != nil {
			return nil, &api.FetchError{Resource: resource, Err: err}
		}
		all = append(all, recs...)

		more, err := cur.Advance(&page)
		if err != nil {
			return nil, &api.FetchError{Resource: resource, Err: err}
		}
		if !more {
			break
		}
	}

	p.log.Debug("fetched collection", "resource", resource, "count", len(all), "pages", cur.Pages())
	return all, nil
}

func decodeCollection(body []byte) ([]record.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid collection response: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return record.DecodeAll(items)
	}

	var env struct {
		Items  []json.RawMessage `json:"items"`
		Groups []json.RawMessage `json:"groups"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected collection shape: %w", err)
	}
	if env.Items == nil {
		return record.DecodeAll(env.Groups)
	}
	return record.DecodeAll(env.Items)
}

// decodeCreated returns the created record from an object response, or the
// first element of an array response.
func decodeCreated(resp *api.Response) (record.Record, error) {
	body := bytes.TrimSpace(resp.Body)
	if len(body) > 0 && body[0] == '[' {
		var items []record.Record
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("invalid create response: %w", err)
		}
		if len(items) == 0 {
			return record.Record{}, nil
		}
		return items[0], nil
	}
	rec := record.Record{}
	if err := resp.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func escape(s string) string {
	return url.PathEscape(s)
}
