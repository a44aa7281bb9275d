package platform

import (
	"context"
	"fmt"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/record"
)

// SecurityRule returns the configuration of one rule type, or nil when the
// instance has none.
func (p *Platform) SecurityRule(ctx context.Context, ruleType string) (record.Record, error) {
	resp, err := p.c.Get(ctx, pathSecurityRules+"/"+escape(ruleType))
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		return nil, &api.FetchError{Resource: "security rule " + ruleType, Err: err}
	}
	var rec record.Record
	if err := resp.Decode(&rec); err != nil {
		return nil, &api.FetchError{Resource: "security rule " + ruleType, Err: err}
	}
	return rec, nil
}

// SetSecurityRule overwrites a rule configuration.
func (p *Platform) SetSecurityRule(ctx context.Context, ruleType string, config record.Record) error {
	_, err := p.c.Post(ctx, pathSecurityRules+"/"+escape(ruleType), config)
	return err
}

// EmailTemplates lists templates. When the bulk listing fails or returns no
// array, each known type is fetched individually and missing types skipped.
func (p *Platform) EmailTemplates(ctx context.Context, types []string) ([]record.Record, error) {
	resp, err := p.c.Get(ctx, pathMailTemplates)
	if err == nil {
		if recs, derr := decodeCollection(resp.Body); derr == nil && len(recs) > 0 {
			return withType(recs), nil
		}
	} else if api.IsAuth(err) {
		return nil, &api.FetchError{Resource: "email templates", Err: err}
	} else {
		p.log.Debug("bulk template fetch failed, fetching per type", "error", err)
	}

	var out []record.Record
	for _, t := range types {
		resp, err := p.c.Get(ctx, pathMailTemplates+"/"+escape(t))
		if err != nil {
			if api.IsNotFound(err) {
				p.log.Debug("template not found", "type", t)
				continue
			}
			return nil, &api.FetchError{Resource: "email template " + t, Err: err}
		}
		var rec record.Record
		if err := resp.Decode(&rec); err != nil {
			return nil, &api.FetchError{Resource: "email template " + t, Err: err}
		}
		if rec == nil {
			continue
		}
		if rec.String("type") == "" {
			rec["type"] = t
		}
		out = append(out, rec)
	}
	return out, nil
}

func withType(recs []record.Record) []record.Record {
	out := recs[:0]
	for _, r := range recs {
		if r.String("type") != "" {
			out = append(out, r)
		}
	}
	return out
}

// UpsertEmailTemplate creates or replaces the template of payload's type.
func (p *Platform) UpsertEmailTemplate(ctx context.Context, payload record.Record) error {
	_, err := p.c.Post(ctx, pathMailTemplates, payload, p.c.WithVendor())
	return err
}

// EmailProvider returns the configured email provider or nil.
func (p *Platform) EmailProvider(ctx context.Context) (record.Record, error) {
	resp, err := p.c.Get(ctx, pathMailConfigV1)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		return nil, &api.FetchError{Resource: "email provider", Err: err}
	}
	var rec record.Record
	if err := resp.Decode(&rec); err != nil {
		// Unconfigured instances answer with an empty or non-object body.
		return nil, nil
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return rec, nil
}

// SetEmailProvider configures the email provider. Accounts that reject the
// v1 endpoint with 403 or 404 are retried on v2.
func (p *Platform) SetEmailProvider(ctx context.Context, payload record.Record) error {
	_, err := p.c.Post(ctx, pathMailConfigV1, payload, p.c.WithVendor())
	if err == nil {
		return nil
	}
	if status := api.StatusOf(err); status != 403 && status != 404 {
		return err
	}
	p.log.Debug("v1 email configuration rejected, trying v2", "status", api.StatusOf(err))
	_, err = p.c.Post(ctx, pathMailConfigV2, payload, p.c.WithVendor())
	return err
}

// Prehooks lists prehook configurations.
func (p *Platform) Prehooks(ctx context.Context) ([]record.Record, error) {
	return p.list(ctx, "prehooks", pathPrehooks, true, p.c.WithEnvironment())
}

// DeletePrehook deletes a prehook.
func (p *Platform) DeletePrehook(ctx context.Context, id string) error {
	_, err := p.c.Delete(ctx, pathPrehooks+"/"+escape(id), p.c.WithEnvironment())
	return err
}

// CustomCode fetches the code and runtime behind a CUSTOM_CODE prehook.
func (p *Platform) CustomCode(ctx context.Context, executorID string) (code, runtime string, err error) {
	resp, err := p.c.Get(ctx, pathCustomCode+"/"+escape(executorID), p.c.WithEnvironment())
	if err != nil {
		return "", "", &api.FetchError{Resource: "custom code " + executorID, Err: err}
	}
	var body struct {
		Content string `json:"content"`
		Runtime string `json:"runtime"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", "", &api.FetchError{Resource: "custom code " + executorID, Err: err}
	}
	return body.Content, body.Runtime, nil
}

// CreatePrehook creates a prehook of kind "api" or "custom-code".
func (p *Platform) CreatePrehook(ctx context.Context, kind string, payload record.Record) error {
	switch kind {
	case "api", "custom-code":
	default:
		return fmt.Errorf("unknown prehook kind %q", kind)
	}
	_, err := p.c.Post(ctx, pathPrehooks+"/"+kind, payload, p.c.WithEnvironment())
	return err
}

// AllowedOrigins returns the vendor's allowed origins.
func (p *Platform) AllowedOrigins(ctx context.Context) ([]string, error) {
	resp, err := p.c.Get(ctx, pathVendors)
	if err != nil {
		return nil, &api.FetchError{Resource: "vendor", Err: err}
	}
	var vendor record.Record
	if err := resp.Decode(&vendor); err != nil {
		return nil, &api.FetchError{Resource: "vendor", Err: err}
	}
	return vendor.Strings("allowedOrigins"), nil
}

// SetAllowedOrigins replaces the vendor's allowed origins.
func (p *Platform) SetAllowedOrigins(ctx context.Context, origins []string) error {
	_, err := p.c.Put(ctx, pathVendors, map[string]any{"allowedOrigins": origins})
	return err
}

// RedirectURIs returns the configured redirect URIs. The endpoint answers
// either {redirectUris: [...]} or a bare array, of strings or objects.
func (p *Platform) RedirectURIs(ctx context.Context) ([]string, error) {
	resp, err := p.c.Get(ctx, pathRedirectURIs)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		return nil, &api.FetchError{Resource: "redirect uris", Err: err}
	}

	var raw any
	if err := resp.Decode(&raw); err != nil {
		return nil, &api.FetchError{Resource: "redirect uris", Err: err}
	}
	var entries []any
	switch v := raw.(type) {
	case []any:
		entries = v
	case map[string]any:
		entries, _ = v["redirectUris"].([]any)
	}

	uris := make([]string, 0, len(entries))
	for _, e := range entries {
		if u := normalizeURI(e); u != "" {
			uris = append(uris, u)
		}
	}
	return uris, nil
}

func normalizeURI(v any) string {
	switch u := v.(type) {
	case string:
		return u
	case map[string]any:
		for _, k := range []string{"redirectUri", "uri"} {
			if s, ok := u[k].(string); ok {
				return s
			}
		}
		return fmt.Sprint(u)
	case nil:
		return ""
	default:
		return fmt.Sprint(u)
	}
}

// AddRedirectURI registers one redirect URI.
func (p *Platform) AddRedirectURI(ctx context.Context, uri string) error {
	_, err := p.c.Post(ctx, pathRedirectURIs, map[string]any{"redirectUri": uri})
	return err
}

// JWTSettings returns the identity configuration restricted to fields.
// Fields the instance does not report are omitted.
func (p *Platform) JWTSettings(ctx context.Context, fields []string) (record.Record, error) {
	resp, err := p.c.Get(ctx, pathIdentityConf)
	if err != nil {
		return nil, &api.FetchError{Resource: "jwt settings", Err: err}
	}
	var conf record.Record
	if err := resp.Decode(&conf); err != nil {
		return nil, &api.FetchError{Resource: "jwt settings", Err: err}
	}
	out := record.Record{}
	for _, f := range fields {
		if v, ok := conf[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out, nil
}

// SetJWTSettings posts new token settings.
func (p *Platform) SetJWTSettings(ctx context.Context, settings record.Record) error {
	_, err := p.c.Post(ctx, pathIdentityConf, settings, p.c.WithVendor())
	return err
}
