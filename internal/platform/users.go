package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/record"
)

// UserImportFieldsMapper maps final_data.csv columns onto the import API.
var UserImportFieldsMapper = map[string]string{
	"name":        "name",
	"email":       "email",
	"tenantId":    "tenantId",
	"password":    "passwordHash",
	"metadata":    "metadata",
	"phoneNumber": "phoneNumber",
	"roleIds":     "roleIds",
}

// UserImportHashing declares the password hash scheme of imported users.
var UserImportHashing = map[string]string{"passwordHashType": "bcrypt"}

// UserByEmail looks up a user within a tenant. A missing user is reported
// as found == false with a nil error.
func (p *Platform) UserByEmail(ctx context.Context, email, tenantID string) (record.Record, bool, error) {
	path := pathUsersV3 + "?_email=" + url.QueryEscape(email)
	resp, err := p.c.Get(ctx, path, api.WithTenant(tenantID))
	if err != nil {
		if api.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, &api.FetchError{Resource: "users", Err: err}
	}
	users, err := decodeCollection(resp.Body)
	if err != nil {
		return nil, false, &api.FetchError{Resource: "users", Err: err}
	}
	if len(users) == 0 {
		return nil, false, nil
	}
	return users[0], true, nil
}

// UserRoleIDs returns the role ids a user holds within a tenant.
func (p *Platform) UserRoleIDs(ctx context.Context, userID, tenantID string) ([]string, error) {
	path := pathUsersV3 + "/roles?ids=" + url.QueryEscape(userID)
	resp, err := p.c.Get(ctx, path, api.WithTenant(tenantID))
	if err != nil {
		return nil, &api.FetchError{Resource: "user roles", Err: err}
	}
	entries, err := decodeCollection(resp.Body)
	if err != nil {
		return nil, &api.FetchError{Resource: "user roles", Err: err}
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0].Strings("roleIds"), nil
}

// Users pages through every user including sub-tenant members.
func (p *Platform) Users(ctx context.Context) ([]record.Record, error) {
	return p.listPaged(ctx, "users", pathUsersV3+"?includeSubTenants=true", usersPageSize)
}

// TenantUsers lists the users of one tenant.
func (p *Platform) TenantUsers(ctx context.Context, tenantID string) ([]record.Record, error) {
	return p.listPaged(ctx, "users", pathUsersV3, usersPageSize, api.WithTenant(tenantID))
}

// AllUsersWithTenants pages through the v2 user listing used for wiping.
func (p *Platform) AllUsersWithTenants(ctx context.Context) ([]record.Record, error) {
	return p.listPaged(ctx, "users", pathUsersV2+"?_includeSubTenants=true&_include=tenants", usersPageSize)
}

// AssignUserRoles grants roles to a user within a tenant.
func (p *Platform) AssignUserRoles(ctx context.Context, userID, tenantID string, roleIDs []string) error {
	path := pathUsersV1 + "/" + escape(userID) + "/roles"
	_, err := p.c.Post(ctx, path, map[string]any{"roleIds": roleIDs}, api.WithTenant(tenantID))
	return err
}

// DeleteUser deletes a user.
func (p *Platform) DeleteUser(ctx context.Context, userID string) error {
	_, err := p.c.Delete(ctx, pathUsersV1+"/"+escape(userID))
	return err
}

// ImportUsersCSV uploads a prepared user CSV to the bulk migration endpoint.
func (p *Platform) ImportUsersCSV(ctx context.Context, fileName string, content []byte) (record.Record, error) {
	mapper, err := json.Marshal(UserImportFieldsMapper)
	if err != nil {
		return nil, err
	}
	hashing, err := json.Marshal(UserImportHashing)
	if err != nil {
		return nil, err
	}

	resp, err := p.c.Upload(ctx, pathUserImport,
		api.FormFile{Field: "csv", FileName: fileName, Content: content},
		[]api.FormField{
			{Name: "fieldsMapper", Value: string(mapper), ContentType: "application/json"},
			{Name: "hashingConfig", Value: string(hashing), ContentType: "application/json"},
		},
		p.c.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}
	var out record.Record
	if err := resp.Decode(&out); err != nil {
		p.log.Debug("unparseable import response", "error", err)
	}
	return out, nil
}

// InviteUser is one entry of a bulk invite.
type InviteUser struct {
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	SkipInviteEmail bool     `json:"skipInviteEmail"`
	RoleIDs         []string `json:"roleIds"`
	Verified        bool     `json:"verified"`
}

// BulkInvite invites users into a tenant. An accepted (202) request returns
// the job id; a synchronous success returns "".
func (p *Platform) BulkInvite(ctx context.Context, tenantID string, users []InviteUser) (string, error) {
	resp, err := p.c.Post(ctx, pathBulkInvite, map[string]any{"users": users}, api.WithTenant(tenantID))
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusAccepted {
		return "", nil
	}
	var job struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&job); err != nil || job.ID == "" {
		return "unknown", nil
	}
	return job.ID, nil
}
