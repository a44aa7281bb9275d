package platform

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/record"
)

// Tenants lists every tenant.
func (p *Platform) Tenants(ctx context.Context) ([]record.Record, error) {
	return p.listPaged(ctx, "tenants", pathTenantsList, 0)
}

// CreateTenant creates a tenant with the given id.
func (p *Platform) CreateTenant(ctx context.Context, payload record.Record) error {
	_, err := p.c.Post(ctx, pathTenants, payload)
	return err
}

// SetTenantMetadata replaces a tenant's metadata.
func (p *Platform) SetTenantMetadata(ctx context.Context, tenantID string, metadata any) error {
	_, err := p.c.Post(ctx, pathTenants+"/"+escape(tenantID)+"/metadata", map[string]any{"metadata": metadata})
	return err
}

// DeleteTenant deletes a tenant.
func (p *Platform) DeleteTenant(ctx context.Context, tenantID string) error {
	_, err := p.c.Delete(ctx, pathTenants+"/"+escape(tenantID))
	return err
}

// Categories lists permission categories.
func (p *Platform) Categories(ctx context.Context) ([]record.Record, error) {
	return p.list(ctx, "categories", pathCategories, true)
}

// CreateCategory creates a category and returns the created record.
func (p *Platform) CreateCategory(ctx context.Context, payload record.Record) (record.Record, error) {
	resp, err := p.c.Post(ctx, pathCategories, payload)
	if err != nil {
		return nil, err
	}
	return decodeCreated(resp)
}

// Permissions lists permissions.
func (p *Platform) Permissions(ctx context.Context) ([]record.Record, error) {
	return p.list(ctx, "permissions", pathPermissions, true)
}

// CreatePermissions creates a batch of permissions in one call and returns
// whatever the server echoes back, which may be empty.
func (p *Platform) CreatePermissions(ctx context.Context, batch []record.Record) ([]record.Record, error) {
	resp, err := p.c.Post(ctx, pathPermissions, batch)
	if err != nil {
		return nil, err
	}
	created, err := decodeCollection(resp.Body)
	if err != nil {
		p.log.Debug("unparseable permission batch response", "error", err)
		return nil, nil
	}
	return created, nil
}

// DeletePermission deletes a permission.
func (p *Platform) DeletePermission(ctx context.Context, id string) error {
	_, err := p.c.Delete(ctx, pathPermissions+"/"+escape(id))
	return err
}

// Roles lists every role, tenant-scoped and global.
func (p *Platform) Roles(ctx context.Context) ([]record.Record, error) {
	return p.listPaged(ctx, "roles", pathRolesList, rolesPageSize)
}

// CreateRole creates a single role. Tenant roles are created under the
// tenant header.
func (p *Platform) CreateRole(ctx context.Context, payload record.Record) (record.Record, error) {
	resp, err := p.c.Post(ctx, pathRoles, []record.Record{payload}, api.WithTenant(payload.String("tenantId")))
	if err != nil {
		return nil, err
	}
	return decodeCreated(resp)
}

// SetRolePermissions replaces the permissions assigned to a role.
func (p *Platform) SetRolePermissions(ctx context.Context, roleID, tenantID string, permissionIDs []string) error {
	if permissionIDs == nil {
		permissionIDs = []string{}
	}
	path := pathRoles + "/" + escape(roleID) + "/permissions"
	_, err := p.c.Put(ctx, path, map[string]any{"permissionIds": permissionIDs}, api.WithTenant(tenantID))
	return err
}

// DeleteRole deletes a role.
func (p *Platform) DeleteRole(ctx context.Context, id string) error {
	_, err := p.c.Delete(ctx, pathRoles+"/"+escape(id))
	return err
}

// Applications lists applications, excluding agents.
func (p *Platform) Applications(ctx context.Context) ([]record.Record, error) {
	return p.list(ctx, "applications", pathApplications+"?_excludeAgents=true", true)
}

// CreateApplication creates an application and returns its id.
func (p *Platform) CreateApplication(ctx context.Context, payload record.Record) (string, error) {
	resp, err := p.c.Post(ctx, pathApplications, payload)
	if err != nil {
		return "", err
	}
	created, err := decodeCreated(resp)
	if err != nil {
		return "", err
	}
	return created.String("id"), nil
}

// DeleteApplication deletes an application.
func (p *Platform) DeleteApplication(ctx context.Context, id string) error {
	_, err := p.c.Delete(ctx, pathApplications+"/"+escape(id))
	return err
}

// Groups lists the groups of one tenant. Each record carries tenantId so
// groups of different tenants can share a name.
func (p *Platform) Groups(ctx context.Context, tenantID string) ([]record.Record, error) {
	groups, err := p.list(ctx, "groups", pathGroups, true, api.WithTenant(tenantID))
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		g["tenantId"] = tenantID
	}
	return groups, nil
}

// CreateGroup creates a group in a tenant and returns its id.
func (p *Platform) CreateGroup(ctx context.Context, tenantID string, payload record.Record) (string, error) {
	resp, err := p.c.Post(ctx, pathGroups, payload, api.WithTenant(tenantID))
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d creating group", resp.Status)
	}
	created, err := decodeCreated(resp)
	if err != nil {
		return "", err
	}
	return created.String("id"), nil
}

// AddGroupUsers adds members to a group.
func (p *Platform) AddGroupUsers(ctx context.Context, tenantID, groupID string, userIDs []string) error {
	path := pathGroups + "/" + escape(groupID) + "/users"
	_, err := p.c.Post(ctx, path, map[string]any{"userIds": userIDs}, api.WithTenant(tenantID))
	return err
}
