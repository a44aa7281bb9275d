package migrate

import (
	"context"
	"fmt"

	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

// Step names, in execution order.
const (
	StepTenants        = "tenants"
	StepCategories     = "categories"
	StepPermissions    = "permissions"
	StepRoles          = "roles"
	StepUsers          = "users"
	StepBulkInvite     = "bulk_invite"
	StepRoleAssignment = "role_assignment"
	StepGroups         = "groups"
	StepApplications   = "applications"
	StepSecurityRules  = "security_rules"
	StepEmailTemplates = "email_templates"
	StepEmailSender    = "email_sender"
	StepPrehooks       = "prehooks"
	StepAllowedOrigins = "allowed_origins"
	StepJWTSettings    = "jwt_settings"
)

// Step migrates one entity type.
type Step struct {
	Name  string
	Title string
	Run   func(ctx context.Context, env *Env) (*bulk.Result, error)
}

// Steps returns every step in dependency order. Identifier mappings are
// produced by earlier steps and consumed by later ones.
func Steps() []Step {
	return []Step{
		{StepTenants, "Tenant Migration", migrateTenants},
		{StepCategories, "Permission Categories", migrateCategories},
		{StepPermissions, "Permissions", migratePermissions},
		{StepRoles, "Roles", migrateRoles},
		{StepUsers, "Users", migrateUsers},
		{StepBulkInvite, "Bulk Invite", bulkInvite},
		{StepRoleAssignment, "Role Assignment", assignRoles},
		{StepGroups, "Groups", migrateGroups},
		{StepApplications, "Applications", migrateApplications},
		{StepSecurityRules, "Security Rules", migrateSecurityRules},
		{StepEmailTemplates, "Email Templates", migrateEmailTemplates},
		{StepEmailSender, "Email Sender", migrateEmailSender},
		{StepPrehooks, "Prehooks", migratePrehooks},
		{StepAllowedOrigins, "Allowed Origins & Redirect URIs", migrateAllowedOrigins},
		{StepJWTSettings, "JWT Settings", migrateJWTSettings},
	}
}

// Lookup returns the step with the given name.
func Lookup(name string) (Step, bool) {
	for _, s := range Steps() {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// keyFor returns the natural-key function of an entity type.
func (e *Env) keyFor(entity string) reconcile.KeyFunc {
	if entity == StepUsers {
		return func(r record.Record) reconcile.Key {
			return reconcile.Key(NormalizeEmail(r.String("email")))
		}
	}
	return reconcile.FieldKey(e.Policy.Entity(entity).Key...)
}

// diffFor returns the conflict detector of an entity type, nil when the
// type is create-only.
func (e *Env) diffFor(entity string) reconcile.DiffFunc {
	ent := e.Policy.Entity(entity)
	if !ent.Updatable() {
		return nil
	}
	return reconcile.FieldDiff(ent.Compare)
}

// resolve returns the identifier mapping of entity. When its step did not
// run, the mapping is derived from records already present on both sides
// and sealed for later steps.
func (e *Env) resolve(ctx context.Context, entity string) (reconcile.IDMap, error) {
	if m, ok := e.Registry.Sealed(entity); ok {
		return m, nil
	}

	var fetch func(*platform.Platform, context.Context) ([]record.Record, error)
	switch entity {
	case StepCategories:
		fetch = (*platform.Platform).Categories
	case StepPermissions:
		fetch = (*platform.Platform).Permissions
	case StepRoles:
		fetch = (*platform.Platform).Roles
	default:
		return nil, fmt.Errorf("no identifier mapping for %s", entity)
	}

	src, err := fetch(e.Source, ctx)
	if err != nil {
		return nil, err
	}
	dst, err := fetch(e.Dest, ctx)
	if err != nil {
		return nil, err
	}
	res, err := e.reconcile(entity, src, dst, e.keyFor(entity), nil)
	if err != nil {
		return nil, err
	}

	ids := make(reconcile.IDMap)
	for _, c := range res.Classifications {
		if c.Kind == reconcile.Matched {
			ids.Set(c.SourceID, c.DestID)
		}
	}
	e.Log.Debug("derived identifier mapping", "entity", entity, "mapped", len(ids))
	e.Registry.Seal(entity, ids)
	return ids, nil
}

// summarize prints the result table of a step.
func (e *Env) summarize(title string, res *bulk.Result) {
	e.Reporter.Stats(title, res.Stats())
}
