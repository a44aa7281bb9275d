package migrate

import (
	"context"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/remap"
)

type roleStrategy struct {
	dst    *platform.Platform
	fields []string
}

func (s *roleStrategy) Resource() string { return "role" }

func (s *roleStrategy) Label(rec record.Record) string { return rec.String("key") }

func (s *roleStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	payload := rec.Pick(s.fields...)
	if payload.String("tenantId") == "" {
		delete(payload, "tenantId")
	}
	if !payload.Has("description") {
		payload["description"] = ""
	}
	if !payload.Has("isDefault") {
		payload["isDefault"] = false
	}
	created, err := s.dst.CreateRole(ctx, payload)
	if err != nil {
		return "", &api.CreateError{Resource: "role", Name: rec.String("name"), Err: err}
	}
	return created.String("id"), nil
}

func (s *roleStrategy) Update(context.Context, record.Record, record.Record, string) error {
	return nil
}

func migrateRoles(ctx context.Context, env *Env) (*bulk.Result, error) {
	permissions, err := env.resolve(ctx, StepPermissions)
	if err != nil {
		return nil, err
	}

	src, err := env.Source.Roles(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := env.Dest.Roles(ctx)
	if err != nil {
		return nil, err
	}
	env.Reporter.Success("Retrieved %d source and %d destination roles", len(src), len(dst))

	// Role keys are unique per account; a repeated source key is the same
	// role listed under another tenant and maps to the same destination
	// role.
	first := make(map[string]string, len(src))
	aliases := make(map[string]string)
	unique := src[:0:0]
	for _, r := range src {
		k := r.String("key")
		if id, ok := first[k]; ok {
			env.Log.Debug("duplicate source role key", "key", k, "id", r.String("id"), "same_as", id)
			aliases[r.String("id")] = id
			continue
		}
		first[k] = r.String("id")
		unique = append(unique, r)
	}

	res, err := env.reconcile(StepRoles, unique, dst, env.keyFor(StepRoles), nil)
	if err != nil {
		return nil, err
	}

	strategy := &roleStrategy{dst: env.Dest, fields: env.Policy.Entity(StepRoles).Create}
	ids, out, err := env.apply(ctx, strategy, res, unique)
	for alias, id := range aliases {
		if destID, ok := ids.Lookup(id); ok {
			ids.Set(alias, destID)
		}
	}
	env.Registry.Seal(StepRoles, ids)
	if err != nil {
		env.summarize("Role Summary", out)
		return out, err
	}

	err = assignRolePermissions(ctx, env, res, unique, ids, permissions, out)
	env.summarize("Role Summary", out)
	return out, err
}

// assignRolePermissions grants each newly created role the destination
// counterparts of its source permissions. Permissions missing from the
// destination are left out, so every assigned id exists there. Only an
// authentication failure is returned.
func assignRolePermissions(ctx context.Context, env *Env, res reconcile.Result, roles []record.Record, ids, permissions reconcile.IDMap, out *bulk.Result) error {
	rm := remap.New(StepPermissions, permissions, env.Log)

	for _, c := range res.Classifications {
		if c.Kind != reconcile.ToCreate {
			continue
		}
		role := roles[c.Index]
		destID, ok := ids.Lookup(c.SourceID)
		if !ok {
			continue
		}
		permIDs := rm.IDs(role.Strings("permissions"))
		if len(permIDs) == 0 {
			env.Log.Debug("no permissions to assign", "role", role.String("key"))
			continue
		}
		if !env.write("assign permissions", "role", role.String("key"), "count", len(permIDs)) {
			continue
		}
		if err := env.Dest.SetRolePermissions(ctx, destID, role.String("tenantId"), permIDs); err != nil {
			err = &api.UpdateError{Resource: "role permissions", Name: role.String("name"), Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(role.String("key"), err)
			if api.IsAuth(err) {
				return err
			}
			continue
		}
		env.Log.Info("assigned permissions", "role", role.String("key"), "count", len(permIDs))
	}
	return nil
}
