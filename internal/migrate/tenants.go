package migrate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

type tenantStrategy struct {
	dst    *platform.Platform
	fields []string
}

func (s *tenantStrategy) Resource() string { return "tenant" }

func (s *tenantStrategy) Label(rec record.Record) string { return rec.String("tenantId") }

func (s *tenantStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	id := rec.String("tenantId")
	if err := s.dst.CreateTenant(ctx, rec.Pick(s.fields...)); err != nil {
		return "", &api.CreateError{Resource: "tenant", Name: id, Err: err}
	}
	return id, nil
}

func (s *tenantStrategy) Update(context.Context, record.Record, record.Record, string) error {
	return nil
}

func migrateTenants(ctx context.Context, env *Env) (*bulk.Result, error) {
	src, err := env.Source.Tenants(ctx)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		env.Reporter.Warning("No tenants found to migrate")
		return &bulk.Result{Resource: "tenant"}, nil
	}
	env.Reporter.Success("Retrieved %d tenants from source", len(src))

	dst, err := env.Dest.Tenants(ctx)
	if err != nil {
		return nil, err
	}

	res, err := env.reconcile(StepTenants, src, dst, env.keyFor(StepTenants), nil, reconcile.WithIDField("tenantId"))
	if err != nil {
		return nil, err
	}
	if n := res.Count(reconcile.Matched); n > 0 {
		env.Reporter.Warning("Skipping %d existing tenants", n)
	}

	strategy := &tenantStrategy{dst: env.Dest, fields: env.Policy.Entity(StepTenants).Create}
	ids, out, err := env.apply(ctx, strategy, res, src)
	env.Registry.Seal(StepTenants, ids)
	env.summarize("Tenant Creation Summary", out)
	if err != nil {
		return out, err
	}

	return out, migrateTenantMetadata(ctx, env, src, out)
}

// migrateTenantMetadata copies metadata onto every tenant that has some in
// the source, new or existing. Source metadata is a JSON document stored as
// a string. Only an authentication failure is returned.
func migrateTenantMetadata(ctx context.Context, env *Env, tenants []record.Record, out *bulk.Result) error {
	var withMeta []record.Record
	for _, t := range tenants {
		if t.String("metadata") != "" {
			withMeta = append(withMeta, t)
		}
	}
	if len(withMeta) == 0 {
		return nil
	}

	env.Reporter.Subsection("Migrating Tenant Metadata")
	meta := &bulk.Result{Resource: "tenant metadata", Total: len(withMeta)}
	progress := env.Reporter.StartProgress(len(withMeta), "Updating metadata")
	defer func() {
		env.Reporter.Stats("Metadata Migration Summary", meta.Stats())
		out.Updated += meta.Updated
		out.Failed += meta.Failed
		out.Errors = append(out.Errors, meta.Errors...)
	}()
	defer progress.Done()

	for _, t := range withMeta {
		id := t.String("tenantId")
		progress.Step(id)

		value, err := parseMetadata(t["metadata"])
		if err != nil {
			env.Reporter.Warning("Invalid metadata for tenant %s", id)
			meta.Fail(id, err)
			continue
		}
		if !env.write("set tenant metadata", "tenant", id) {
			meta.Updated++
			continue
		}
		if err := env.Dest.SetTenantMetadata(ctx, id, value); err != nil {
			err = &api.UpdateError{Resource: "tenant metadata", Name: id, Err: err}
			env.Reporter.Failure("%v", err)
			meta.Fail(id, err)
			if api.IsAuth(err) {
				return err
			}
			continue
		}
		meta.Updated++
	}
	return nil
}

func parseMetadata(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return nil, fmt.Errorf("metadata is not valid JSON: %w", err)
	}
	return parsed, nil
}
