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

type categoryStrategy struct {
	dst    *platform.Platform
	fields []string
}

func (s *categoryStrategy) Resource() string { return "category" }

func (s *categoryStrategy) Label(rec record.Record) string { return rec.String("name") }

func (s *categoryStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	payload := rec.Pick(s.fields...)
	if !payload.Has("description") {
		payload["description"] = ""
	}
	created, err := s.dst.CreateCategory(ctx, payload)
	if err != nil {
		return "", &api.CreateError{Resource: "category", Name: rec.String("name"), Err: err}
	}
	return created.String("id"), nil
}

func (s *categoryStrategy) Update(context.Context, record.Record, record.Record, string) error {
	return nil
}

func migrateCategories(ctx context.Context, env *Env) (*bulk.Result, error) {
	src, err := env.Source.Categories(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := env.Dest.Categories(ctx)
	if err != nil {
		return nil, err
	}
	env.Reporter.Success("Retrieved %d source and %d destination categories", len(src), len(dst))

	res, err := env.reconcile(StepCategories, src, dst, env.keyFor(StepCategories), nil)
	if err != nil {
		return nil, err
	}

	strategy := &categoryStrategy{dst: env.Dest, fields: env.Policy.Entity(StepCategories).Create}
	ids, out, err := env.apply(ctx, strategy, res, src)
	env.Registry.Seal(StepCategories, ids)
	env.summarize("Category Summary", out)
	return out, err
}

type permissionStrategy struct {
	dst       *platform.Platform
	fields    []string
	batchSize int
}

func (s *permissionStrategy) Resource() string { return "permission" }

func (s *permissionStrategy) Label(rec record.Record) string { return rec.String("key") }

func (s *permissionStrategy) Create(ctx context.Context, rec record.Record) (string, error) {
	ids, err := s.CreateBatch(ctx, []record.Record{rec})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *permissionStrategy) Update(context.Context, record.Record, record.Record, string) error {
	return nil
}

func (s *permissionStrategy) BatchSize() int { return s.batchSize }

// CreateBatch posts the batch and aligns the created ids by key. When the
// server does not echo the created permissions, the destination is re-read.
func (s *permissionStrategy) CreateBatch(ctx context.Context, recs []record.Record) ([]string, error) {
	payload := make([]record.Record, len(recs))
	for i, r := range recs {
		payload[i] = r.Pick(s.fields...)
		if !payload[i].Has("description") {
			payload[i]["description"] = ""
		}
	}

	created, err := s.dst.CreatePermissions(ctx, payload)
	if err != nil {
		name := recs[0].String("key")
		if len(recs) > 1 {
			name += "…"
		}
		return nil, &api.CreateError{Resource: "permission batch", Name: name, Err: err}
	}
	if len(created) == 0 {
		if created, err = s.dst.Permissions(ctx); err != nil {
			return nil, err
		}
	}

	byKey := make(map[string]string, len(created))
	for _, c := range created {
		byKey[c.String("key")] = c.String("id")
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = byKey[r.String("key")]
	}
	return ids, nil
}

func migratePermissions(ctx context.Context, env *Env) (*bulk.Result, error) {
	categories, err := env.resolve(ctx, StepCategories)
	if err != nil {
		return nil, err
	}

	src, err := env.Source.Permissions(ctx)
	if err != nil {
		return nil, err
	}
	dst, err := env.Dest.Permissions(ctx)
	if err != nil {
		return nil, err
	}
	env.Reporter.Success("Retrieved %d source and %d destination permissions", len(src), len(dst))

	var keyed []record.Record
	dropped := 0
	for _, p := range src {
		if p.String("key") == "" {
			dropped++
			continue
		}
		keyed = append(keyed, p)
	}

	res, err := env.reconcile(StepPermissions, keyed, dst, env.keyFor(StepPermissions), nil)
	if err != nil {
		return nil, err
	}

	// Existing permissions resolve by key whatever their category. A
	// permission can only be created under a category that exists in the
	// destination.
	rm := remap.New(StepCategories, categories, env.Log)
	unplaced := 0
	kept := res.Classifications[:0:0]
	for _, c := range res.Classifications {
		if c.Kind != reconcile.ToCreate {
			kept = append(kept, c)
			continue
		}
		mapped := rm.Field(keyed[c.Index], "categoryId")
		if !mapped.Has("categoryId") {
			env.Log.Debug("no destination category for permission, skipping",
				"permission", mapped.String("key"), "category_id", keyed[c.Index].String("categoryId"))
			unplaced++
			continue
		}
		keyed[c.Index] = mapped
		kept = append(kept, c)
	}
	res.Classifications = kept
	if unplaced > 0 {
		env.Reporter.Warning("%d permissions have no destination category and were skipped", unplaced)
	}

	strategy := &permissionStrategy{
		dst:       env.Dest,
		fields:    env.Policy.Entity(StepPermissions).Create,
		batchSize: env.Policy.PermissionBatchSize,
	}
	ids, out, err := env.apply(ctx, strategy, res, keyed)
	out.Total += dropped + unplaced
	out.Skipped += dropped + unplaced
	env.Registry.Seal(StepPermissions, ids)
	env.summarize("Permission Summary", out)
	return out, err
}
