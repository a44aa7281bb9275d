package migrate

import (
	"context"
	"net/http"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

// WipeOptions selects what Wipe deletes from the destination.
type WipeOptions struct {
	Tenants      bool
	Users        bool
	Permissions  bool
	Roles        bool
	Applications bool
	Prehooks     bool
}

// Any reports whether anything is selected.
func (o WipeOptions) Any() bool {
	return o.Tenants || o.Users || o.Permissions || o.Roles || o.Applications || o.Prehooks
}

type wiper struct {
	resource string
	list     func(context.Context) ([]record.Record, error)
	label    func(record.Record) string
	id       func(record.Record) string
	del      func(context.Context, string) error
}

// Wipe deletes the selected resources from env.Dest, one result per
// resource type. Records already gone are counted as deleted. Listing
// failures are recorded on the result and the next type is tried.
func Wipe(ctx context.Context, env *Env, opts WipeOptions) []*bulk.Result {
	dst := env.Dest
	byID := func(r record.Record) string { return r.String("id") }
	var results []*bulk.Result

	if opts.Applications {
		results = append(results, wipeApplications(ctx, env))
	}

	var wipers []wiper
	if opts.Tenants {
		wipers = append(wipers, wiper{"tenant", dst.Tenants,
			func(r record.Record) string { return r.String("name") },
			func(r record.Record) string { return r.String("tenantId") },
			dst.DeleteTenant})
	}
	if opts.Users {
		wipers = append(wipers, wiper{"user", dst.AllUsersWithTenants,
			func(r record.Record) string { return r.String("email") }, byID, dst.DeleteUser})
	}
	if opts.Permissions {
		wipers = append(wipers, wiper{"permission", dst.Permissions,
			func(r record.Record) string { return r.String("key") }, byID, dst.DeletePermission})
	}
	if opts.Roles {
		wipers = append(wipers, wiper{"role", dst.Roles,
			func(r record.Record) string { return r.String("key") }, byID, dst.DeleteRole})
	}
	if opts.Prehooks {
		wipers = append(wipers, wiper{"prehook", dst.Prehooks,
			func(r record.Record) string { return r.String("displayName") }, byID, dst.DeletePrehook})
	}

	for _, w := range wipers {
		if ctx.Err() != nil {
			break
		}
		results = append(results, env.wipe(ctx, w))
	}
	return results
}

func (e *Env) wipe(ctx context.Context, w wiper) *bulk.Result {
	e.Reporter.Section("Deleting " + w.resource + "s")
	out := &bulk.Result{Resource: w.resource}

	recs, err := w.list(ctx)
	if err != nil {
		e.Reporter.Failure("%v", err)
		out.Fail("list", err)
		return out
	}
	out.Total = len(recs)
	if len(recs) == 0 {
		e.Reporter.Success("No %ss to delete", w.resource)
		return out
	}

	progress := e.Reporter.StartProgress(len(recs), "Deleting "+w.resource+"s")
	for _, r := range recs {
		label := w.label(r)
		if label == "" {
			label = w.id(r)
		}
		progress.Step(label)
		if !e.write("delete "+w.resource, w.resource, label) {
			out.Deleted++
			continue
		}
		if err := w.del(ctx, w.id(r)); err != nil && !api.IsNotFound(err) {
			err = &api.DeleteError{Resource: w.resource, Name: label, Err: err}
			e.Reporter.Failure("%v", err)
			out.Fail(label, err)
			continue
		}
		out.Deleted++
	}
	progress.Done()
	e.summarize("Deleted "+w.resource+"s", out)
	return out
}

// wipeApplications deletes every destination application. The placeholder
// is created first so the default application can go too, and is removed
// last.
func wipeApplications(ctx context.Context, env *Env) *bulk.Result {
	env.Reporter.Section("Deleting applications")
	out := &bulk.Result{Resource: "application"}
	m := &appMigrator{env: env, dst: env.Dest, ent: env.Policy.Entity(StepApplications), ids: make(reconcile.IDMap)}

	placeholder := m.createPlaceholder(ctx, env.Policy.Placeholder)

	apps, err := env.Dest.Applications(ctx)
	if err != nil {
		env.Reporter.Failure("%v", err)
		out.Fail("list", err)
		return out
	}

	for _, app := range apps {
		id, name := app.String("id"), app.String("name")
		if id == placeholder {
			continue
		}
		out.Total++
		if !env.write("delete application", "application", name) {
			out.Deleted++
			continue
		}
		err := m.delete(ctx, id)
		switch {
		case err == nil:
			out.Deleted++
		case api.StatusOf(err) == http.StatusBadRequest:
			env.Reporter.Warning("Cannot delete %s, it is the default application", name)
			out.Skipped++
		default:
			err = &api.DeleteError{Resource: "application", Name: name, Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(name, err)
		}
	}

	if placeholder != "" {
		if err := m.delete(ctx, placeholder); err != nil {
			env.Reporter.Warning("Placeholder application %s remains as the default: %v", placeholder, err)
		}
	}
	env.summarize("Deleted applications", out)
	return out
}
