package migrate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/policy"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

// The destination always keeps one default application, so it cannot be
// deleted while it is the only one. Replacing the destination's
// applications therefore goes through a placeholder:
//
//  1. create the placeholder
//  2. create the source's non-default applications
//  3. delete the applications the destination had before, then the placeholder
//  4. create the source's default application

func migrateApplications(ctx context.Context, env *Env) (*bulk.Result, error) {
	src, err := env.Source.Applications(ctx)
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		env.Reporter.Warning("No applications found to migrate")
		return &bulk.Result{Resource: "application"}, nil
	}
	env.Reporter.Success("Retrieved %d applications from source", len(src))

	dst, err := env.Dest.Applications(ctx)
	if err != nil {
		return nil, err
	}

	var srcDefault record.Record
	var others []record.Record
	for _, app := range src {
		if app.Bool("isDefault", false) && srcDefault == nil {
			srcDefault = app
		} else {
			others = append(others, app)
		}
	}

	res, err := env.reconcile(StepApplications, src, dst, env.keyFor(StepApplications), nil)
	if err != nil {
		return nil, err
	}
	if inSync(res, src, dst) {
		ids := make(reconcile.IDMap)
		for _, c := range res.Classifications {
			ids.Set(c.SourceID, c.DestID)
		}
		env.Registry.Seal(StepApplications, ids)
		env.Reporter.Success("Applications already match the source")
		return &bulk.Result{Resource: "application", Total: len(src), Skipped: len(src)}, nil
	}

	env.Reporter.Subsection("Migration Plan")
	defaultLabel := "no default"
	if srcDefault != nil {
		defaultLabel = "1 default"
	}
	env.Log.Info("application plan",
		"source", fmt.Sprintf("%d (%d non-default, %s)", len(src), len(others), defaultLabel),
		"destination_to_remove", len(dst))

	m := &appMigrator{env: env, dst: env.Dest, ent: env.Policy.Entity(StepApplications), ids: make(reconcile.IDMap)}
	out := &bulk.Result{Resource: "application", Total: len(src)}

	var placeholder string
	if srcDefault != nil && len(dst) > 0 {
		placeholder = m.createPlaceholder(ctx, env.Policy.Placeholder)
	}

	if len(others) > 0 {
		env.Reporter.Subsection("Migrating Non-Default Applications")
		progress := env.Reporter.StartProgress(len(others), "Creating non-default applications")
		for _, app := range others {
			progress.Step(app.String("name"))
			if err := m.create(ctx, app, out); err != nil {
				progress.Done()
				env.Registry.Seal(StepApplications, m.ids)
				return out, err
			}
		}
		progress.Done()
	}

	if srcDefault != nil {
		if len(dst) > 0 {
			env.Reporter.Subsection("Removing Destination Applications")
			for _, app := range dst {
				if err := m.remove(ctx, app.String("id"), app.String("name"), out); err != nil {
					env.Registry.Seal(StepApplications, m.ids)
					return out, err
				}
			}
			if placeholder != "" {
				if err := m.delete(ctx, placeholder); err != nil {
					env.Reporter.Warning("Placeholder application %s remains: %v", placeholder, err)
				} else {
					env.Log.Debug("deleted placeholder application", "id", placeholder)
				}
			}
		}

		env.Reporter.Subsection("Migrating Source Default Application")
		if err := m.create(ctx, srcDefault, out); err != nil {
			env.Registry.Seal(StepApplications, m.ids)
			return out, err
		}
	}

	env.Registry.Seal(StepApplications, m.ids)
	env.summarize("Applications Migration Summary", out)
	return out, nil
}

// inSync reports whether the destination already holds exactly the
// source's applications with the same default.
func inSync(res reconcile.Result, src, dst []record.Record) bool {
	if len(src) != len(dst) || res.Count(reconcile.Matched) != len(src) {
		return false
	}
	for _, c := range res.Classifications {
		if src[c.Index].Bool("isDefault", false) != res.Dest[c.Key].Bool("isDefault", false) {
			return false
		}
	}
	return true
}

type appMigrator struct {
	env *Env
	dst *platform.Platform
	ent policy.Entity
	ids reconcile.IDMap
}

// create creates app in the destination. Only an authentication failure is
// returned; other failures are counted in out.
func (m *appMigrator) create(ctx context.Context, app record.Record, out *bulk.Result) error {
	name := app.String("name")
	payload := bulk.Payload(app, m.ent.Create, m.ent.Defaults)
	for _, optional := range []string{"logoURL", "description", "metadata"} {
		if payload.String(optional) == "" {
			delete(payload, optional)
		}
	}

	if !m.env.write("create application", "application", name) {
		out.Created++
		return nil
	}
	id, err := m.dst.CreateApplication(ctx, payload)
	if err != nil {
		err = &api.CreateError{Resource: "application", Name: name, Err: err}
		m.env.Reporter.Failure("%v", err)
		out.Fail(name, err)
		if api.IsAuth(err) {
			return err
		}
		return nil
	}
	m.ids.Set(app.String("id"), id)
	out.Created++
	m.env.Reporter.Success("Created application: %s (ID: %s)", name, id)
	return nil
}

func (m *appMigrator) createPlaceholder(ctx context.Context, p policy.Placeholder) string {
	payload := record.Record{
		"name":          fmt.Sprintf("%s %s", p.Name, uuid.NewString()[:8]),
		"appURL":        p.AppURL,
		"loginURL":      p.AppURL + "/login",
		"accessType":    "FREE_ACCESS",
		"isActive":      true,
		"type":          "web",
		"frontendStack": "react",
		"description":   "Temporary app for deletion process",
	}
	if !m.env.write("create placeholder application") {
		return ""
	}
	id, err := m.dst.CreateApplication(ctx, payload)
	if err != nil {
		m.env.Reporter.Warning("Could not create placeholder application, the destination default may not be deletable: %v", err)
		return ""
	}
	m.env.Log.Debug("created placeholder application", "id", id, "name", payload["name"])
	return id
}

// remove deletes a pre-existing destination application. A failure is
// reported and the migration continues unless it is an authentication
// failure.
func (m *appMigrator) remove(ctx context.Context, id, name string, out *bulk.Result) error {
	if !m.env.write("delete application", "application", name) {
		out.Deleted++
		return nil
	}
	if err := m.delete(ctx, id); err != nil {
		if api.IsAuth(err) {
			return err
		}
		m.env.Reporter.Warning("Failed to delete %s, continuing: %v", name, err)
		return nil
	}
	out.Deleted++
	m.env.Reporter.Success("Deleted destination application: %s", name)
	return nil
}

func (m *appMigrator) delete(ctx context.Context, id string) error {
	if !m.env.write("delete application", "id", id) {
		return nil
	}
	err := m.dst.DeleteApplication(ctx, id)
	if err != nil && api.StatusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}
