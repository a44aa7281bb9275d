package migrate

import (
	"context"
	"fmt"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/policy"
	"github.com/lherron/acctmigrate/internal/record"
)

const defaultRuntime = "NODE_20"

// migratePrehooks replaces the destination's prehooks with the source's.
// Prehooks have no natural key, so existing destination hooks are removed
// and every source hook is created again.
func migratePrehooks(ctx context.Context, env *Env) (*bulk.Result, error) {
	src, err := env.Source.Prehooks(ctx)
	if err != nil {
		return nil, err
	}
	out := &bulk.Result{Resource: "prehook", Total: len(src)}
	if len(src) == 0 {
		env.Reporter.Warning("No prehooks found in source account")
		return out, nil
	}

	dst, err := env.Dest.Prehooks(ctx)
	if err != nil {
		return nil, err
	}
	if len(dst) > 0 {
		env.Log.Info("deleting existing destination prehooks", "count", len(dst))
		for _, hook := range dst {
			name := hook.String("displayName")
			if !env.write("delete prehook", "prehook", name) {
				out.Deleted++
				continue
			}
			if err := env.Dest.DeletePrehook(ctx, hook.String("id")); err != nil && !api.IsNotFound(err) {
				if api.IsAuth(err) {
					return out, err
				}
				env.Reporter.Warning("Failed to delete prehook %s: %v", name, err)
				continue
			}
			out.Deleted++
		}
	}

	if err := createPrehooks(ctx, env, src, out); err != nil {
		return out, err
	}
	env.summarize("Prehooks Migration Summary", out)
	return out, nil
}

// createPrehooks creates every source hook. Only an authentication failure
// is returned.
func createPrehooks(ctx context.Context, env *Env, src []record.Record, out *bulk.Result) error {
	ent := env.Policy.Entity(StepPrehooks)
	progress := env.Reporter.StartProgress(len(src), "Migrating prehooks")
	defer progress.Done()

	for _, hook := range src {
		name := hook.String("displayName")
		progress.Step(name)

		kind, payload, err := prehookPayload(ctx, env, hook, ent)
		if err != nil {
			env.Reporter.Failure("%v", err)
			out.Fail(name, err)
			if api.IsAuth(err) {
				return err
			}
			continue
		}
		if kind == "" {
			env.Reporter.Warning("Unknown prehook type %q for %s", hook.String("type"), name)
			out.Skipped++
			continue
		}
		if !env.write("create prehook", "prehook", name, "type", payload["type"]) {
			out.Created++
			continue
		}
		if err := env.Dest.CreatePrehook(ctx, kind, payload); err != nil {
			err = &api.CreateError{Resource: "prehook", Name: name, Err: err}
			env.Reporter.Failure("%v", err)
			out.Fail(name, err)
			if api.IsAuth(err) {
				return err
			}
			continue
		}
		out.Created++
		env.Log.Debug("created prehook", "prehook", name, "type", payload["type"])
	}
	return nil
}

// prehookPayload builds the create request for a source hook from the
// policy's allowed fields. An empty kind means the hook type is not
// migratable.
func prehookPayload(ctx context.Context, env *Env, hook record.Record, ent policy.Entity) (string, record.Record, error) {
	payload := record.Record{"id": "create"}
	for _, f := range ent.Create {
		if v, ok := hook[f]; ok && v != nil {
			payload[f] = v
		} else if d, ok := ent.Defaults[f]; ok {
			payload[f] = d
		}
	}
	if payload.Has("eventKeys") {
		keys := hook.Strings("eventKeys")
		payload["eventKeys"] = toAny(keys)
		if len(keys) > 0 {
			payload["eventKey"] = keys[0]
		} else {
			payload["eventKey"] = ""
		}
	}

	switch hook.String("type") {
	case "API":
		payload["type"] = "API"
		return "api", payload, nil
	case "CUSTOM_CODE":
		name := hook.String("displayName")
		executor := hook.String("executorIdentifier")
		if executor == "" {
			return "", nil, fmt.Errorf("custom code prehook %s has no executor id", name)
		}
		code, runtime, err := env.Source.CustomCode(ctx, executor)
		if err != nil {
			return "", nil, err
		}
		if code == "" {
			return "", nil, fmt.Errorf("could not retrieve code for prehook %s", name)
		}
		if runtime == "" {
			runtime = defaultRuntime
		}
		delete(payload, "url")
		delete(payload, "secret")
		payload["type"] = "CUSTOM_CODE"
		payload["code"] = code
		payload["runtime"] = runtime
		return "custom-code", payload, nil
	}
	return "", nil, nil
}
