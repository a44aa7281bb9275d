// Package migrate implements one step per migrated entity type. Steps share
// an Env holding both instances, the reconciliation policy and the
// identifier mappings built so far in the run.
package migrate

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/policy"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/render"
)

// DefaultDataDir holds the operator-prepared CSV files.
const DefaultDataDir = "account_data"

// Env is the shared state of one run.
type Env struct {
	Source *platform.Platform
	Dest   *platform.Platform

	Policy   *policy.Policy
	Registry *reconcile.Registry
	Reporter *logging.Reporter
	Log      logging.Logger

	// DataDir is where the CSV inputs live and final_data.csv is written.
	DataDir string

	// StrictKeys turns duplicate destination keys into a step failure.
	StrictKeys bool

	// MigrateUserRoles adds destination role ids to the user import.
	MigrateUserRoles bool

	// DryRun reconciles and reports without writing to the destination.
	DryRun bool

	// Diff receives unified diffs of conflicting records in dry runs.
	Diff io.Writer

	users *Directory
}

// NewEnv fills in defaults for unset fields.
func NewEnv(src, dst *platform.Platform, pol *policy.Policy, rep *logging.Reporter) *Env {
	if pol == nil {
		pol = policy.Default()
	}
	if rep == nil {
		rep = logging.NewReporter(io.Discard, nil)
	}
	return &Env{
		Source:   src,
		Dest:     dst,
		Policy:   pol,
		Registry: reconcile.NewRegistry(),
		Reporter: rep,
		Log:      rep.Logger().Module("migrate"),
		DataDir:  DefaultDataDir,
		Diff:     io.Discard,
	}
}

// Users returns the run's user directory, creating it on first use.
func (e *Env) Users() *Directory {
	if e.users == nil {
		e.users = NewDirectory(e.Source, e.Dest, e.Log)
	}
	return e.users
}

func (e *Env) dataFile(name string) string {
	return filepath.Join(e.DataDir, name)
}

// reconcile classifies src against dst and reports duplicate destination
// keys. With StrictKeys set, duplicates fail the step before any write.
func (e *Env) reconcile(entity string, src, dst []record.Record, key reconcile.KeyFunc, diff reconcile.DiffFunc, opts ...reconcile.Option) (reconcile.Result, error) {
	res := reconcile.Reconcile(src, dst, key, diff, opts...)
	for _, d := range res.Duplicates {
		e.Reporter.Warning("destination has %d %s records with key %q (%s); using the first",
			len(d.DestIDs), entity, displayKey(d.Key), strings.Join(d.DestIDs, ", "))
	}
	if e.StrictKeys {
		if err := res.Strict(); err != nil {
			return res, err
		}
	}
	e.Log.Debug("reconciled", "entity", entity,
		"matched", res.Count(reconcile.Matched),
		"create", res.Count(reconcile.ToCreate),
		"conflict", res.Count(reconcile.Conflict))
	return res, nil
}

// apply hands the classification to bulk.Apply, or in a dry run reports
// what would happen.
func (e *Env) apply(ctx context.Context, s bulk.Strategy, res reconcile.Result, src []record.Record) (reconcile.IDMap, *bulk.Result, error) {
	if e.DryRun {
		ids, out := e.plan(s, res, src)
		return ids, out, nil
	}
	return bulk.Apply(ctx, s, res, src, e.Reporter)
}

func (e *Env) plan(s bulk.Strategy, res reconcile.Result, src []record.Record) (reconcile.IDMap, *bulk.Result) {
	ids := make(reconcile.IDMap)
	out := &bulk.Result{Resource: s.Resource(), Total: len(res.Classifications)}
	r := render.NewRenderer(e.Diff, render.Options{})

	for _, c := range res.Classifications {
		rec := src[c.Index]
		label := s.Label(rec)
		switch c.Kind {
		case reconcile.Matched:
			ids.Set(c.SourceID, c.DestID)
			out.Skipped++
		case reconcile.ToCreate:
			out.Created++
			e.Reporter.Logger().Info("would create", "resource", s.Resource(), "item", label)
		case reconcile.Conflict:
			ids.Set(c.SourceID, c.DestID)
			out.Updated++
			dest := res.Dest[c.Key]
			if err := r.RenderFieldDiff(s.Resource()+" "+label, dest.Pick(c.Diff...), rec.Pick(c.Diff...)); err != nil {
				e.Log.Warn("failed to render diff", "item", label, "error", err)
			}
		}
	}
	return ids, out
}

// write reports whether a destination write outside bulk.Apply may proceed.
// In a dry run it logs the intended action instead.
func (e *Env) write(action string, args ...any) bool {
	if !e.DryRun {
		return true
	}
	e.Reporter.Logger().Info("would "+action, args...)
	return false
}

func displayKey(k reconcile.Key) string {
	return strings.ReplaceAll(string(k), "\x1f", " / ")
}
