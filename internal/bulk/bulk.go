// Package bulk applies reconciliation decisions to the destination one
// record at a time. A failing record is counted and logged; it never stops
// the batch. Authentication failures are the exception and end it.
package bulk

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/render"
)

// Strategy knows how to write one entity type to the destination.
type Strategy interface {
	// Resource names the entity type ("role", "permission").
	Resource() string

	// Label identifies a record in logs (name, key or email).
	Label(rec record.Record) string

	// Create creates rec and returns its destination id.
	Create(ctx context.Context, rec record.Record) (string, error)

	// Update brings the destination record dest (id destID) in line with
	// src.
	Update(ctx context.Context, src, dest record.Record, destID string) error
}

// BatchCreator is implemented by strategies whose create endpoint accepts
// several records per call.
type BatchCreator interface {
	BatchSize() int

	// CreateBatch returns destination ids aligned with recs. An empty id
	// marks a record the response did not confirm.
	CreateBatch(ctx context.Context, recs []record.Record) ([]string, error)
}

// Result counts the outcome of applying one entity type.
type Result struct {
	Resource string
	Total    int
	Created  int
	Updated  int
	Skipped  int
	Deleted  int
	Failed   int
	Errors   []ItemError
}

// ItemError represents an error for a specific item
type ItemError struct {
	Item  string
	Error error
}

// Fail records a failed item.
func (r *Result) Fail(item string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{Item: item, Error: err})
}

// Add folds other into r.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.Total += other.Total
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Deleted += other.Deleted
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Apply walks the classifications in order. Matched pairs are recorded
// without a call so dependents can still resolve them. An authentication
// failure stops the walk and is returned with the counts so far.
func Apply(ctx context.Context, s Strategy, res reconcile.Result, src []record.Record, rep *logging.Reporter) (reconcile.IDMap, *Result, error) {
	if rep == nil {
		rep = logging.NewReporter(io.Discard, nil)
	}
	ids := make(reconcile.IDMap, len(res.Classifications))
	out := &Result{Resource: s.Resource(), Total: len(res.Classifications)}

	var pending []reconcile.Classification
	work := 0
	for _, c := range res.Classifications {
		if c.Kind != reconcile.Matched {
			work++
		}
	}
	progress := rep.StartProgress(work, "Applying "+s.Resource()+"s")
	defer progress.Done()

	batcher, batched := s.(BatchCreator)

	for _, c := range res.Classifications {
		rec := src[c.Index]
		label := s.Label(rec)

		switch c.Kind {
		case reconcile.Matched:
			ids.Set(c.SourceID, c.DestID)
			out.Skipped++
			rep.Logger().Debug("already exists, skipping", "resource", s.Resource(), "item", label)

		case reconcile.ToCreate:
			if batched {
				pending = append(pending, c)
				if len(pending) >= batcher.BatchSize() {
					if err := createBatch(ctx, batcher, s, pending, src, ids, out, rep, progress); err != nil {
						return ids, out, err
					}
					pending = pending[:0]
				}
				continue
			}
			destID, err := s.Create(ctx, rec)
			progress.Step(label)
			if err != nil {
				out.Fail(label, err)
				rep.Failure("%v", err)
				if api.IsAuth(err) {
					return ids, out, err
				}
				continue
			}
			ids.Set(c.SourceID, destID)
			out.Created++
			rep.Logger().Info("created", "resource", s.Resource(), "item", label, "dest_id", destID)

		case reconcile.Conflict:
			err := s.Update(ctx, rec, res.Dest[c.Key], c.DestID)
			progress.Step(label)
			if err != nil {
				out.Fail(label, err)
				rep.Failure("%v", err)
				if api.IsAuth(err) {
					return ids, out, err
				}
				continue
			}
			ids.Set(c.SourceID, c.DestID)
			out.Updated++
			rep.Logger().Info("updated", "resource", s.Resource(), "item", label, "fields", c.Diff)
		}

		if ctx.Err() != nil {
			break
		}
	}

	if len(pending) > 0 && ctx.Err() == nil {
		if err := createBatch(ctx, batcher, s, pending, src, ids, out, rep, progress); err != nil {
			return ids, out, err
		}
	}

	return ids, out, nil
}

// createBatch posts one batch and steps progress once per record. Only an
// authentication failure is returned; other errors fail every record in
// the batch.
func createBatch(ctx context.Context, b BatchCreator, s Strategy, batch []reconcile.Classification, src []record.Record, ids reconcile.IDMap, out *Result, rep *logging.Reporter, progress *logging.Progress) error {
	recs := make([]record.Record, len(batch))
	for i, c := range batch {
		recs[i] = src[c.Index]
	}

	destIDs, err := b.CreateBatch(ctx, recs)
	for _, rec := range recs {
		progress.Step(s.Label(rec))
	}
	if err != nil {
		for _, rec := range recs {
			out.Fail(s.Label(rec), err)
		}
		rep.Failure("batch of %d %ss failed: %v", len(recs), s.Resource(), err)
		if api.IsAuth(err) {
			return err
		}
		return nil
	}

	for i, c := range batch {
		label := s.Label(recs[i])
		if i >= len(destIDs) || destIDs[i] == "" {
			out.Fail(label, fmt.Errorf("%s %q was not confirmed by the create response", s.Resource(), label))
			continue
		}
		ids.Set(c.SourceID, destIDs[i])
		out.Created++
	}
	rep.Logger().Info("created batch", "resource", s.Resource(), "count", len(recs))
	return nil
}

// ExitCode returns the appropriate exit code for the result
func (r *Result) ExitCode() int {
	if r.Failed == 0 {
		return 0 // All succeeded
	}
	if r.Created+r.Updated+r.Skipped > 0 {
		return 5 // Partial success
	}
	return 1 // All failed
}

// Stats returns the counts as labelled values for a summary table.
func (r *Result) Stats() []render.Stat {
	stats := []render.Stat{
		{Label: "Total", Value: strconv.Itoa(r.Total)},
		{Label: "Created", Value: strconv.Itoa(r.Created)},
		{Label: "Updated", Value: strconv.Itoa(r.Updated)},
		{Label: "Skipped (existing)", Value: strconv.Itoa(r.Skipped)},
		{Label: "Failed", Value: strconv.Itoa(r.Failed)},
	}
	if r.Deleted > 0 {
		stats = append(stats, render.Stat{Label: "Deleted", Value: strconv.Itoa(r.Deleted)})
	}
	return stats
}

// PrintSummary prints a human-readable summary of the result
func (r *Result) PrintSummary(w io.Writer) {
	if r.Failed == 0 {
		fmt.Fprintf(w, "\n✓ %s: all %d handled (%d created, %d updated, %d skipped)\n",
			r.Resource, r.Total, r.Created, r.Updated, r.Skipped)
	} else {
		fmt.Fprintf(w, "\n⚠ %s: %d failed (%d created, %d updated, %d skipped, out of %d)\n",
			r.Resource, r.Failed, r.Created, r.Updated, r.Skipped, r.Total)
	}

	if len(r.Errors) > 0 && len(r.Errors) <= 10 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
		}
	} else if len(r.Errors) > 10 {
		fmt.Fprintf(w, "\nShowing first 10 errors (of %d):\n", len(r.Errors))
		for _, e := range r.Errors[:10] {
			fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
		}
	}
}

// MergePreserved returns src with the preserve fields copied over from dest
// when dest has them.
func MergePreserved(src, dest record.Record, preserve []string) record.Record {
	out := src.Clone()
	for _, f := range preserve {
		if dest.Has(f) {
			out[f] = dest[f]
		}
	}
	return out
}

// Payload projects rec onto the allowed fields, filling defaults for
// allowed fields the record lacks.
func Payload(rec record.Record, allowed []string, defaults map[string]any) record.Record {
	out := rec.Pick(allowed...)
	for k, v := range defaults {
		if !out.Has(k) {
			out[k] = v
		}
	}
	return out
}
