// Package reconcile classifies source records against destination state by
// natural key. It performs no I/O.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lherron/acctmigrate/internal/record"
)

// Key is a natural key: a field combination stable across instances.
type Key string

// KeyFunc extracts a natural key. It must be deterministic.
type KeyFunc func(record.Record) Key

// DiffFunc returns the fields that differ between a source record and its
// destination counterpart. Nil means the entity type never updates in place.
type DiffFunc func(src, dst record.Record) []string

// Kind is the outcome for one source record.
type Kind int

const (
	Matched Kind = iota
	ToCreate
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Matched:
		return "matched"
	case ToCreate:
		return "create"
	case Conflict:
		return "conflict"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Classification is the decision for the source record at Index.
type Classification struct {
	Kind     Kind
	Index    int
	Key      Key
	SourceID string
	DestID   string
	Diff     []string
}

// Duplicate describes a natural key shared by several destination records.
// DestIDs[0] is the record that was matched.
type Duplicate struct {
	Key     Key
	DestIDs []string
}

// Result is the output of Reconcile.
type Result struct {
	// Classifications are in source order.
	Classifications []Classification
	// Duplicates lists destination keys that were not unique.
	Duplicates []Duplicate
	// Dest indexes destination records by key (first occurrence wins).
	Dest map[Key]record.Record
}

// Count returns the number of classifications of the given kind.
func (r Result) Count(kind Kind) int {
	n := 0
	for _, c := range r.Classifications {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// DuplicateKeyError is returned by Result.Strict when duplicates exist.
type DuplicateKeyError struct {
	Duplicates []Duplicate
}

func (e *DuplicateKeyError) Error() string {
	keys := make([]string, len(e.Duplicates))
	for i, d := range e.Duplicates {
		keys[i] = fmt.Sprintf("%q (%s)", string(d.Key), strings.Join(d.DestIDs, ", "))
	}
	return fmt.Sprintf("destination has %d duplicate natural key(s): %s", len(e.Duplicates), strings.Join(keys, "; "))
}

// Strict returns a *DuplicateKeyError if the destination keys were not
// unique.
func (r Result) Strict() error {
	if len(r.Duplicates) == 0 {
		return nil
	}
	return &DuplicateKeyError{Duplicates: r.Duplicates}
}

type options struct {
	id func(record.Record) string
}

// Option adjusts Reconcile.
type Option func(*options)

// WithIDField reads record identifiers from field instead of "id".
func WithIDField(field string) Option {
	return func(o *options) {
		o.id = func(r record.Record) string { return r.String(field) }
	}
}

// Reconcile classifies each source record:
//
//   - no destination record with the same key: ToCreate
//   - same key and diff is nil: Matched
//   - same key and diff reports fields: Conflict, otherwise Matched
//
// Destination records sharing a key are reported in Result.Duplicates and
// the first one in destination order is used for matching. Destination
// records with an empty key are ignored.
func Reconcile(src, dst []record.Record, key KeyFunc, diff DiffFunc, opts ...Option) Result {
	o := options{id: func(r record.Record) string { return r.String("id") }}
	for _, opt := range opts {
		opt(&o)
	}

	index := make(map[Key]record.Record, len(dst))
	seen := make(map[Key][]string)
	for _, d := range dst {
		k := key(d)
		if k == "" {
			continue
		}
		seen[k] = append(seen[k], o.id(d))
		if _, ok := index[k]; !ok {
			index[k] = d
		}
	}

	var dups []Duplicate
	for k, ids := range seen {
		if len(ids) > 1 {
			dups = append(dups, Duplicate{Key: k, DestIDs: ids})
		}
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i].Key < dups[j].Key })

	out := make([]Classification, 0, len(src))
	for i, s := range src {
		k := key(s)
		c := Classification{Index: i, Key: k, SourceID: o.id(s)}

		d, ok := index[k]
		switch {
		case k == "" || !ok:
			c.Kind = ToCreate
		case diff == nil:
			c.Kind = Matched
			c.DestID = o.id(d)
		default:
			c.DestID = o.id(d)
			if fields := diff(s, d); len(fields) > 0 {
				c.Kind = Conflict
				c.Diff = fields
			} else {
				c.Kind = Matched
			}
		}
		out = append(out, c)
	}

	return Result{Classifications: out, Duplicates: dups, Dest: index}
}

// FieldDiff builds a DiffFunc comparing the listed fields.
func FieldDiff(fields []string) DiffFunc {
	return func(src, dst record.Record) []string {
		return record.DiffFields(src, dst, fields)
	}
}

// FieldKey builds a KeyFunc joining the listed fields with a unit separator.
func FieldKey(fields ...string) KeyFunc {
	return func(r record.Record) Key {
		if len(fields) == 1 {
			return Key(r.String(fields[0]))
		}
		parts := make([]string, len(fields))
		empty := true
		for i, f := range fields {
			parts[i] = r.String(f)
			if parts[i] != "" {
				empty = false
			}
		}
		if empty {
			return ""
		}
		return Key(strings.Join(parts, "\x1f"))
	}
}
