// Package remap rewrites cross-entity references from source identifiers to
// destination identifiers.
package remap

import (
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/reconcile"
	"github.com/lherron/acctmigrate/internal/record"
)

// Remapper substitutes references using the IDMap of the referenced type.
// A reference with no mapping is dropped and logged at debug level; the
// referenced entity may simply not be part of this run.
type Remapper struct {
	entity string
	ids    reconcile.IDMap
	log    logging.Logger
}

// New returns a Remapper for references to entity.
func New(entity string, ids reconcile.IDMap, log logging.Logger) *Remapper {
	if log == nil {
		log = logging.Discard()
	}
	return &Remapper{entity: entity, ids: ids, log: log}
}

// ID maps a single identifier.
func (m *Remapper) ID(srcID string) (string, bool) {
	if srcID == "" {
		return "", false
	}
	id, ok := m.ids.Lookup(srcID)
	if !ok {
		m.log.Debug("dropping unmapped reference", "entity", m.entity, "source_id", srcID)
	}
	return id, ok
}

// IDs maps a list of identifiers, keeping order and dropping unmapped ones.
// The result is never nil.
func (m *Remapper) IDs(srcIDs []string) []string {
	out := make([]string, 0, len(srcIDs))
	for _, s := range srcIDs {
		if id, ok := m.ID(s); ok {
			out = append(out, id)
		}
	}
	return out
}

// Field returns a copy of rec with the scalar reference in field rewritten.
// An unmapped reference removes the field.
func (m *Remapper) Field(rec record.Record, field string) record.Record {
	out := rec.Clone()
	if !rec.Has(field) {
		return out
	}
	if id, ok := m.ID(rec.String(field)); ok {
		out[field] = id
	} else {
		delete(out, field)
	}
	return out
}

// List returns a copy of rec with the list of references in field rewritten.
func (m *Remapper) List(rec record.Record, field string) record.Record {
	out := rec.Clone()
	if !rec.Has(field) {
		return out
	}
	out[field] = m.IDs(rec.Strings(field))
	return out
}
