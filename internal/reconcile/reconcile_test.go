package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/record"
)

func recs(rs ...record.Record) []record.Record { return rs }

func TestReconcileWithoutDiff(t *testing.T) {
	src := recs(
		record.Record{"id": "s1", "key": "admin"},
		record.Record{"id": "s2", "key": "viewer"},
		record.Record{"id": "s3", "key": "editor"},
	)
	dst := recs(
		record.Record{"id": "d1", "key": "editor"},
		record.Record{"id": "d2", "key": "admin", "description": "different"},
	)

	res := Reconcile(src, dst, FieldKey("key"), nil)
	require.Len(t, res.Classifications, 3)

	// source order preserved
	assert.Equal(t, []int{0, 1, 2}, []int{res.Classifications[0].Index, res.Classifications[1].Index, res.Classifications[2].Index})

	assert.Equal(t, Matched, res.Classifications[0].Kind)
	assert.Equal(t, "d2", res.Classifications[0].DestID)
	assert.Equal(t, ToCreate, res.Classifications[1].Kind)
	assert.Equal(t, "", res.Classifications[1].DestID)
	assert.Equal(t, Matched, res.Classifications[2].Kind)
	assert.Equal(t, "d1", res.Classifications[2].DestID)

	assert.Equal(t, 2, res.Count(Matched))
	assert.Equal(t, 1, res.Count(ToCreate))
	assert.Empty(t, res.Duplicates)
}

func TestReconcileWithDiff(t *testing.T) {
	src := recs(
		record.Record{"type": "ResetPassword", "subject": "Reset", "active": true},
		record.Record{"type": "MagicLink", "subject": "Login", "active": true},
	)
	dst := recs(
		record.Record{"id": "t1", "type": "ResetPassword", "subject": "Reset", "active": true},
		record.Record{"id": "t2", "type": "MagicLink", "subject": "Sign in", "active": true},
	)

	res := Reconcile(src, dst, FieldKey("type"), FieldDiff([]string{"subject", "active"}))

	assert.Equal(t, Matched, res.Classifications[0].Kind)
	assert.Equal(t, Conflict, res.Classifications[1].Kind)
	assert.Equal(t, "t2", res.Classifications[1].DestID)
	assert.Equal(t, []string{"subject"}, res.Classifications[1].Diff)
}

// A source record sharing a natural key with a destination record is never
// classified for creation.
func TestSharedKeyNeverCreates(t *testing.T) {
	shapes := []record.Record{
		{"key": "a", "x": 1.0},
		{"key": "b", "x": "y"},
		{"key": "c"},
	}
	for _, diff := range []DiffFunc{nil, FieldDiff([]string{"x"})} {
		var src, dst []record.Record
		for i, r := range shapes {
			s := r.Clone()
			s["id"] = "s"
			src = append(src, s)
			d := record.Record{"key": r["key"], "id": "d", "x": i}
			dst = append(dst, d)
		}
		res := Reconcile(src, dst, FieldKey("key"), diff)
		for _, c := range res.Classifications {
			assert.NotEqual(t, ToCreate, c.Kind, "key %s", c.Key)
		}
	}
}

func TestReconcileCompositeKey(t *testing.T) {
	src := recs(record.Record{"id": "catA", "name": "Billing", "description": "Money"})
	dst := recs(
		record.Record{"id": "catX", "name": "Billing", "description": "Other"},
		record.Record{"id": "catD", "name": "Billing", "description": "Money"},
	)

	res := Reconcile(src, dst, FieldKey("name", "description"), nil)
	assert.Equal(t, Matched, res.Classifications[0].Kind)
	assert.Equal(t, "catD", res.Classifications[0].DestID)
}

func TestReconcileDuplicateDestinationKeys(t *testing.T) {
	src := recs(record.Record{"id": "s1", "key": "admin"})
	dst := recs(
		record.Record{"id": "d1", "key": "admin"},
		record.Record{"id": "d2", "key": "admin"},
	)

	res := Reconcile(src, dst, FieldKey("key"), nil)
	require.Len(t, res.Duplicates, 1)
	assert.Equal(t, Key("admin"), res.Duplicates[0].Key)
	assert.Equal(t, []string{"d1", "d2"}, res.Duplicates[0].DestIDs)

	// first destination record wins
	assert.Equal(t, "d1", res.Classifications[0].DestID)

	err := res.Strict()
	var dke *DuplicateKeyError
	require.True(t, errors.As(err, &dke))
	assert.Contains(t, err.Error(), `"admin" (d1, d2)`)
}

func TestReconcileEmptyKeys(t *testing.T) {
	src := recs(record.Record{"id": "s1"})
	dst := recs(record.Record{"id": "d1"})

	res := Reconcile(src, dst, FieldKey("key"), nil)
	assert.Equal(t, ToCreate, res.Classifications[0].Kind)
	assert.Empty(t, res.Duplicates)
}

func TestReconcileIDField(t *testing.T) {
	src := recs(record.Record{"tenantId": "acme", "name": "Acme"})
	dst := recs(record.Record{"tenantId": "acme", "id": "internal"})

	res := Reconcile(src, dst, FieldKey("tenantId"), nil, WithIDField("tenantId"))
	assert.Equal(t, "acme", res.Classifications[0].SourceID)
	assert.Equal(t, "acme", res.Classifications[0].DestID)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "matched", Matched.String())
	assert.Equal(t, "create", ToCreate.String())
	assert.Equal(t, "conflict", Conflict.String())
}

func TestIDMapAndRegistry(t *testing.T) {
	m := IDMap{}
	m.Set("catA", "catD")
	m.Set("", "x")
	m.Set("y", "")
	assert.Len(t, m, 1)

	id, ok := m.Lookup("catA")
	assert.True(t, ok)
	assert.Equal(t, "catD", id)

	reg := NewRegistry()
	_, ok = reg.Sealed("categories")
	assert.False(t, ok)

	reg.Seal("categories", m)
	got, ok := reg.Sealed("categories")
	require.True(t, ok)
	assert.Equal(t, "catD", got["catA"])
}
