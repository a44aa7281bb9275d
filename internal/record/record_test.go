package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAndAccessors(t *testing.T) {
	r, err := Decode([]byte(`{"id":"r-1","level":3,"isDefault":true,"permissions":["p1",2,"p2"],"meta":{"a":1}}`))
	require.NoError(t, err)

	assert.Equal(t, "r-1", r.String("id"))
	assert.Equal(t, "3", r.String("level"))
	assert.Equal(t, "true", r.String("isDefault"))
	assert.Equal(t, `{"a":1}`, r.String("meta"))
	assert.Equal(t, "", r.String("missing"))
	assert.True(t, r.Bool("isDefault", false))
	assert.True(t, r.Bool("missing", true))
	assert.Equal(t, []string{"p1", "p2"}, r.Strings("permissions"))
	assert.True(t, r.Has("meta"))
	assert.False(t, r.Has("missing"))
}

func TestDecodeAll(t *testing.T) {
	raw := []json.RawMessage{json.RawMessage(`{"id":"a"}`), json.RawMessage(`{"id":"b"}`)}
	recs, err := DecodeAll(raw)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].String("id"))

	_, err = DecodeAll([]json.RawMessage{json.RawMessage(`[`)})
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	orig := Record{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}}
	c := orig.Clone()
	c["tags"].([]any)[0] = "changed"
	c["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", orig["tags"].([]any)[0])
	assert.Equal(t, "v", orig["nested"].(map[string]any)["k"])
}

func TestPickWithoutMerge(t *testing.T) {
	r := Record{"id": "x", "name": "n", "createdAt": "2020"}

	assert.Equal(t, Record{"name": "n"}, r.Pick("name", "absent"))
	assert.Equal(t, Record{"id": "x", "name": "n"}, r.Without("createdAt"))
	assert.Equal(t, Record{"id": "x", "name": "m", "createdAt": "2020", "extra": true},
		r.Merge(Record{"name": "m", "extra": true}))
	// original untouched
	assert.Equal(t, "n", r["name"])
}

func TestDiffFields(t *testing.T) {
	a := Record{"subject": "Hi", "active": true, "threshold": float64(5)}
	b := Record{"subject": "Hello", "active": true, "threshold": float64(5)}

	assert.Equal(t, []string{"subject"}, DiffFields(a, b, []string{"subject", "active", "threshold"}))
	assert.Empty(t, DiffFields(a, a, []string{"subject", "active"}))
	assert.Equal(t, []string{"fromName"}, DiffFields(a, Record{"fromName": "x"}, []string{"fromName"}))
}
