package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	require.NoError(t, p.Validate())

	assert.Equal(t, []string{"name", "description"}, p.Entity("categories").Key)
	assert.False(t, p.Entity("roles").Updatable())
	assert.True(t, p.Entity("email_templates").Updatable())
	assert.Equal(t, []string{"action", "enabled", "threshold", "timeWindow", "lockDuration", "challengeType"},
		p.Entity("security_rules").Compare)
	assert.Len(t, p.EmailTemplateTypes, 17)
	assert.Len(t, p.SecurityRules(), 8)
	assert.Equal(t, "Brute Force Protection", p.RuleName("brute-force"))
	assert.Equal(t, "unknown", p.RuleName("unknown"))
	assert.Equal(t, 100, p.PermissionBatchSize)
	assert.Equal(t, "Temporary Dummy App", p.Placeholder.Name)
	assert.Equal(t, "FREE_ACCESS", p.Entity("applications").Defaults["accessType"])
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	err := os.WriteFile(path, []byte(`
entities:
  roles:
    key: [key]
    compare: [description]
    create: [name, key, description]
permission_batch_size: 25
`), 0644)
	require.NoError(t, err)

	p, err := Load(path)
	require.NoError(t, err)

	assert.True(t, p.Entity("roles").Updatable())
	assert.Equal(t, 25, p.PermissionBatchSize)
	// untouched entities keep the built-in rules
	assert.Equal(t, []string{"key"}, p.Entity("permissions").Key)
	assert.Len(t, p.EmailTemplateTypes, 17)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entities: ["), 0644))
	_, err := Load(bad)
	assert.Error(t, err)

	nokey := filepath.Join(dir, "nokey.yaml")
	require.NoError(t, os.WriteFile(nokey, []byte("entities:\n  roles:\n    create: [name]\n"), 0644))
	_, err = Load(nokey)
	assert.ErrorContains(t, err, `"roles" has no key fields`)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.NotNil(t, p.Entity("tenants").Key)
}
