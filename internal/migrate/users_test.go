package migrate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/csvio"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/testutil"
)

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"15551234567.0", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{" 4420 ", "+4420"},
		{"", ""},
		{"nan", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, formatPhone(tt.in))
		})
	}
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, "{}", formatMetadata(""))
	assert.Equal(t, "{}", formatMetadata("   "))
	assert.Equal(t, `{"plan":"pro"}`, formatMetadata(`{ "plan": "pro" }`))
	assert.Equal(t, "not json", formatMetadata("not json"))
}

func TestNormalizeEmail(t *testing.T) {
	// "e" followed by a combining acute accent composes to "é".
	assert.Equal(t, "ren\u00e9@example.com", NormalizeEmail("  Rene\u0301@Example.COM "))
}

func TestUsersImportTransformedCSV(t *testing.T) {
	src, dst := fakes(t)
	src.Users = []record.Record{{"id": "su-1", "email": "ada@example.com", "tenantId": "acme", "roleIds": []any{"sr-admin"}}}
	src.Roles = []record.Record{{"id": "sr-admin", "key": "admin", "name": "Admin"}}
	dst.Roles = []record.Record{{"id": "dr-admin", "key": "administrator", "name": "Admin"}}
	dst.Users = []record.Record{{"id": "du-1", "email": "Existing@Example.com", "tenantId": "acme"}}

	env, _ := newEnv(t, src, dst)
	env.MigrateUserRoles = true
	testutil.WriteFile(t, env.DataDir, fileUserData,
		"email,name,tenantId,password,metadata,phoneNumber\n"+
			`ada@example.com,Ada,acme,$2b$10$hash,"{ ""plan"": ""pro"" }",15551234567.0`+"\n"+
			"bob@example.com,Bob,acme,$2b$10$hash2,,\n"+
			"existing@example.com,Existing,acme,$2b$10$hash3,,\n")

	res := runSteps(t, env, StepUsers)[StepUsers]
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, dst.Imports, 1)

	final, err := csvio.ReadFile(filepath.Join(env.DataDir, fileUserFinal))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name", "tenantId", "password", "metadata", "phoneNumber", "roleIds"}, final.Headers)
	require.Len(t, final.Rows, 2)

	ada := final.Rows[0]
	assert.Equal(t, "ada@example.com", ada["email"])
	assert.Equal(t, `{"plan":"pro"}`, ada["metadata"])
	assert.Equal(t, "+15551234567", ada["phoneNumber"])
	assert.Equal(t, "dr-admin", ada["roleIds"])

	bob := final.Rows[1]
	assert.Equal(t, "{}", bob["metadata"])
	assert.Equal(t, "", bob["phoneNumber"])
	assert.Equal(t, "", bob["roleIds"], "bob is unknown in the source")

	// the uploaded body is the file that was written
	assert.Equal(t, testutil.ReadFile(t, filepath.Join(env.DataDir, fileUserFinal)), dst.Imports[0])
}

func TestUsersAllPresentSkipsImport(t *testing.T) {
	src, dst := fakes(t)
	dst.Users = []record.Record{{"id": "du-1", "email": "ada@example.com"}}

	env, _ := newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileUserData, "email,tenantId\nADA@example.com,acme\n")

	res := runSteps(t, env, StepUsers)[StepUsers]
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, dst.Calls("POST /identity/resources/migrations/v1/local/bulk/csv"))
}

func TestUsersMissingColumnFailsStep(t *testing.T) {
	src, dst := fakes(t)
	env, _ := newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileUserData, "email,name\nada@example.com,Ada\n")

	step, _ := Lookup(StepUsers)
	_, err := step.Run(t.Context(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenantId")
}

func TestBulkInviteGroupsByTenant(t *testing.T) {
	src, dst := fakes(t)
	env, _ := newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileTenantRoles,
		"tenantId,email,id,name\n"+
			"acme,ada@example.com,r-2,Ada\n"+
			"acme,ada@example.com,r-1,Ada\n"+
			"acme,bob@example.com,r-1,Bob\n"+
			"globex,ada@example.com,r-3,Ada\n"+
			"globex,,r-3,Nobody\n")

	res := runSteps(t, env, StepBulkInvite)[StepBulkInvite]
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 2, dst.Calls("POST /identity/resources/users/bulk/v1/invite"))

	require.Len(t, dst.Invites["acme"], 2)
	ada := dst.Invites["acme"][0]
	assert.Equal(t, "ada@example.com", ada.String("email"))
	assert.Equal(t, []string{"r-1", "r-2"}, ada.Strings("roleIds"))
	assert.True(t, ada.Bool("skipInviteEmail", false))
	assert.Len(t, dst.Invites["globex"], 1)
}

func TestAssignRolesByName(t *testing.T) {
	src, dst := fakes(t)
	dst.Users = []record.Record{
		{"id": "du-ada", "email": "ada@example.com", "tenantId": "acme"},
	}

	env, _ := newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileDestRoles, "roleId,name\ndr-1,Admin\ndr-2,Viewer\n")
	testutil.WriteFile(t, env.DataDir, fileRoleAssignments,
		"email,userId,roleId,name,tenantId\n"+
			"ada@example.com,su-1,sr-1,Admin,acme\n"+
			"ada@example.com,su-1,sr-2,Viewer,acme\n"+
			"ada@example.com,su-1,sr-9,Ghost,globex\n"+
			"nobody@example.com,su-2,sr-1,Admin,acme\n")

	res := runSteps(t, env, StepRoleAssignment)[StepRoleAssignment]
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, res.Skipped)

	ada := find(dst.Users, "id", "du-ada")
	assert.Equal(t, []string{"dr-1", "dr-2"}, ada.Strings("roleIds"))
}

func TestGroupsResolveMembersByEmail(t *testing.T) {
	src, dst := fakes(t)
	dst.Users = []record.Record{
		{"id": "du-ada", "email": "ada@example.com", "tenantId": "acme"},
		{"id": "du-bob", "email": "bob@example.com", "tenantId": "globex"},
	}

	env, _ := newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileGroups,
		"tenantId,name,description,userIds,userEmails\n"+
			`acme,Engineering,Builders,"u1,u2","ada@example.com,bob@example.com"`+"\n"+
			"acme,Empty,Nobody here,,\n")

	res := runSteps(t, env, StepGroups)[StepGroups]
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)

	require.Len(t, dst.Groups, 1)
	g := dst.Groups[0]
	assert.Equal(t, "acme", g.String("tenantId"))
	assert.Equal(t, []string{"du-ada"}, g.Strings("userIds"), "bob belongs to another tenant")
}

func TestGroupsSecondRunCreatesNothing(t *testing.T) {
	src, dst := fakes(t)
	dst.Users = []record.Record{{"id": "du-ada", "email": "ada@example.com", "tenantId": "acme"}}
	dst.Groups = []record.Record{{"id": "dg-ops", "name": "Ops", "tenantId": "globex"}}

	groups := "tenantId,name,description,userIds,userEmails\n" +
		"acme,Engineering,Builders,u1,ada@example.com\n" +
		"acme,Ops,Same name as a globex group,u1,ada@example.com\n"

	env, _ := newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileGroups, groups)
	first := runSteps(t, env, StepGroups)[StepGroups]
	assert.Equal(t, 2, first.Created, "a group in another tenant does not match")
	require.Len(t, dst.Groups, 3)

	dst.ResetCalls()
	env, _ = newEnv(t, src, dst)
	testutil.WriteFile(t, env.DataDir, fileGroups, groups)
	second := runSteps(t, env, StepGroups)[StepGroups]

	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, dst.Groups, 3)
	assert.Zero(t, dst.Writes())
	assert.Equal(t, 1, dst.Calls("GET /identity/resources/groups/v1"), "one list per tenant")
}
