package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/migrate"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/render"
	"github.com/lherron/acctmigrate/internal/testutil"
)

type fixture struct {
	src, dst *testutil.FakePlatform
	env      *migrate.Env
	out      *bytes.Buffer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	src := testutil.NewFakePlatform(t, "source")
	dst := testutil.NewFakePlatform(t, "destination")
	var out bytes.Buffer
	env := migrate.NewEnv(src.Platform(nil), dst.Platform(nil), nil, logging.NewReporter(&out, logging.Discard()))
	env.DataDir = t.TempDir()
	return &fixture{src: src, dst: dst, env: env, out: &out}
}

func only(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(step string) bool { return set[step] }
}

func TestRunEnabledStepsInOrder(t *testing.T) {
	f := setup(t)
	f.src.Tenants = []record.Record{{"id": "x1", "tenantId": "acme", "name": "Acme"}}
	f.src.Roles = []record.Record{{"id": "r1", "key": "viewer", "name": "Viewer"}}

	var seen []string
	o := New(f.env, Options{
		Enabled: only(migrate.StepTenants, migrate.StepRoles),
		OnStep:  func(s Summary) { seen = append(seen, s.Name) },
	})
	assert.Equal(t, StateIdle, o.State())

	report := o.Run(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, StateDone, o.State())
	assert.Equal(t, ExitOK, report.ExitCode())

	require.Len(t, report.Summaries, len(migrate.Steps()))
	assert.Len(t, seen, len(migrate.Steps()))
	for _, s := range report.Summaries {
		switch s.Name {
		case migrate.StepTenants, migrate.StepRoles:
			assert.Equal(t, domain.StepOK, s.Status, s.Name)
			assert.Equal(t, 1, s.Result.Created, s.Name)
		default:
			assert.Equal(t, domain.StepSkipped, s.Status, s.Name)
			assert.Nil(t, s.Result, s.Name)
		}
	}
	assert.Equal(t, 1, report.Summaries[0].Position)
	assert.Equal(t, migrate.StepTenants, report.Summaries[0].Name)
	assert.Len(t, f.dst.Tenants, 1)
	assert.Len(t, f.dst.Roles, 1)
}

func TestRunAuthFailureIsTerminal(t *testing.T) {
	f := setup(t)
	f.dst.RejectAuth = true
	f.src.Tenants = []record.Record{{"id": "x1", "tenantId": "acme", "name": "Acme"}}

	o := New(f.env, Options{Enabled: only(migrate.StepTenants)})
	report := o.Run(context.Background())

	assert.Equal(t, StateAuthFailed, report.State)
	assert.True(t, api.IsAuth(report.Err))
	assert.Equal(t, ExitFatal, report.ExitCode())
	assert.Empty(t, report.Summaries)
	assert.Zero(t, f.dst.Writes())
	assert.Zero(t, f.src.Calls("GET /tenants/resources/tenants/v2"))
	assert.Contains(t, f.out.String(), "authentication failed for destination")
}

func TestRunTokenRefreshRejectedMidStep(t *testing.T) {
	f := setup(t)
	f.src.Tenants = []record.Record{
		{"id": "x1", "tenantId": "acme", "name": "Acme"},
		{"id": "x2", "tenantId": "globex", "name": "Globex"},
		{"id": "x3", "tenantId": "initech", "name": "Initech"},
	}
	// Login, the tenant listing and the first create succeed; the next
	// refresh is rejected.
	f.dst.TokenTTL = 1
	f.dst.AuthLimit = 3

	o := New(f.env, Options{Enabled: only(migrate.StepTenants, migrate.StepRoles)})
	report := o.Run(context.Background())

	assert.Equal(t, StateAuthFailed, report.State)
	assert.True(t, api.IsAuth(report.Err))
	assert.Equal(t, ExitFatal, report.ExitCode())
	require.Len(t, report.Summaries, 1, "no step runs after the auth failure")
	assert.Equal(t, domain.StepAborted, report.Summaries[0].Status)
	assert.Equal(t, 1, report.Summaries[0].Result.Created)
	assert.Len(t, f.dst.Tenants, 1)
	assert.Zero(t, f.dst.Calls("GET /identity/resources/roles/v2"))
}

func TestRunWithNothingEnabledSkipsAuthentication(t *testing.T) {
	f := setup(t)
	report := New(f.env, Options{}).Run(context.Background())

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Zero(t, f.src.Calls("POST /auth/vendor"))
	assert.Zero(t, f.dst.Calls("POST /auth/vendor"))
	for _, s := range report.Summaries {
		assert.Equal(t, domain.StepSkipped, s.Status)
	}
}

func TestRunAbortedStepDoesNotStopRun(t *testing.T) {
	f := setup(t)
	steps := []migrate.Step{
		{Name: "broken", Title: "Broken", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
			return nil, &api.FetchError{Resource: "roles", Err: errors.New("boom")}
		}},
		{Name: "fine", Title: "Fine", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
			return &bulk.Result{Resource: "fine", Total: 1, Created: 1}, nil
		}},
	}

	report := New(f.env, Options{Steps: steps, Enabled: only("broken", "fine")}).Run(context.Background())
	require.Len(t, report.Summaries, 2)
	assert.Equal(t, domain.StepAborted, report.Summaries[0].Status)
	assert.Contains(t, report.Summaries[0].Step().Error, "boom")
	assert.Equal(t, domain.StepOK, report.Summaries[1].Status)
	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, ExitPartial, report.ExitCode())
}

func TestRunPartialStepReportsFailures(t *testing.T) {
	f := setup(t)
	res := &bulk.Result{Resource: "role", Total: 2, Created: 1}
	res.Fail("Auditor", &api.CreateError{Resource: "role", Name: "Auditor",
		Err: &api.HTTPError{Method: "POST", URL: "/roles", Status: 409}})
	steps := []migrate.Step{{Name: "roles", Title: "Roles", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
		return res, nil
	}}}

	report := New(f.env, Options{Steps: steps, Enabled: only("roles")}).Run(context.Background())
	require.Len(t, report.Summaries, 1)
	sum := report.Summaries[0]
	assert.Equal(t, domain.StepPartial, sum.Status)
	assert.Equal(t, ExitPartial, report.ExitCode())

	failures := sum.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "roles", failures[0].Step)
	assert.Equal(t, "Auditor", failures[0].Item)
	assert.Equal(t, 409, failures[0].Status)

	step := sum.Step()
	assert.Equal(t, 1, step.Created)
	assert.Equal(t, 1, step.Failed)
	assert.NoError(t, step.Validate())
}

func TestRunAuthErrorMidRunStops(t *testing.T) {
	f := setup(t)
	ran := false
	steps := []migrate.Step{
		{Name: "first", Title: "First", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
			return nil, &api.AuthError{Instance: "source", Err: errors.New("token refresh rejected")}
		}},
		{Name: "second", Title: "Second", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
			ran = true
			return &bulk.Result{}, nil
		}},
	}

	report := New(f.env, Options{Steps: steps, Enabled: only("first", "second")}).Run(context.Background())
	assert.False(t, ran)
	assert.Equal(t, StateAuthFailed, report.State)
	assert.Equal(t, ExitFatal, report.ExitCode())
	require.Len(t, report.Summaries, 1)
	assert.Equal(t, domain.StepAborted, report.Summaries[0].Status)
}

func TestRunCancelledContextEndsRun(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	steps := []migrate.Step{
		{Name: "first", Title: "First", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
			cancel()
			return &bulk.Result{}, nil
		}},
		{Name: "second", Title: "Second", Run: func(context.Context, *migrate.Env) (*bulk.Result, error) {
			t.Fatal("second step should not run")
			return nil, nil
		}},
	}

	// cancelled after authentication, while the first step runs
	report := New(f.env, Options{Steps: steps, Enabled: only("first", "second")}).Run(ctx)
	assert.ErrorIs(t, report.Err, context.Canceled)
	assert.Equal(t, ExitFatal, report.ExitCode())
	assert.Len(t, report.Summaries, 1)
}

func TestWipe(t *testing.T) {
	f := setup(t)
	f.dst.Roles = []record.Record{{"id": "r1", "key": "admin"}}
	f.dst.Prehooks = []record.Record{{"id": "h1", "displayName": "Audit"}}

	report := New(f.env, Options{}).Wipe(context.Background(), migrate.WipeOptions{Roles: true, Prehooks: true})
	require.NoError(t, report.Err)
	assert.Equal(t, ExitOK, report.ExitCode())
	require.Len(t, report.Summaries, 2)
	assert.Equal(t, "role", report.Summaries[0].Name)
	assert.Equal(t, 1, report.Summaries[0].Result.Deleted)
	assert.Empty(t, f.dst.Roles)
	assert.Empty(t, f.dst.Prehooks)
	assert.Zero(t, f.src.Calls("POST /auth/vendor"))
}

func TestWipeAuthFailure(t *testing.T) {
	f := setup(t)
	f.dst.RejectAuth = true
	f.dst.Roles = []record.Record{{"id": "r1", "key": "admin"}}

	report := New(f.env, Options{}).Wipe(context.Background(), migrate.WipeOptions{Roles: true})
	assert.Equal(t, StateAuthFailed, report.State)
	assert.Equal(t, ExitFatal, report.ExitCode())
	assert.Len(t, f.dst.Roles, 1)
}

func TestReportRender(t *testing.T) {
	report := &Report{State: StateDone, Summaries: []Summary{
		{Position: 1, Name: "tenants", Status: domain.StepOK, Result: &bulk.Result{Total: 2, Created: 2}},
		{Position: 2, Name: "categories", Status: domain.StepSkipped},
	}}

	var table bytes.Buffer
	require.NoError(t, report.Render(render.NewRenderer(&table, render.Options{})))
	assert.Contains(t, table.String(), "tenants")
	assert.Contains(t, table.String(), "skipped")

	var js bytes.Buffer
	require.NoError(t, report.Render(render.NewRenderer(&js, render.Options{Format: render.FormatJSON})))
	assert.Contains(t, js.String(), `"name": "tenants"`)
	assert.Contains(t, js.String(), `"created": 2`)
}
