// Package orchestrator drives a migration run: it authenticates both
// instances, runs the enabled steps in their fixed order and collects a
// summary per step.
package orchestrator

import (
	"context"
	"strconv"

	"github.com/lherron/acctmigrate/internal/api"
	"github.com/lherron/acctmigrate/internal/bulk"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/migrate"
	"github.com/lherron/acctmigrate/internal/platform"
	"github.com/lherron/acctmigrate/internal/render"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateRunning        State = "running"
	StateDone           State = "done"
	StateAuthFailed     State = "auth_failed"
)

// Exit codes of a run.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitPartial = 5
)

// Summary is the outcome of one step.
type Summary struct {
	Position int
	Name     string
	Title    string
	Status   domain.StepStatus
	Result   *bulk.Result
	Err      error
}

// Step converts the summary into its journal form.
func (s Summary) Step() domain.Step {
	step := domain.Step{Position: s.Position, Name: s.Name, Status: s.Status}
	if r := s.Result; r != nil {
		step.Total, step.Created, step.Updated = r.Total, r.Created, r.Updated
		step.Skipped, step.Deleted, step.Failed = r.Skipped, r.Deleted, r.Failed
	}
	if s.Err != nil {
		step.Error = s.Err.Error()
	}
	return step
}

// Failures lists the records the step could not write.
func (s Summary) Failures() []domain.Failure {
	if s.Result == nil {
		return nil
	}
	out := make([]domain.Failure, 0, len(s.Result.Errors))
	for _, e := range s.Result.Errors {
		out = append(out, domain.Failure{
			Step:    s.Name,
			Item:    e.Item,
			Status:  api.StatusOf(e.Error),
			Message: e.Error.Error(),
		})
	}
	return out
}

// Report is the outcome of a whole run.
type Report struct {
	State     State
	Summaries []Summary
	// Err is the error that ended the run early, if any.
	Err error
}

// ExitCode is 1 when the run could not complete, 5 when some step was
// partial or aborted, and 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Err != nil || r.State != StateDone {
		return ExitFatal
	}
	for _, s := range r.Summaries {
		if s.Status == domain.StepPartial || s.Status == domain.StepAborted {
			return ExitPartial
		}
	}
	return ExitOK
}

// Steps returns every summary in journal form.
func (r *Report) Steps() []domain.Step {
	out := make([]domain.Step, len(r.Summaries))
	for i, s := range r.Summaries {
		out[i] = s.Step()
	}
	return out
}

// Render writes the per-step table, or the steps as JSON or YAML.
func (r *Report) Render(rr *render.Renderer) error {
	headers := []string{"#", "STEP", "STATUS", "TOTAL", "CREATED", "UPDATED", "SKIPPED", "DELETED", "FAILED"}
	steps := r.Steps()
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		rows = append(rows, []string{
			strconv.Itoa(s.Position), s.Name, string(s.Status),
			strconv.Itoa(s.Total), strconv.Itoa(s.Created), strconv.Itoa(s.Updated),
			strconv.Itoa(s.Skipped), strconv.Itoa(s.Deleted), strconv.Itoa(s.Failed),
		})
	}
	return rr.Render(steps, headers, rows)
}

// Options configures a run.
type Options struct {
	// Enabled reports whether a step's flag is on.
	Enabled func(step string) bool
	// Steps overrides the step list; nil means migrate.Steps().
	Steps []migrate.Step
	// OnStep is called after every step, skipped ones included.
	OnStep func(Summary)
}

// Orchestrator runs steps against an Env.
type Orchestrator struct {
	env   *migrate.Env
	opts  Options
	state State
	log   logging.Logger
}

// New creates an idle orchestrator.
func New(env *migrate.Env, opts Options) *Orchestrator {
	if opts.Enabled == nil {
		opts.Enabled = func(string) bool { return false }
	}
	if opts.Steps == nil {
		opts.Steps = migrate.Steps()
	}
	return &Orchestrator{
		env:   env,
		opts:  opts,
		state: StateIdle,
		log:   env.Reporter.Logger().Module("orchestrator"),
	}
}

// State returns where the orchestrator is.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) anyEnabled() bool {
	for _, s := range o.opts.Steps {
		if o.opts.Enabled(s.Name) {
			return true
		}
	}
	return false
}

// Run authenticates both instances and runs every enabled step. A step
// error is recorded as an aborted step and the run continues; an
// authentication failure or cancellation ends the run.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	report := &Report{}

	if o.anyEnabled() {
		if err := o.authenticate(ctx, o.env.Source, o.env.Dest); err != nil {
			report.State, report.Err = o.state, err
			return report
		}
	} else {
		o.env.Reporter.Warning("No migration step is enabled")
	}

	o.state = StateRunning
	for i, step := range o.opts.Steps {
		sum := Summary{Position: i + 1, Name: step.Name, Title: step.Title}
		if !o.opts.Enabled(step.Name) {
			sum.Status = domain.StepSkipped
			o.finishStep(report, sum)
			continue
		}

		o.env.Reporter.Section(step.Title)
		res, err := step.Run(ctx, o.env)
		sum.Result = res
		switch {
		case err != nil:
			sum.Status, sum.Err = domain.StepAborted, err
			o.env.Reporter.Failure("%s aborted: %v", step.Title, err)
		case res != nil && res.Failed > 0:
			sum.Status = domain.StepPartial
		default:
			sum.Status = domain.StepOK
		}
		o.finishStep(report, sum)

		if err != nil && api.IsAuth(err) {
			o.state = StateAuthFailed
			report.State, report.Err = o.state, err
			return report
		}
		if ctx.Err() != nil {
			report.State, report.Err = o.state, ctx.Err()
			return report
		}
	}

	o.state = StateDone
	report.State = o.state
	return report
}

// Wipe authenticates the destination and deletes the selected resources.
func (o *Orchestrator) Wipe(ctx context.Context, opts migrate.WipeOptions) *Report {
	report := &Report{}
	if !opts.Any() {
		o.env.Reporter.Warning("Nothing selected for deletion")
		o.state = StateDone
		report.State = o.state
		return report
	}
	if err := o.authenticate(ctx, o.env.Dest); err != nil {
		report.State, report.Err = o.state, err
		return report
	}

	o.state = StateRunning
	for i, res := range migrate.Wipe(ctx, o.env, opts) {
		sum := Summary{Position: i + 1, Name: res.Resource, Title: "Delete " + res.Resource, Result: res, Status: domain.StepOK}
		if res.Failed > 0 {
			sum.Status = domain.StepPartial
		}
		o.finishStep(report, sum)
	}

	if err := ctx.Err(); err != nil {
		report.Err = err
	}
	o.state = StateDone
	report.State = o.state
	return report
}

func (o *Orchestrator) authenticate(ctx context.Context, instances ...*platform.Platform) error {
	o.state = StateAuthenticating
	for _, inst := range instances {
		if err := inst.Client().Authenticate(ctx); err != nil {
			o.state = StateAuthFailed
			o.env.Reporter.Failure("%v", err)
			return err
		}
		o.log.Info("authenticated", "instance", inst.Name())
	}
	return nil
}

func (o *Orchestrator) finishStep(report *Report, sum Summary) {
	report.Summaries = append(report.Summaries, sum)
	if sum.Status != domain.StepSkipped {
		o.log.Info("step finished", "step", sum.Name, "status", string(sum.Status))
	}
	if o.opts.OnStep != nil {
		o.opts.OnStep(sum)
	}
}
