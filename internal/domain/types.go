// Package domain holds the run journal's record types.
package domain

// RunMode is what a journaled run did.
type RunMode string

const (
	RunModeRun  RunMode = "run"
	RunModePlan RunMode = "plan"
	RunModeWipe RunMode = "wipe"
)

// RunState is the terminal (or current) state of a run.
type RunState string

const (
	RunStateRunning    RunState = "running"
	RunStateDone       RunState = "done"
	RunStateAuthFailed RunState = "auth_failed"
	RunStateFailed     RunState = "failed"
)

// StepStatus summarises how a step ended.
type StepStatus string

const (
	// StepOK means every record succeeded.
	StepOK StepStatus = "ok"
	// StepPartial means the step ran but some records failed.
	StepPartial StepStatus = "partial"
	// StepAborted means a step-level error stopped the step.
	StepAborted StepStatus = "aborted"
	// StepSkipped means the step's flag was off.
	StepSkipped StepStatus = "skipped"
)

// Run represents one invocation of the migrator
type Run struct {
	UUID           string   `json:"uuid" yaml:"uuid"`
	ID             string   `json:"id" yaml:"id"`
	Mode           RunMode  `json:"mode" yaml:"mode"`
	SourceURL      string   `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	DestinationURL string   `json:"destination_url" yaml:"destination_url"`
	State          RunState `json:"state" yaml:"state"`
	ExitCode       *int     `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	StartedAt      string   `json:"started_at" yaml:"started_at"`
	FinishedAt     *string  `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Steps          []Step   `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// Step is the stored summary of one step of a run
type Step struct {
	Position int        `json:"position" yaml:"position"`
	Name     string     `json:"name" yaml:"name"`
	Status   StepStatus `json:"status" yaml:"status"`
	Total    int        `json:"total" yaml:"total"`
	Created  int        `json:"created" yaml:"created"`
	Updated  int        `json:"updated" yaml:"updated"`
	Skipped  int        `json:"skipped" yaml:"skipped"`
	Deleted  int        `json:"deleted" yaml:"deleted"`
	Failed   int        `json:"failed" yaml:"failed"`
	Error    string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failure is one record that could not be written
type Failure struct {
	Step    string `json:"step" yaml:"step"`
	Item    string `json:"item" yaml:"item"`
	Status  int    `json:"status,omitempty" yaml:"status,omitempty"`
	Message string `json:"message" yaml:"message"`
}
