package domain

import (
	"fmt"
)

// ValidateRunMode validates a run mode
func ValidateRunMode(mode RunMode) error {
	switch mode {
	case RunModeRun, RunModePlan, RunModeWipe:
		return nil
	default:
		return fmt.Errorf("invalid run mode: must be one of: run, plan, wipe")
	}
}

// ValidateRunState validates a run state
func ValidateRunState(state RunState) error {
	switch state {
	case RunStateRunning, RunStateDone, RunStateAuthFailed, RunStateFailed:
		return nil
	default:
		return fmt.Errorf("invalid run state: must be one of: running, done, auth_failed, failed")
	}
}

// ValidateStepStatus validates a step status
func ValidateStepStatus(status StepStatus) error {
	switch status {
	case StepOK, StepPartial, StepAborted, StepSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: must be one of: ok, partial, aborted, skipped")
	}
}

// Validate checks a step summary before it is stored.
func (s Step) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if err := ValidateStepStatus(s.Status); err != nil {
		return err
	}
	for _, n := range []int{s.Total, s.Created, s.Updated, s.Skipped, s.Deleted, s.Failed} {
		if n < 0 {
			return fmt.Errorf("step %s: counts must not be negative", s.Name)
		}
	}
	return nil
}
