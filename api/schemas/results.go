// File: api/schemas/results.go
package schemas

import "time"

// StepStatus is the terminal state of a step.
type StepStatus string

const (
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
	StepHealed  StepStatus = "healed"
)

// RunStatus is the aggregate state of a test run.
type RunStatus string

const (
	RunPassed    RunStatus = "passed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StepResult is the single outcome record emitted for a step, representing
// the final state after all retries. Immutable once appended to a run result.
type StepResult struct {
	Index       int            `json:"index"`
	Name        string         `json:"name,omitempty"`
	Action      ActionType     `json:"action"`
	Status      StepStatus     `json:"status"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
	SkipReason  string         `json:"skip_reason,omitempty"`
	Healing     *HealingResult `json:"healing,omitempty"`
	RetriesUsed int            `json:"retries_used"`
}

// TestRunResult aggregates the per-step outcomes of one run. Created at run
// start, finalized at run end, owned by the run.
type TestRunResult struct {
	RunID        string        `json:"run_id"`
	Name         string        `json:"name,omitempty"`
	Status       RunStatus     `json:"status"`
	PassedSteps  int           `json:"passed_steps"`
	FailedSteps  int           `json:"failed_steps"`
	HealedSteps  int           `json:"healed_steps"`
	SkippedSteps int           `json:"skipped_steps"`
	StepResults  []StepResult  `json:"step_results"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
}

// Record appends a step result and updates the aggregate counters.
func (r *TestRunResult) Record(sr StepResult) {
	r.StepResults = append(r.StepResults, sr)
	switch sr.Status {
	case StepPassed:
		r.PassedSteps++
	case StepFailed:
		r.FailedSteps++
	case StepSkipped:
		r.SkippedSteps++
	case StepHealed:
		r.HealedSteps++
		r.PassedSteps++ // a healed step still passed
	}
}
