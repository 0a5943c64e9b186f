package domain

import "time"

// Run represents one full test-cycle execution
type Run struct {
	ID           string // timestamp token, e.g. 20260826-093015
	WorkloadID   string // deterministic fingerprint of the prompt body
	WorkloadName string
	PromptFile   string
	ReportDir    string
	StartedAt    time.Time
	FinishedAt   *time.Time

	// Outcome, filled in as phases complete
	Landed        bool
	Elapsed       time.Duration // convoy wait, accumulated poll intervals
	Timeout       time.Duration
	TracePID      int
	SessionStarts int
	PolecatSpawns int
	InputTokens   int
	OutputTokens  int
	Errors        int // -1 when the log backend was unreachable

	Phases []PhaseResult
}

// PhaseResult records the outcome of one phase within a run
type PhaseResult struct {
	Seq        int
	Name       string
	Artifact   string
	OK         bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall-clock length of the run, zero while unfinished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
