package automation

import "time"

// RunState is the executor state of an ActionRun.
//
// A run moves pending → capturing → matching → acting → waiting for each
// step, looping back to capturing on retries and on the next step. It ends
// in exactly one terminal state.
type RunState string

const (
	StatePending   RunState = "pending"
	StateCapturing RunState = "capturing"
	StateMatching  RunState = "matching"
	StateActing    RunState = "acting"
	StateWaiting   RunState = "waiting"

	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"    // A step exhausted its attempts or an interaction failed
	StateCancelled RunState = "cancelled" // Stop requested or the owning context ended
	StateError     RunState = "error"     // Infrastructure failure, e.g. unreadable template
)

// IsTerminal reports whether no further transitions can happen.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// Reason is the machine-readable cause attached to a terminal run.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTemplateNotFound Reason = "template_not_found"
	ReasonInteractionError Reason = "interaction_error"
	ReasonCaptureError     Reason = "capture_error"
	ReasonCancelled        Reason = "cancelled"
	ReasonInternalError    Reason = "internal_error"
)

// Origin records what started a run.
type Origin string

const (
	OriginAPI     Origin = "api"
	OriginOverlay Origin = "overlay"
	OriginCLI     Origin = "cli"
	OriginMQTT    Origin = "mqtt"
)

// ActionRun tracks one execution of a sequence from start to terminal outcome.
//
// The RunSupervisor is the only writer. Everything handed out is a copy.
type ActionRun struct {
	ID           string `json:"id"`
	SequenceID   string `json:"sequence_id"`
	SequenceName string `json:"sequence_name,omitempty"`
	Origin       Origin `json:"origin"`
	DeviceID     string `json:"device_id,omitempty"`
	Account      string `json:"account,omitempty"`

	State     RunState `json:"state"`
	StepIndex int      `json:"step_index"`
	StepCount int      `json:"step_count"`
	Attempt   int      `json:"attempt"`

	// Terminal outcome (empty while running)
	Result  RunState `json:"result,omitempty"`
	Reason  Reason   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`

	LastConfidence float64 `json:"last_confidence"`
	Interactions   int     `json:"interactions"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the run has finished.
func (r *ActionRun) IsTerminal() bool {
	return r.State.IsTerminal()
}

// Duration returns the run time so far, or the total once finished.
func (r *ActionRun) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// DeepCopy returns an independent copy of the run.
func (r *ActionRun) DeepCopy() ActionRun {
	cpy := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cpy.FinishedAt = &t
	}
	return cpy
}

// Progress is one state change reported by the executor.
type Progress struct {
	State          RunState
	StepIndex      int
	Attempt        int
	LastConfidence float64
	Interactions   int
}

// Outcome is how an execution ended.
type Outcome struct {
	State          RunState
	StepIndex      int
	Attempt        int
	Reason         Reason
	Err            error
	LastConfidence float64
	Interactions   int
}

// Message returns the error text, or "" when the run succeeded.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
