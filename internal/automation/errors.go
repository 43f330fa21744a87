package automation

import (
	"errors"
	"fmt"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrAlreadyRunning) {
//	    // reject the request, a run is in progress
//	}
var (
	// ErrUnknownSequence is returned when a sequence ID is not in the catalog.
	ErrUnknownSequence = errors.New("automation: unknown sequence")

	// ErrUnknownAccount is returned when a sequence has no steps tagged for the
	// requested account.
	ErrUnknownAccount = errors.New("automation: unknown account")

	// ErrAlreadyRunning is returned when a start is requested while a run is active.
	ErrAlreadyRunning = errors.New("automation: a run is already active")

	// ErrRunNotFound is returned for run IDs that are neither live nor archived.
	ErrRunNotFound = errors.New("automation: run not found")

	// ErrCaptureTimeout is returned when a screen capture exceeds its deadline.
	ErrCaptureTimeout = errors.New("automation: capture timed out")

	// ErrCapture is returned when the screen could not be captured.
	ErrCapture = errors.New("automation: capture failed")

	// ErrTemplateNotFound is returned when a step exhausts its attempts
	// without reaching its threshold.
	ErrTemplateNotFound = errors.New("automation: template not found")

	// ErrInteraction is returned when a tap or swipe fails.
	ErrInteraction = errors.New("automation: interaction failed")

	// ErrTemplateUnavailable is returned when a reference image cannot be loaded.
	ErrTemplateUnavailable = errors.New("automation: template unavailable")

	// ErrStopped is the cancellation cause for runs stopped on request.
	ErrStopped = errors.New("automation: stop requested")

	// ErrClosed is returned by Start after the supervisor has been closed.
	ErrClosed = errors.New("automation: supervisor closed")
)

// StepError describes which step failed and how hard it tried.
// It unwraps to one of the sentinels above.
type StepError struct {
	Step       int
	Name       string
	Attempts   int
	Confidence float64
	Err        error
}

func (e *StepError) Error() string {
	if errors.Is(e.Err, ErrTemplateNotFound) {
		return fmt.Sprintf("step %d (%s): %v after %d attempts (best confidence %.3f)",
			e.Step, e.Name, e.Err, e.Attempts, e.Confidence)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// reasonFor maps an execution error to its Reason code.
func reasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrTemplateNotFound):
		return ReasonTemplateNotFound
	case errors.Is(err, ErrInteraction):
		return ReasonInteractionError
	case errors.Is(err, ErrCapture), errors.Is(err, ErrCaptureTimeout):
		return ReasonCaptureError
	default:
		return ReasonInternalError
	}
}
