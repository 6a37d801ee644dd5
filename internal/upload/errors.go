package upload

import "errors"

// Code classifies why a session ended in the error stage.
type Code string

const (
	CodeValidation Code = "validation"
	CodeTransfer   Code = "transfer"
	CodeProcessing Code = "processing"
	CodeTimeout    Code = "timeout"
	CodeCancelled  Code = "cancelled"
)

// Error is the structured failure reason stored on a session. Two errors
// match under errors.Is when their codes match and the target has no message,
// so errors.Is(err, ErrValidation) works for any validation failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return e == t
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrValidation = &Error{Code: CodeValidation}
	ErrTransfer   = &Error{Code: CodeTransfer}
	ErrProcessing = &Error{Code: CodeProcessing}
	ErrTimeout    = &Error{Code: CodeTimeout}
	ErrCancelled  = &Error{Code: CodeCancelled}
)

var (
	// ErrSessionNotFound is returned for ids that were never issued or have expired.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrSessionClosed is returned when writing to a session that already
	// reached completed or error.
	ErrSessionClosed = errors.New("upload session already finished")

	// ErrStageRegression is returned for writes that would move a session
	// backwards in stage or progress.
	ErrStageRegression = errors.New("upload session update moves backwards")

	// ErrUnknownStep is returned when a content kind names a processing step
	// that is not registered.
	ErrUnknownStep = errors.New("unknown processing step")

	// errShutdown cancels in-flight work when the coordinator stops.
	errShutdown = errors.New("coordinator shutting down")
)

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// checkTransition enforces that a session never regresses: terminal sessions
// are closed, stages only move forward and progress never drops while work
// is still running.
func checkTransition(prev, next Session) error {
	if prev.Stage.Terminal() {
		return ErrSessionClosed
	}
	if next.Stage.rank() < prev.Stage.rank() {
		return ErrStageRegression
	}
	if !next.Stage.Terminal() && next.ProgressPercent < prev.ProgressPercent {
		return ErrStageRegression
	}
	return nil
}
