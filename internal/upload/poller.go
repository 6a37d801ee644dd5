package upload

import (
	"context"
	"errors"
	"time"
)

// Default polling policy.
const (
	DefaultPollInterval    = time.Second
	DefaultPollMaxAttempts = 3600
)

// ErrPollExhausted is returned when a session is still running after the
// poller's last attempt.
var ErrPollExhausted = errors.New("upload still running after max poll attempts")

// ProgressSource is anything that can report a session snapshot: the
// coordinator in-process, or Client over HTTP.
type ProgressSource interface {
	GetProgress(ctx context.Context, id SessionID) (Session, error)
}

// Poller reads a session on a fixed interval until it finishes.
type Poller struct {
	Source      ProgressSource
	Interval    time.Duration
	MaxAttempts int
	// OnUpdate, if set, sees every snapshot read.
	OnUpdate func(Session)
}

// Wait polls until the session reaches completed or error and returns that
// final snapshot. A finished session is returned with a nil error even when
// its stage is error; callers inspect Session.Error.
func (p Poller) Wait(ctx context.Context, id SessionID) (Session, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultPollMaxAttempts
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	var last Session
	for i := 0; i < attempts; i++ {
		s, err := p.Source.GetProgress(ctx, id)
		if err != nil {
			return last, err
		}
		last = s
		if p.OnUpdate != nil {
			p.OnUpdate(s)
		}
		if s.Stage.Terminal() {
			return s, nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-t.C:
		}
	}
	return last, ErrPollExhausted
}
