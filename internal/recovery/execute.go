// Package recovery – Execute
//
// This file carries out a recovery strategy by calling back into the caller.
// A retry that succeeds clears the error; anything else is returned.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/observability"
)

const defaultRetryDelay = 2 * time.Second

// Callbacks are the caller-supplied reactions Execute dispatches to. Any of
// them may be nil.
type Callbacks struct {
	Retry             func(ctx context.Context) error
	Verify            func(ctx context.Context) error
	ReturnToSelection func()
	ShowError         func(msg string)
	ContactSupport    func()
}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute carries out ce's recovery strategy.
//
// For RETRY it calls cb.Retry up to MaxRetries times, waiting RetryDelay
// between attempts; a success returns nil. When attempts run out the
// show-error callback receives "<message> (Max retries reached)" and the last
// retry error is returned. Cancelling ctx stops the loop during a wait.
//
// VERIFY_STATUS returns whatever cb.Verify returns. Every other action, and
// RETRY or VERIFY_STATUS without a callback, dispatches the matching callbacks
// and returns the original error.
func Execute(ctx context.Context, ce ClassifiedError, cb Callbacks) error {
	logClassified(ce)
	observability.RecoveryActions.WithLabelValues(string(ce.Recovery.Action)).Inc()

	s := ce.Recovery
	switch s.Action {
	case ActionRetry:
		if cb.Retry != nil {
			return retryLoop(ctx, s, cb)
		}
	case ActionVerifyStatus:
		if cb.Verify != nil {
			return cb.Verify(ctx)
		}
	case ActionReturnToSelection:
		if cb.ReturnToSelection != nil {
			cb.ReturnToSelection()
		}
	case ActionContactSupport:
		if cb.ContactSupport != nil {
			cb.ContactSupport()
		}
		showError(cb, s.Message)
	default:
		showError(cb, s.Message)
	}
	return ce.err()
}

func retryLoop(ctx context.Context, s Strategy, cb Callbacks) error {
	delay := s.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	remaining := s.MaxRetries
	for {
		err := cb.Retry(ctx)
		if err == nil {
			return nil
		}
		remaining--
		if remaining <= 0 {
			showError(cb, s.Message+" (Max retries reached)")
			return err
		}
		log.Debug().Err(err).Int("retries_left", remaining).Dur("delay", delay).Msg("recovery retry scheduled")
		if werr := sleep(ctx, delay); werr != nil {
			return errors.Join(werr, err)
		}
	}
}

func showError(cb Callbacks, msg string) {
	if cb.ShowError != nil {
		cb.ShowError(msg)
	}
}

func (c ClassifiedError) err() error {
	if c.Original != nil {
		return c.Original
	}
	return c
}

func logClassified(ce ClassifiedError) {
	if ce.Original == nil || !ShouldLog(ce.Original) {
		return
	}
	ev := log.Error().
		Err(ce.Original).
		Str("error_type", string(ce.Type)).
		Str("recovery_action", string(ce.Recovery.Action))
	for k, v := range Tags(ce.Original) {
		ev = ev.Str(k, v)
	}
	ev.Msg("payment error")
}
