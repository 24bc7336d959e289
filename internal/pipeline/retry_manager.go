package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// RetryManager runs first in the chain. It counts chain restarts, enforces
// the retry count and the wall-clock budget, and sleeps between attempts.
//
// The first pass sets up the state without sleeping. Every restart
// increments the count; the first restart only arms the base sleep time,
// later ones sleep and double it.
type RetryManager struct {
	base

	// Sleep waits for d. It defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// Name implements Routine.
func (r *RetryManager) Name() string { return "RetryManager" }

// Process implements Routine.
func (r *RetryManager) Process(ctx context.Context) StepResult {
	opts := r.options()
	vars := &r.rc.Vars

	if vars.Retry == nil {
		state := &RetryState{}

		if seeker, ok := r.rc.Request.Body.(io.Seeker); ok {
			pos, err := seeker.Seek(0, io.SeekCurrent)
			if err == nil {
				state.StreamPos, state.HasStreamPos = pos, true
			}
		}

		vars.Retry = state
	} else {
		vars.Retry.Count++
	}

	state := vars.Retry

	if state.Count > opts.RetryCount {
		return Fatal(r.exhausted(cloudapi.ErrNoMoreRetries))
	}

	if r.now().Sub(vars.System.StartedAt) > opts.ReiterationTime {
		return Fatal(r.exhausted(cloudapi.ErrTimeIsOver))
	}

	if state.SleepTime > 0 {
		r.log(cloudapi.TopicRetryManager,
			fmt.Sprintf("Sleeping for %s before retry attempt #%d", state.SleepTime, state.Count))

		err := r.sleep(ctx, state.SleepTime)
		if err != nil {
			return Fatal(fmt.Errorf("retry interrupted: %w", err))
		}

		state.SleepTime *= 2
	} else {
		state.SleepTime = opts.RetrySleepTime
	}

	if state.HasStreamPos {
		err := r.rewind(state.StreamPos)
		if err != nil {
			return Fatal(err)
		}
	}

	return Continue
}

func (r *RetryManager) exhausted(reason error) *cloudapi.ExhaustedError {
	return &cloudapi.ExhaustedError{
		Reason:        reason,
		Attempts:      r.rc.Vars.Retry.Count,
		LastHTTPError: r.rc.Vars.LastHTTPError,
	}
}

// rewind restores the body stream offset consumed by a failed attempt.
func (r *RetryManager) rewind(pos int64) error {
	seeker, ok := r.rc.Request.Body.(io.Seeker)
	if !ok {
		return nil
	}

	current, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("failed to read body stream position: %w", err)
	}

	if current == pos {
		return nil
	}

	r.log(cloudapi.TopicRetryManager, fmt.Sprintf("Restoring file position to %d", pos))

	_, err = seeker.Seek(pos, io.SeekStart)
	if err != nil {
		return fmt.Errorf("failed to restore body stream position: %w", err)
	}

	return nil
}

func (r *RetryManager) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}

	return time.Now()
}

func (r *RetryManager) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
