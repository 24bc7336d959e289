package cloudapi

import (
	"context"
)

// RoutineEvent describes a routine boundary.
type RoutineEvent struct {
	Routine string
	// Retry is set on the after-routine event of a routine that requested a retry.
	Retry bool
}

// RetryEvent is passed to the before-retry callback.
type RetryEvent struct {
	Pattern *ErrorPattern
	Input   MatchInput
}

// RedirectEvent is passed to the before-redirect callback.
type RedirectEvent struct {
	OldRequest *Request
	Location   string
}

// Callbacks are optional hooks fired by the pipeline.
type Callbacks struct {
	BeforeProcess  func(ctx context.Context)
	AfterProcess   func(ctx context.Context)
	BeforeRoutine  func(ctx context.Context, event RoutineEvent)
	AfterRoutine   func(ctx context.Context, event RoutineEvent)
	AfterError     func(ctx context.Context, err error)
	StatData       func(ctx context.Context, stat *Stat, err error)
	BeforeRetry    func(ctx context.Context, event RetryEvent)
	BeforeRedirect func(ctx context.Context, event RedirectEvent)
}

// Chain returns callbacks that run c first, then next.
func (c Callbacks) Chain(next Callbacks) Callbacks {
	return Callbacks{
		BeforeProcess:  chainCtx(c.BeforeProcess, next.BeforeProcess),
		AfterProcess:   chainCtx(c.AfterProcess, next.AfterProcess),
		BeforeRoutine:  chain1(c.BeforeRoutine, next.BeforeRoutine),
		AfterRoutine:   chain1(c.AfterRoutine, next.AfterRoutine),
		AfterError:     chain1(c.AfterError, next.AfterError),
		StatData:       chain2(c.StatData, next.StatData),
		BeforeRetry:    chain1(c.BeforeRetry, next.BeforeRetry),
		BeforeRedirect: chain1(c.BeforeRedirect, next.BeforeRedirect),
	}
}

func chainCtx(first, second func(context.Context)) func(context.Context) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}

	return func(ctx context.Context) {
		first(ctx)
		second(ctx)
	}
}

func chain1[T any](first, second func(context.Context, T)) func(context.Context, T) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}

	return func(ctx context.Context, arg T) {
		first(ctx, arg)
		second(ctx, arg)
	}
}

func chain2[A, B any](first, second func(context.Context, A, B)) func(context.Context, A, B) {
	switch {
	case first == nil:
		return second
	case second == nil:
		return first
	}

	return func(ctx context.Context, a A, b B) {
		first(ctx, a, b)
		second(ctx, a, b)
	}
}

// Common callbacks

// LoggingCallbacks logs routine boundaries, retries, redirects and errors.
func LoggingCallbacks(logger Logger) Callbacks {
	return Callbacks{
		AfterRoutine: func(ctx context.Context, event RoutineEvent) {
			if event.Retry {
				logger.Debug("Routine requested a retry", map[string]interface{}{
					"routine": event.Routine,
				})
			}
		},
		BeforeRetry: func(ctx context.Context, event RetryEvent) {
			fields := map[string]interface{}{
				"verb": event.Input.Verb,
			}
			if event.Input.Response != nil {
				fields["status_code"] = event.Input.Response.Code
			}

			logger.Info("Retrying API call", fields)
		},
		BeforeRedirect: func(ctx context.Context, event RedirectEvent) {
			logger.Info("Following redirect", map[string]interface{}{
				"location": event.Location,
			})
		},
		AfterError: func(ctx context.Context, err error) {
			logger.Error("API call failed", map[string]interface{}{
				"error": err.Error(),
			})
		},
	}
}

// MetricsCallbacks records routine durations and retries into collector.
func MetricsCallbacks(collector *MetricsCollector) Callbacks {
	return Callbacks{
		StatData: func(ctx context.Context, stat *Stat, err error) {
			if stat == nil {
				return
			}

			for _, session := range stat.Sessions {
				for _, routine := range session {
					collector.RecordRoutine(routine.Name, routine.TimeTaken)
				}
			}
		},
		BeforeRetry: func(ctx context.Context, event RetryEvent) {
			collector.RecordRetry(event.Input.Verb, "error_pattern")
		},
		BeforeRedirect: func(ctx context.Context, event RedirectEvent) {
			verb := ""
			if event.OldRequest != nil {
				verb = event.OldRequest.Verb
			}

			collector.RecordRetry(verb, "redirect")
		},
	}
}
