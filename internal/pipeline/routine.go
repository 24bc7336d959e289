package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// Routine is one stage of the chain. A routine instance is reused across
// calls; Reset binds it to the current call before every Process.
type Routine interface {
	Name() string
	Reset(rc *RequestContext)
	Process(ctx context.Context) StepResult
}

// RoutineFactory creates a routine for a new manager.
type RoutineFactory func() Routine

// DefaultRoutines returns the standard chain.
func DefaultRoutines() []RoutineFactory {
	return []RoutineFactory{
		func() Routine { return &RetryManager{} },
		func() Routine { return &RequestInitializer{} },
		func() Routine { return &RequestGenerator{} },
		func() Routine { return &RequestAnalyzer{} },
		func() Routine { return &ConnectionProxy{} },
		func() Routine { return &ResponseAnalyzer{} },
		func() Routine { return &CacheValidator{} },
		func() Routine { return &ResponseParser{} },
		func() Routine { return &ResultWrapper{} },
	}
}

// base holds the bound context. Routines embed it.
type base struct {
	rc *RequestContext
}

// Reset binds rc.
func (b *base) Reset(rc *RequestContext) {
	b.rc = rc
}

func (b *base) options() *cloudapi.Options {
	return b.rc.Options
}

func (b *base) log(topic cloudapi.LogTopic, msg string) {
	b.rc.Logger.Log(topic, msg, nil)
}

// withTimer logs the duration of fn.
func (b *base) withTimer(description string, topic cloudapi.LogTopic, fn func() error) error {
	b.log(cloudapi.TopicTimer, description+" started...")

	started := time.Now()
	err := fn()

	b.log(topic, fmt.Sprintf("%s completed (%.6f sec)", description, time.Since(started).Seconds()))

	return err
}
