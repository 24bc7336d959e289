// Package pipeline runs API calls through an ordered chain of routines.
package pipeline

import (
	"net/url"
	"time"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// Kind tells the orchestrator what to do after a routine.
type Kind int

// Step kinds.
const (
	KindContinue Kind = iota
	KindRetry
	KindDone
	KindCacheHit
	KindFatal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindRetry:
		return "retry"
	case KindDone:
		return "done"
	case KindCacheHit:
		return "cache_hit"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// StepResult is returned by every routine.
type StepResult struct {
	Kind Kind
	Err  error
}

// Step results without an error.
var (
	// Continue runs the next routine.
	Continue = StepResult{Kind: KindContinue}
	// Retry restarts the chain from the first routine.
	Retry = StepResult{Kind: KindRetry}
	// Done skips the remaining routines and completes the call.
	Done = StepResult{Kind: KindDone}
)

// Fatal aborts the call with err.
func Fatal(err error) StepResult {
	return StepResult{Kind: KindFatal, Err: err}
}

// Hit aborts the call with a cache hit.
func Hit(err *cloudapi.CacheHitError) StepResult {
	return StepResult{Kind: KindCacheHit, Err: err}
}

// RequestData is the request part of a RequestContext.
type RequestData struct {
	// Verb is lowercase.
	Verb         string
	RelativePath string
	// Path is the generated request URI (path and query).
	Path    string
	Headers cloudapi.Headers
	// Body is the caller body: nil, string, []byte, map[string]any or io.Reader.
	Body       any
	OrigBody   any
	Params     map[string]any
	OrigParams map[string]any
	// Instance is the request built by the request generator.
	Instance *cloudapi.Request
}

// ResponseData is the response part of a RequestContext.
type ResponseData struct {
	Instance *cloudapi.Response
	Parsed   any
}

// SystemVars hold call-wide state.
type SystemVars struct {
	StartedAt time.Time
	// Storage is the worker's cache record storage, shared across calls.
	Storage cloudapi.Storage
	// Done is set when a routine finished the call early.
	Done bool
}

// RetryState is the retry manager's state.
type RetryState struct {
	Count     int
	SleepTime time.Duration
	// StreamPos is the body stream offset when the call started.
	StreamPos    int64
	HasStreamPos bool
}

// Vars is routine scratch space.
type Vars struct {
	System SystemVars
	Retry  *RetryState
	Cache  *cloudapi.CacheState
	// LastHTTPError is the latest 4xx/5xx seen by the response analyzer.
	LastHTTPError *cloudapi.HTTPError
}

// ContextCallbacks are installed by routines for later routines.
type ContextCallbacks struct {
	// CloseConnection drops the current connection.
	CloseConnection func(reason string)
}

// RequestContext is the state of one call. It is owned by a single goroutine.
type RequestContext struct {
	Options     *cloudapi.Options
	Credentials map[string]string
	// Connection is the target endpoint. Redirects replace it.
	Connection *url.URL
	Request    RequestData
	Response   ResponseData
	Vars       Vars
	Callbacks  ContextCallbacks
	Stat       *cloudapi.Stat
	Result     *cloudapi.Result
	Logger     *cloudapi.APILogger

	ErrorPatterns []*cloudapi.ErrorPattern
	CachePatterns []*cloudapi.CachePattern
}

// MatchInput returns what error and cache patterns are matched against.
func (rc *RequestContext) MatchInput() cloudapi.MatchInput {
	params := make(map[string]any, len(rc.Request.OrigParams))
	for key, value := range rc.Request.OrigParams {
		params[key] = value
	}

	return cloudapi.MatchInput{
		Verb:         rc.Request.Verb,
		RelativePath: rc.Request.RelativePath,
		Request:      rc.Request.Instance,
		Response:     rc.Response.Instance,
		Params:       params,
	}
}

// CloseConnection invokes the close-connection callback when one is set.
func (rc *RequestContext) CloseConnection(reason string) {
	if rc.Callbacks.CloseConnection != nil {
		rc.Callbacks.CloseConnection(reason)
	}
}
