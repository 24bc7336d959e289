package cloudapi

import (
	"maps"
	"regexp"
	"slices"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"go.opentelemetry.io/otel/trace"
)

// Options is the resolved configuration of a single call. It is built by
// applying Option functions in order: client defaults, the WithOptions stack,
// then per-call options.
type Options struct {
	// Endpoint overrides the manager endpoint for the call.
	Endpoint string

	// RetryCount is the number of full-chain retries after the first attempt.
	RetryCount int
	// ReiterationTime is the wall-clock budget of the call including retries.
	ReiterationTime time.Duration
	// RetrySleepTime is the base backoff. The first retry does not sleep; the
	// next ones sleep and double it.
	RetrySleepTime time.Duration

	// ConnectionRetryCount is the number of low-level retries on timeout,
	// socket or EOF errors.
	ConnectionRetryCount int
	// ConnectionRetryDelay is the initial low-level retry delay, doubled each time.
	ConnectionRetryDelay time.Duration
	// ConnectionReadTimeout bounds the wait for response headers.
	ConnectionReadTimeout time.Duration
	// ConnectionOpenTimeout bounds connection establishment.
	ConnectionOpenTimeout time.Duration
	// ConnectionCAFile is a PEM bundle used to verify the server.
	ConnectionCAFile string
	// ConnectionUserAgent is sent unless the request already has a user-agent.
	ConnectionUserAgent string
	// AbortOnTimeout disables low-level retries of timeouts. The request
	// analyzer sets it when an abort_on_timeout pattern matches.
	AbortOnTimeout bool

	// Cache enables the cache validator.
	Cache bool
	// RawResponse skips body parsing; the result body is the raw string.
	RawResponse bool
	// XMLParser selects the XML parser by name. Empty means the default.
	XMLParser string
	// RandomToken adds a random URL param to GET requests.
	RandomToken bool
	// RandomTokenName overrides the random token param name.
	RandomTokenName string
	// AllowEndpointParams merges the endpoint query string into the params.
	AllowEndpointParams bool

	// Params are merged under the call params.
	Params map[string]any
	// Headers are merged under the call headers.
	Headers Headers

	// ErrorParser builds error messages for 4xx/5xx responses.
	ErrorParser ErrorParser
	// Transport replaces the default HTTP transport.
	Transport Transport
	// OnChunk streams successful response bodies instead of buffering them.
	OnChunk func(chunk []byte) error

	Callbacks Callbacks

	// LogFilters selects log topics. Empty means DefaultLogFilters.
	LogFilters []LogTopic
	// LogFilterPatterns mask secrets in log messages.
	LogFilterPatterns []*regexp.Regexp
	Logger            Logger

	Metrics *MetricsCollector
	Tracer  trace.Tracer
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns default call options.
func DefaultOptions() *Options {
	return &Options{
		RetryCount:            constants.DefaultRetryCount,
		ReiterationTime:       constants.DefaultReiterationTime,
		RetrySleepTime:        constants.DefaultRetrySleepTime,
		ConnectionRetryCount:  constants.DefaultConnectionRetryCount,
		ConnectionRetryDelay:  constants.DefaultConnectionRetryDelay,
		ConnectionReadTimeout: constants.DefaultConnectionReadTimeout,
		ConnectionOpenTimeout: constants.DefaultConnectionOpenTimeout,
		Params:                map[string]any{},
		Headers:               Headers{},
		Logger:                NopLogger{},
	}
}

// ResolveOptions applies opts over the defaults.
func ResolveOptions(opts ...Option) *Options {
	resolved := DefaultOptions()
	resolved.Apply(opts...)

	return resolved
}

// Apply applies opts in order. Nil options are skipped.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
}

// Clone returns a copy that can be mutated for one call.
func (o *Options) Clone() *Options {
	clone := *o
	clone.Params = maps.Clone(o.Params)
	clone.Headers = o.Headers.Clone()
	clone.LogFilters = slices.Clone(o.LogFilters)
	clone.LogFilterPatterns = slices.Clone(o.LogFilterPatterns)

	if clone.Params == nil {
		clone.Params = map[string]any{}
	}

	return &clone
}

// WithEndpoint overrides the endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *Options) { o.Endpoint = endpoint }
}

// WithRetry sets the full-chain retry policy.
func WithRetry(count int, reiteration, sleep time.Duration) Option {
	return func(o *Options) {
		o.RetryCount = count
		o.ReiterationTime = reiteration
		o.RetrySleepTime = sleep
	}
}

// WithConnectionRetry sets the low-level retry policy.
func WithConnectionRetry(count int, delay time.Duration) Option {
	return func(o *Options) {
		o.ConnectionRetryCount = count
		o.ConnectionRetryDelay = delay
	}
}

// WithTimeouts sets connection open and read timeouts.
func WithTimeouts(open, read time.Duration) Option {
	return func(o *Options) {
		o.ConnectionOpenTimeout = open
		o.ConnectionReadTimeout = read
	}
}

// WithCAFile sets the CA bundle.
func WithCAFile(path string) Option {
	return func(o *Options) { o.ConnectionCAFile = path }
}

// WithUserAgent sets the default user agent.
func WithUserAgent(userAgent string) Option {
	return func(o *Options) { o.ConnectionUserAgent = userAgent }
}

// WithAbortOnTimeout disables low-level retries of timeouts.
func WithAbortOnTimeout(abort bool) Option {
	return func(o *Options) { o.AbortOnTimeout = abort }
}

// WithCache enables or disables the cache validator.
func WithCache(enabled bool) Option {
	return func(o *Options) { o.Cache = enabled }
}

// WithRawResponse skips body parsing.
func WithRawResponse(raw bool) Option {
	return func(o *Options) { o.RawResponse = raw }
}

// WithXMLParser selects the XML parser.
func WithXMLParser(name string) Option {
	return func(o *Options) { o.XMLParser = name }
}

// WithRandomToken adds a random token param to GET requests. An empty name
// uses the default param name.
func WithRandomToken(name string) Option {
	return func(o *Options) {
		o.RandomToken = true
		o.RandomTokenName = name
	}
}

// WithEndpointParams merges the endpoint query string into the params.
func WithEndpointParams(allow bool) Option {
	return func(o *Options) { o.AllowEndpointParams = allow }
}

// WithParams merges params into the option params.
func WithParams(params map[string]any) Option {
	return func(o *Options) {
		if o.Params == nil {
			o.Params = map[string]any{}
		}

		maps.Copy(o.Params, params)
	}
}

// WithDefaultHeaders merges headers into the option headers.
func WithDefaultHeaders(headers Headers) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = Headers{}
		}

		o.Headers.Merge(headers)
	}
}

// WithErrorParser sets the error body parser.
func WithErrorParser(parser ErrorParser) Option {
	return func(o *Options) { o.ErrorParser = parser }
}

// WithTransport replaces the HTTP transport.
func WithTransport(transport Transport) Option {
	return func(o *Options) { o.Transport = transport }
}

// WithChunkHandler streams the response body to fn.
func WithChunkHandler(fn func(chunk []byte) error) Option {
	return func(o *Options) { o.OnChunk = fn }
}

// WithCallbacks chains callbacks after the ones already configured.
func WithCallbacks(callbacks Callbacks) Option {
	return func(o *Options) { o.Callbacks = o.Callbacks.Chain(callbacks) }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithLogFilters selects log topics.
func WithLogFilters(topics ...LogTopic) Option {
	return func(o *Options) { o.LogFilters = topics }
}

// WithLogFilterPatterns sets secret masking patterns.
func WithLogFilterPatterns(patterns ...*regexp.Regexp) Option {
	return func(o *Options) { o.LogFilterPatterns = patterns }
}

// WithMetrics records prometheus metrics.
func WithMetrics(collector *MetricsCollector) Option {
	return func(o *Options) { o.Metrics = collector }
}

// WithTracer records OpenTelemetry spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Options) { o.Tracer = tracer }
}
