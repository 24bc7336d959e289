package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/pattern"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// ManagerConfig configures an APIManager.
type ManagerConfig struct {
	// Endpoint is the base URL. Options.Endpoint overrides it per call.
	Endpoint    string
	Credentials map[string]string
	// Storage keeps cache records. A new MemoryStorage when nil.
	Storage cloudapi.Storage
	// Options are applied after the client type options.
	Options []cloudapi.Option
}

// APIManager runs calls through the routine chain. It is not safe for
// concurrent use: one manager serves one worker at a time.
type APIManager struct {
	clientType  *ClientType
	endpoint    string
	credentials map[string]string
	options     []cloudapi.Option
	storage     cloudapi.Storage
	routines    []Routine

	patterns      *pattern.Registry
	errorPatterns []*cloudapi.ErrorPattern
	cachePatterns []*cloudapi.CachePattern

	withOptions [][]cloudapi.Option
	withHeaders cloudapi.Headers

	data *RequestContext
}

// NewAPIManager creates a manager of clientType.
func NewAPIManager(clientType *ClientType, config ManagerConfig) (*APIManager, error) {
	if clientType == nil {
		clientType = NewClientType("default")
	}

	_, err := cloudapi.ParseEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}

	for name, value := range config.Credentials {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%w: %s", cloudapi.ErrEmptyCredential, name)
		}
	}

	storage := config.Storage
	if storage == nil {
		storage = cloudapi.NewMemoryStorage()
	}

	return &APIManager{
		clientType:  clientType,
		endpoint:    config.Endpoint,
		credentials: maps.Clone(config.Credentials),
		options:     slices.Clone(config.Options),
		storage:     storage,
		routines:    clientType.routines(),
		patterns:    pattern.NewRegistry(clientType.Patterns),
	}, nil
}

// RegisterPattern registers a pattern for this manager only. It shadows a
// client type pattern of the same name.
func (m *APIManager) RegisterPattern(p cloudapi.QueryPattern) error {
	_, err := m.patterns.Register(p)

	return err
}

// RegisterErrorPattern appends an error pattern checked after the client
// type ones.
func (m *APIManager) RegisterErrorPattern(p *cloudapi.ErrorPattern) error {
	err := p.Validate()
	if err != nil {
		return err
	}

	m.errorPatterns = append(m.errorPatterns, p)

	return nil
}

// RegisterCachePattern appends a cache pattern checked after the client
// type ones.
func (m *APIManager) RegisterCachePattern(p *cloudapi.CachePattern) error {
	err := p.Validate()
	if err != nil {
		return err
	}

	m.cachePatterns = append(m.cachePatterns, p)

	return nil
}

// PatternNames lists the patterns visible to this manager.
func (m *APIManager) PatternNames() []string {
	return m.patterns.Names()
}

// Explain describes a pattern.
func (m *APIManager) Explain(name string) string {
	return m.patterns.Explain(name)
}

// Call renders the named pattern and processes the resulting request.
func (m *APIManager) Call(ctx context.Context, name string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	compiled, err := m.patterns.Lookup(name)
	if err != nil {
		return nil, err
	}

	request, err := compiled.Build(args)
	if err != nil {
		return nil, err
	}

	return m.process(ctx, name, request.Verb, request.Path, cloudapi.CallArgs{
		Params:  request.Params,
		Headers: request.Headers,
		Body:    request.Body,
		Options: request.Options,
	})
}

// Process sends a request for relativePath without a pattern.
func (m *APIManager) Process(ctx context.Context, verb, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.process(ctx, strings.ToLower(verb), verb, relativePath, args)
}

// Get processes a GET request.
func (m *APIManager) Get(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.Process(ctx, "get", relativePath, args)
}

// Post processes a POST request.
func (m *APIManager) Post(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.Process(ctx, "post", relativePath, args)
}

// Put processes a PUT request.
func (m *APIManager) Put(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.Process(ctx, "put", relativePath, args)
}

// Patch processes a PATCH request.
func (m *APIManager) Patch(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.Process(ctx, "patch", relativePath, args)
}

// Delete processes a DELETE request.
func (m *APIManager) Delete(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.Process(ctx, "delete", relativePath, args)
}

// Head processes a HEAD request.
func (m *APIManager) Head(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return m.Process(ctx, "head", relativePath, args)
}

// WithOptions applies opts to every call made by fn.
func (m *APIManager) WithOptions(fn func() error, opts ...cloudapi.Option) error {
	m.withOptions = append(m.withOptions, opts)
	defer func() { m.withOptions = m.withOptions[:len(m.withOptions)-1] }()

	return fn()
}

// WithHeaders adds headers to every call made by fn. Scopes do not nest:
// the innermost headers replace the outer ones.
func (m *APIManager) WithHeaders(headers cloudapi.Headers, fn func() error) error {
	previous := m.withHeaders
	m.withHeaders = headers

	defer func() { m.withHeaders = previous }()

	return fn()
}

// Stat returns the timings of the last call.
func (m *APIManager) Stat() *cloudapi.Stat {
	if m.data == nil {
		return nil
	}

	return m.data.Stat
}

// LastRequest returns the last generated request.
func (m *APIManager) LastRequest() *cloudapi.Request {
	if m.data == nil {
		return nil
	}

	return m.data.Request.Instance
}

// LastResponse returns the last received response.
func (m *APIManager) LastResponse() *cloudapi.Response {
	if m.data == nil {
		return nil
	}

	return m.data.Response.Instance
}

// Storage returns the cache record storage.
func (m *APIManager) Storage() cloudapi.Storage {
	return m.storage
}

func (m *APIManager) process(ctx context.Context, name, verb, relativePath string, args cloudapi.CallArgs) (result *cloudapi.Result, err error) {
	opts := m.resolveOptions(args)
	logger := cloudapi.NewAPILogger(opts.Logger, opts.LogFilters, opts.LogFilterPatterns)
	now := time.Now()
	stat := &cloudapi.Stat{StartedAt: now.UTC()}
	verb = strings.ToLower(verb)

	logger.SetUniquePrefix()
	logger.Log(cloudapi.TopicAPIManager, fmt.Sprintf("Processing %s %s", strings.ToUpper(verb), relativePath), nil)

	ctx, span := cloudapi.StartCallSpan(ctx, opts.Tracer, name, verb)
	done := opts.Metrics.CallStarted(verb)

	defer func() {
		stat.TimeTaken = time.Since(stat.StartedAt)
		logger.Log(cloudapi.TopicTimer, fmt.Sprintf("Call completed (%.6f sec)", stat.TimeTaken.Seconds()), nil)
		logger.ResetUniquePrefix()

		done()
		opts.Metrics.RecordCall(verb, outcome(err), stat.TimeTaken)

		if cloudapi.IsCacheHit(err) {
			opts.Metrics.RecordCacheHit(verb)
		}

		cloudapi.EndSpan(span, err)

		if callback := opts.Callbacks.StatData; callback != nil {
			callback(ctx, stat, err)
		}
	}()

	rc, err := m.newRequestContext(opts, verb, relativePath, args)
	if err != nil {
		if callback := opts.Callbacks.AfterError; callback != nil {
			callback(ctx, err)
		}

		return nil, err
	}

	rc.Logger = logger
	rc.Stat = stat
	rc.Vars.System.StartedAt = now
	m.data = rc

	if callback := opts.Callbacks.BeforeProcess; callback != nil {
		callback(ctx)
	}

	for {
		retry, err := m.runRoutines(ctx, rc)
		if err != nil {
			if callback := opts.Callbacks.AfterError; callback != nil {
				callback(ctx, err)
			}

			return nil, err
		}

		if !retry {
			break
		}
	}

	if callback := opts.Callbacks.AfterProcess; callback != nil {
		callback(ctx)
	}

	return rc.Result, nil
}

// runRoutines runs one pass over the chain and reports whether it must be
// restarted.
func (m *APIManager) runRoutines(ctx context.Context, rc *RequestContext) (bool, error) {
	rc.Stat.Sessions = append(rc.Stat.Sessions, cloudapi.StatSession{})
	session := &rc.Stat.Sessions[len(rc.Stat.Sessions)-1]
	callbacks := rc.Options.Callbacks

	after := func(event cloudapi.RoutineEvent) {
		if callbacks.AfterRoutine != nil {
			callbacks.AfterRoutine(ctx, event)
		}
	}

	for _, routine := range m.routines {
		started := time.Now()
		event := cloudapi.RoutineEvent{Routine: routine.Name()}

		routine.Reset(rc)

		if callbacks.BeforeRoutine != nil {
			callbacks.BeforeRoutine(ctx, event)
		}

		routineCtx, span := cloudapi.StartRoutineSpan(ctx, rc.Options.Tracer, routine.Name())
		result := routine.Process(routineCtx)
		cloudapi.EndSpan(span, result.Err)

		*session = append(*session, cloudapi.RoutineStat{
			Name:      routine.Name(),
			StartedAt: started.UTC(),
			TimeTaken: time.Since(started),
		})

		rc.Logger.Log(cloudapi.TopicRoutine, fmt.Sprintf("%s: %s", routine.Name(), result.Kind), nil)

		switch result.Kind {
		case KindContinue:
			after(event)
		case KindDone:
			after(event)

			rc.Vars.System.Done = true

			return false, nil
		case KindRetry:
			event.Retry = true
			after(event)

			return true, nil
		default:
			if result.Err == nil {
				return false, fmt.Errorf("%s: %s without an error", routine.Name(), result.Kind)
			}

			return false, result.Err
		}
	}

	return false, nil
}

// resolveOptions layers the option scopes for one call.
func (m *APIManager) resolveOptions(args cloudapi.CallArgs) *cloudapi.Options {
	opts := cloudapi.DefaultOptions()
	opts.Apply(m.clientType.Options...)
	opts.Apply(m.options...)

	for _, layer := range m.withOptions {
		opts.Apply(layer...)
	}

	opts.Apply(args.Options...)

	if opts.Metrics != nil {
		opts.Callbacks = cloudapi.MetricsCallbacks(opts.Metrics).Chain(opts.Callbacks)
	}

	return opts
}

func (m *APIManager) newRequestContext(opts *cloudapi.Options, verb, relativePath string, args cloudapi.CallArgs) (*RequestContext, error) {
	if !cloudapi.IsVerb(verb) {
		return nil, &cloudapi.ConfigurationError{Key: verb, Err: cloudapi.ErrUnknownVerb}
	}

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = m.endpoint
	}

	uri, err := cloudapi.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	params := map[string]any{}

	if opts.AllowEndpointParams {
		endpointParams, err := cloudapi.ExtractURLParams(endpoint)
		if err != nil {
			return nil, err
		}

		maps.Copy(params, endpointParams)
	}

	maps.Copy(params, opts.Params)
	maps.Copy(params, args.Params)

	headers := opts.Headers.Clone().Merge(m.withHeaders).Merge(args.Headers)

	connection := *uri
	connection.RawQuery = ""

	return &RequestContext{
		Options:     opts,
		Credentials: maps.Clone(m.credentials),
		Connection:  &connection,
		Request: RequestData{
			Verb:         verb,
			RelativePath: relativePath,
			Headers:      headers,
			Body:         args.Body,
			OrigBody:     args.Body,
			Params:       params,
			OrigParams:   maps.Clone(params),
		},
		Vars: Vars{
			System: SystemVars{Storage: m.storage},
		},
		ErrorPatterns: append(m.clientType.ErrorPatterns(), m.errorPatterns...),
		CachePatterns: append(m.clientType.CachePatterns(), m.cachePatterns...),
	}, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}

	switch {
	case cloudapi.IsCacheHit(err):
		return "cache_hit"
	case cloudapi.IsExhausted(err):
		return "exhausted"
	case cloudapi.IsConnectionError(err):
		return "connection_error"
	case cloudapi.IsConfigurationError(err):
		return "configuration_error"
	}

	if _, ok := cloudapi.IsHTTPError(err); ok {
		return "http_error"
	}

	return "error"
}
