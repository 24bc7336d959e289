// Package cloudclient provides the main entry point for creating cloud API
// clients. A Client keeps one pipeline manager per worker so that calls made
// by independent goroutines never share request state.
package cloudclient

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/fivetwenty-io/cloudapi/internal/pipeline"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// DefaultWorker is used when the context carries no worker key.
const DefaultWorker = "default"

type workerKey struct{}

type scopeKey struct{}

type scope struct {
	options []cloudapi.Option
	headers cloudapi.Headers
}

// WithWorker returns a context whose calls run on the manager of worker key.
func WithWorker(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, workerKey{}, key)
}

// WorkerFromContext returns the worker key of ctx.
func WorkerFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(workerKey{}).(string); ok && key != "" {
		return key
	}

	return DefaultWorker
}

// WithOptions returns a context whose calls apply opts after the client
// options and before the per-call options. Scopes nest.
func WithOptions(ctx context.Context, opts ...cloudapi.Option) context.Context {
	current := scopeFromContext(ctx)

	return context.WithValue(ctx, scopeKey{}, scope{
		options: append(append([]cloudapi.Option(nil), current.options...), opts...),
		headers: current.headers,
	})
}

// WithHeaders returns a context whose calls send headers. Per-call headers
// win over them.
func WithHeaders(ctx context.Context, headers cloudapi.Headers) context.Context {
	current := scopeFromContext(ctx)
	merged := current.headers.Clone().Merge(headers)

	return context.WithValue(ctx, scopeKey{}, scope{options: current.options, headers: merged})
}

func scopeFromContext(ctx context.Context) scope {
	if s, ok := ctx.Value(scopeKey{}).(scope); ok {
		return s
	}

	return scope{}
}

// Client runs API calls through the routine chain.
type Client struct {
	clientType  *pipeline.ClientType
	endpoint    string
	credentials map[string]string
	storage     cloudapi.Storage
	ownsStorage bool
	logger      cloudapi.Logger
	idleTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
}

type worker struct {
	mu       sync.Mutex
	manager  *pipeline.APIManager
	lastUsed time.Time
}

// New creates a client from config. Pattern files are loaded eagerly so a
// broken file fails here rather than on the first call.
func New(config *cloudapi.Config) (*Client, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = cloudapi.NopLogger{}
	}

	opts := append([]cloudapi.Option{cloudapi.WithLogger(logger)}, config.Options...)

	client := &Client{
		clientType:  pipeline.NewClientType("cloudapi", opts...),
		endpoint:    config.Endpoint,
		credentials: config.Credentials,
		logger:      logger,
		idleTimeout: config.WorkerIdleTimeout,
		now:         time.Now,
		workers:     make(map[string]*worker),
	}

	if client.idleTimeout <= 0 {
		client.idleTimeout = constants.DefaultWorkerIdleTimeout
	}

	for _, path := range config.PatternFiles {
		err := client.LoadPatternFile(path)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case config.SharedStorage != nil:
		client.storage = config.SharedStorage
	case config.Storage != nil:
		storage, err := cloudapi.NewStorageFromConfig(config.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}

		client.storage = storage
		client.ownsStorage = true
	}

	return client, nil
}

// LoadPatternFile registers the query, error and cache patterns of a YAML
// pattern file.
func (c *Client) LoadPatternFile(path string) error {
	file, err := cloudapi.LoadPatternFile(path)
	if err != nil {
		return fmt.Errorf("failed to load pattern file %s: %w", path, err)
	}

	queries, err := file.QueryPatterns()
	if err != nil {
		return fmt.Errorf("failed to load pattern file %s: %w", path, err)
	}

	for _, query := range queries {
		err := c.RegisterPattern(query)
		if err != nil {
			return fmt.Errorf("failed to register pattern %s from %s: %w", query.Name, path, err)
		}
	}

	errorPatterns, err := file.ErrorPatternList()
	if err != nil {
		return fmt.Errorf("failed to load pattern file %s: %w", path, err)
	}

	for _, p := range errorPatterns {
		err := c.RegisterErrorPattern(p)
		if err != nil {
			return fmt.Errorf("failed to register error pattern from %s: %w", path, err)
		}
	}

	cachePatterns, err := file.CachePatternList()
	if err != nil {
		return fmt.Errorf("failed to load pattern file %s: %w", path, err)
	}

	for _, p := range cachePatterns {
		err := c.RegisterCachePattern(p)
		if err != nil {
			return fmt.Errorf("failed to register cache pattern from %s: %w", path, err)
		}
	}

	c.logger.Debug("Pattern file loaded", map[string]interface{}{
		"path":           path,
		"patterns":       len(queries),
		"error_patterns": len(errorPatterns),
		"cache_patterns": len(cachePatterns),
	})

	return nil
}

// RegisterPattern registers a query pattern for every worker.
func (c *Client) RegisterPattern(p cloudapi.QueryPattern) error {
	return c.clientType.RegisterPattern(p)
}

// RegisterErrorPattern registers an error pattern for every worker.
func (c *Client) RegisterErrorPattern(p *cloudapi.ErrorPattern) error {
	return c.clientType.RegisterErrorPattern(p)
}

// RegisterCachePattern registers a cache pattern for every worker.
func (c *Client) RegisterCachePattern(p *cloudapi.CachePattern) error {
	return c.clientType.RegisterCachePattern(p)
}

// PatternNames lists the registered query patterns.
func (c *Client) PatternNames() []string {
	return c.clientType.Patterns.Names()
}

// Explain describes a registered query pattern.
func (c *Client) Explain(name string) string {
	return c.clientType.Patterns.Explain(name)
}

// Call renders the named pattern and runs the request.
func (c *Client) Call(ctx context.Context, name string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	var result *cloudapi.Result

	err := c.use(ctx, func(manager *pipeline.APIManager) error {
		var err error

		result, err = manager.Call(ctx, name, args)

		return err
	})

	return result, err
}

// Process runs a request for relativePath without a pattern.
func (c *Client) Process(ctx context.Context, verb, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	var result *cloudapi.Result

	err := c.use(ctx, func(manager *pipeline.APIManager) error {
		var err error

		result, err = manager.Process(ctx, verb, relativePath, args)

		return err
	})

	return result, err
}

// Get runs a GET request.
func (c *Client) Get(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return c.Process(ctx, "get", relativePath, args)
}

// Post runs a POST request.
func (c *Client) Post(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return c.Process(ctx, "post", relativePath, args)
}

// Put runs a PUT request.
func (c *Client) Put(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return c.Process(ctx, "put", relativePath, args)
}

// Patch runs a PATCH request.
func (c *Client) Patch(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return c.Process(ctx, "patch", relativePath, args)
}

// Delete runs a DELETE request.
func (c *Client) Delete(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return c.Process(ctx, "delete", relativePath, args)
}

// Head runs a HEAD request.
func (c *Client) Head(ctx context.Context, relativePath string, args cloudapi.CallArgs) (*cloudapi.Result, error) {
	return c.Process(ctx, "head", relativePath, args)
}

// Stat returns the timings of the last call of the worker of ctx.
func (c *Client) Stat(ctx context.Context) *cloudapi.Stat {
	var stat *cloudapi.Stat

	_ = c.use(ctx, func(manager *pipeline.APIManager) error {
		stat = manager.Stat()

		return nil
	})

	return stat
}

// LastResponse returns the last response of the worker of ctx.
func (c *Client) LastResponse(ctx context.Context) *cloudapi.Response {
	var response *cloudapi.Response

	_ = c.use(ctx, func(manager *pipeline.APIManager) error {
		response = manager.LastResponse()

		return nil
	})

	return response
}

// Storage returns the cache record storage of the worker of ctx.
func (c *Client) Storage(ctx context.Context) cloudapi.Storage {
	if c.storage != nil {
		return c.storage
	}

	var storage cloudapi.Storage

	_ = c.use(ctx, func(manager *pipeline.APIManager) error {
		storage = manager.Storage()

		return nil
	})

	return storage
}

// Workers lists the live worker keys.
func (c *Client) Workers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.workers))
	for key := range c.workers {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Release drops the manager of worker key.
func (c *Client) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.workers[key]; ok {
		delete(c.workers, key)
		c.logger.Debug("Worker released", map[string]interface{}{"worker": key})
	}
}

// Prune drops workers idle for longer than the idle timeout and returns how
// many were dropped. Busy workers are kept.
func (c *Client) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.now().Add(-c.idleTimeout)
	pruned := 0

	for key, w := range c.workers {
		if !w.mu.TryLock() {
			continue
		}

		if w.lastUsed.Before(deadline) {
			delete(c.workers, key)

			pruned++

			c.logger.Debug("Worker pruned", map[string]interface{}{
				"worker":    key,
				"last_used": w.lastUsed,
			})
		}

		w.mu.Unlock()
	}

	return pruned
}

// Close drops every worker and closes the storage built from Config.Storage
// when it holds a connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.workers = make(map[string]*worker)
	c.mu.Unlock()

	if closer, ok := c.storage.(io.Closer); ok && c.ownsStorage {
		err := closer.Close()
		if err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	return nil
}

// use runs fn with the manager of the worker of ctx held exclusively.
func (c *Client) use(ctx context.Context, fn func(*pipeline.APIManager) error) error {
	w, err := c.worker(WorkerFromContext(ctx))
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastUsed = c.now()

	s := scopeFromContext(ctx)
	manager := w.manager

	return manager.WithOptions(func() error {
		return manager.WithHeaders(s.headers, func() error {
			return fn(manager)
		})
	}, s.options...)
}

func (c *Client) worker(key string) (*worker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.workers[key]; ok {
		return w, nil
	}

	manager, err := pipeline.NewAPIManager(c.clientType, pipeline.ManagerConfig{
		Endpoint:    c.endpoint,
		Credentials: c.credentials,
		Storage:     c.storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create manager for worker %s: %w", key, err)
	}

	w := &worker{manager: manager, lastUsed: c.now()}
	c.workers[key] = w

	c.logger.Debug("Worker created", map[string]interface{}{"worker": key})

	return w, nil
}
