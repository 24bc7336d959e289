// Package http is the default connection proxy transport built on
// go-retryablehttp.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Credential names used for TLS client authentication.
const (
	CredentialCert = "cert"
	CredentialKey  = "key"
)

const chunkSize = 32 * 1024

// Static errors for err113 compliance.
var (
	ErrInvalidCAFile = errors.New("no certificates found in CA file")
)

// Transport keeps one pooled HTTP client per remote endpoint and retries
// timeouts, socket and EOF errors with a doubling delay.
type Transport struct {
	logger cloudapi.Logger
	debug  bool

	mu      sync.Mutex
	clients map[string]*http.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger cloudapi.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithDebug logs every request and response.
func WithDebug(debug bool) Option {
	return func(t *Transport) {
		t.debug = debug
	}
}

// NewTransport creates a transport.
func NewTransport(opts ...Option) *Transport {
	transport := &Transport{
		logger:  cloudapi.NopLogger{},
		clients: make(map[string]*http.Client),
	}

	for _, opt := range opts {
		opt(transport)
	}

	return transport
}

// Do performs the request. Every failure to get a response is returned as a
// *cloudapi.ConnectionError.
func (t *Transport) Do(ctx context.Context, req *cloudapi.TransportRequest) (*cloudapi.Response, error) {
	opts := req.Options
	if opts == nil {
		opts = cloudapi.DefaultOptions()
	}

	target, err := resolveURL(req.URI, req.Request.Path)
	if err != nil {
		return nil, &cloudapi.ConnectionError{Attempts: 0, Err: err}
	}

	httpClient, err := t.client(req.URI, opts, req.Credentials)
	if err != nil {
		return nil, &cloudapi.ConnectionError{Attempts: 0, Err: err}
	}

	httpReq, err := newRequest(ctx, req.Request, target, opts)
	if err != nil {
		return nil, &cloudapi.ConnectionError{Attempts: 0, Err: err}
	}

	if t.debug {
		t.logger.Debug("HTTP Request", map[string]interface{}{
			"method": httpReq.Method,
			"url":    target.String(),
		})
	}

	attempts := 1
	verb := req.Request.Verb

	client := &retryablehttp.Client{
		HTTPClient:   httpClient,
		Logger:       leveledLogger{logger: t.logger},
		RetryWaitMin: opts.ConnectionRetryDelay,
		RetryWaitMax: opts.ConnectionRetryDelay << max(opts.ConnectionRetryCount, 0),
		RetryMax:     max(opts.ConnectionRetryCount, 0),
		CheckRetry:   checkRetry(opts.AbortOnTimeout),
		Backoff:      doublingBackoff,
		RequestLogHook: func(_ retryablehttp.Logger, _ *http.Request, retryNumber int) {
			attempts = retryNumber + 1
			if retryNumber > 0 {
				opts.Metrics.RecordConnectionRetry(verb, retryNumber)
			}
		},
		ErrorHandler: func(resp *http.Response, err error, numTries int) (*http.Response, error) {
			attempts = numTries

			return retryablehttp.PassthroughErrorHandler(resp, err, numTries)
		},
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if httpResp != nil && httpResp.Body != nil {
			_ = httpResp.Body.Close()
		}

		return nil, &cloudapi.ConnectionError{Attempts: attempts, Err: err}
	}

	defer func() { _ = httpResp.Body.Close() }()

	resp := &cloudapi.Response{
		Code:    httpResp.StatusCode,
		Status:  httpResp.Status,
		Headers: cloudapi.HeadersFromHTTP(httpResp.Header),
	}

	if opts.OnChunk != nil && resp.IsSuccess() {
		resp.Streamed = true

		err = streamBody(httpResp.Body, opts.OnChunk)
		if err != nil {
			return resp, err
		}
	} else {
		resp.Body, err = io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, &cloudapi.ConnectionError{Attempts: attempts, Err: fmt.Errorf("failed to read response body: %w", err)}
		}
	}

	if t.debug {
		t.logger.Debug("HTTP Response", map[string]interface{}{
			"status":   resp.Code,
			"attempts": attempts,
		})
	}

	return resp, nil
}

// CloseConnection drops every pooled connection. The next request dials again.
func (t *Transport) CloseConnection(reason string) {
	t.mu.Lock()
	clients := t.clients
	t.clients = make(map[string]*http.Client)
	t.mu.Unlock()

	for _, client := range clients {
		client.CloseIdleConnections()
	}

	t.logger.Info("Connection closed", map[string]interface{}{
		"reason": reason,
	})
}

func (t *Transport) client(uri *url.URL, opts *cloudapi.Options, credentials map[string]string) (*http.Client, error) {
	key := fmt.Sprintf("%s://%s|%s|%s|%s|%t",
		uri.Scheme, uri.Host, opts.ConnectionCAFile, opts.ConnectionOpenTimeout, opts.ConnectionReadTimeout,
		credentials[CredentialCert] != "")

	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.clients[key]; ok {
		return client, nil
	}

	tlsCfg, err := newTLSConfig(opts.ConnectionCAFile, credentials)
	if err != nil {
		return nil, err
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = tlsCfg
	transport.TLSHandshakeTimeout = opts.ConnectionOpenTimeout
	transport.ResponseHeaderTimeout = opts.ConnectionReadTimeout
	transport.IdleConnTimeout = constants.DefaultIdleConnTimeout
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.ConnectionOpenTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	client := &http.Client{
		Transport: transport,
		// Redirects are handled by the response analyzer.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	t.clients[key] = client

	return client, nil
}

func newTLSConfig(caFile string, credentials map[string]string) (*tls.Config, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCAFile, caFile)
		}

		config.RootCAs = pool
	}

	if cert, key := credentials[CredentialCert], credentials[CredentialKey]; cert != "" && key != "" {
		pair, err := tls.X509KeyPair([]byte(cert), []byte(key))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		config.Certificates = []tls.Certificate{pair}
	}

	return config, nil
}

func resolveURL(base *url.URL, path string) (*url.URL, error) {
	if base == nil {
		return nil, cloudapi.ErrEndpointRequired
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request path: %w", err)
	}

	return base.ResolveReference(ref), nil
}

func newRequest(ctx context.Context, req *cloudapi.Request, target *url.URL, opts *cloudapi.Options) (*retryablehttp.Request, error) {
	var body interface{}

	switch {
	case req.IsStream():
		body = req.Stream
	case len(req.Body) > 0:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, strings.ToUpper(req.Verb), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range req.Headers {
		if name == "content-length" {
			continue
		}

		for _, value := range values {
			httpReq.Header.Add(name, value)
		}
	}

	if host := req.Headers.Get("host"); host != "" {
		httpReq.Host = host
	}

	if httpReq.Header.Get("User-Agent") == "" {
		userAgent := opts.ConnectionUserAgent
		if userAgent == "" {
			userAgent = constants.DefaultUserAgent
		}

		httpReq.Header.Set("User-Agent", userAgent)
	}

	return httpReq, nil
}

func streamBody(body io.Reader, onChunk func([]byte) error) error {
	buf := make([]byte, chunkSize)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if chunkErr := onChunk(buf[:n]); chunkErr != nil {
				return fmt.Errorf("chunk handler failed: %w", chunkErr)
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			// Bytes already reached the caller, so the request cannot be retried.
			return &cloudapi.ConnectionError{Attempts: 1, Err: fmt.Errorf("failed to stream response body: %w", err)}
		}
	}
}

// checkRetry retries low-level failures only. HTTP statuses are left to the
// response analyzer.
func checkRetry(abortOnTimeout bool) retryablehttp.CheckRetry {
	return func(ctx context.Context, _ *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if err == nil {
			return false, nil
		}

		if IsTimeout(err) {
			return !abortOnTimeout, nil
		}

		return IsRetriable(err), nil
	}
}

// IsTimeout reports a network timeout.
func IsTimeout(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetriable reports socket and EOF errors. TLS verification failures are not retried.
func IsRetriable(err error) bool {
	var (
		certErr      *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
	)

	switch {
	case errors.As(err, &certErr), errors.As(err, &authorityErr), errors.As(err, &hostErr):
		return false
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED), errors.Is(err, syscall.EPIPE):
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}

func doublingBackoff(minWait, maxWait time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := minWait << attemptNum
	if wait > maxWait || wait < 0 {
		return maxWait
	}

	return wait
}

// leveledLogger adapts cloudapi.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger cloudapi.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, kvFields(keysAndValues))
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, kvFields(keysAndValues))
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, kvFields(keysAndValues))
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, kvFields(keysAndValues))
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}

	return fields
}
