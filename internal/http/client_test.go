package http_test

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cloudhttp "github.com/fivetwenty-io/cloudapi/internal/http"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockLogger for testing.
type MockLogger struct {
	mu   sync.Mutex
	logs []map[string]interface{}
}

func (l *MockLogger) add(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs = append(l.logs, map[string]interface{}{"level": level, "msg": msg, "fields": fields})
}

func (l *MockLogger) Debug(msg string, fields map[string]interface{}) { l.add("debug", msg, fields) }
func (l *MockLogger) Info(msg string, fields map[string]interface{})  { l.add("info", msg, fields) }
func (l *MockLogger) Warn(msg string, fields map[string]interface{})  { l.add("warn", msg, fields) }
func (l *MockLogger) Error(msg string, fields map[string]interface{}) { l.add("error", msg, fields) }

func (l *MockLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := make([]string, 0, len(l.logs))
	for _, entry := range l.logs {
		msgs = append(msgs, entry["msg"].(string))
	}

	return msgs
}

func newRequest(t *testing.T, serverURL, verb, path string, body []byte, opts ...cloudapi.Option) *cloudapi.TransportRequest {
	t.Helper()

	uri, err := url.Parse(serverURL)
	require.NoError(t, err)

	headers := cloudapi.Headers{}
	if body != nil {
		headers.Set("content-type", "application/json")
	}

	return &cloudapi.TransportRequest{
		URI:     uri,
		Request: cloudapi.NewRequest(verb, path, body, nil, headers),
		Options: cloudapi.ResolveOptions(append([]cloudapi.Option{
			cloudapi.WithConnectionRetry(2, time.Millisecond),
		}, opts...)...),
	}
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestTransport_Do(t *testing.T) {
	t.Parallel()
	t.Run("successful request", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "/v1/instances", request.URL.Path)
			assert.Equal(t, "page=2", request.URL.RawQuery)
			assert.Equal(t, "GET", request.Method)
			assert.Equal(t, "cloudapi-go/1.0", request.Header.Get("User-Agent"))

			writer.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(writer).Encode(map[string]string{"id": "i-1"})
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()

		resp, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/v1/instances?page=2", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Code)
		assert.Equal(t, "application/json", resp.Headers.Get("content-type"))

		var result map[string]string

		err = json.Unmarshal(resp.Body, &result)
		require.NoError(t, err)
		assert.Equal(t, "i-1", result["id"])
	})

	t.Run("request with body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "POST", request.Method)
			assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

			var body map[string]string

			_ = json.NewDecoder(request.Body).Decode(&body)
			assert.Equal(t, "test-instance", body["name"])

			writer.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()

		resp, err := transport.Do(context.Background(),
			newRequest(t, server.URL, "post", "/v1/instances", []byte(`{"name":"test-instance"}`)))
		require.NoError(t, err)
		assert.Equal(t, 201, resp.Code)
	})

	t.Run("error responses are returned, not failed", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts.Add(1)
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("busy"))
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()

		resp, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/", nil))
		require.NoError(t, err)
		assert.Equal(t, 503, resp.Code)
		assert.Equal(t, "busy", string(resp.Body))
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("redirects are not followed", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			http.Redirect(writer, request, "https://other.example.com/", http.StatusMovedPermanently)
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()

		resp, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/", nil))
		require.NoError(t, err)
		assert.Equal(t, 301, resp.Code)
		assert.Equal(t, "https://other.example.com/", resp.Headers.Get("location"))
	})

	t.Run("custom headers", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			assert.Equal(t, "custom-value", request.Header.Get("X-Custom-Header"))
			assert.Equal(t, "my-agent", request.Header.Get("User-Agent"))
			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()
		req := newRequest(t, server.URL, "get", "/", nil, cloudapi.WithUserAgent("my-agent"))
		req.Request.Headers.Set("x-custom-header", "custom-value")

		resp, err := transport.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Code)
	})

	t.Run("with debug logging", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		logger := &MockLogger{}
		transport := cloudhttp.NewTransport(cloudhttp.WithLogger(logger), cloudhttp.WithDebug(true))

		_, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/", nil))
		require.NoError(t, err)

		msgs := logger.messages()
		assert.Contains(t, msgs, "HTTP Request")
		assert.Contains(t, msgs, "HTTP Response")
	})

	t.Run("streams successful bodies", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			_, _ = writer.Write([]byte("chunked payload"))
		}))
		defer server.Close()

		var received []byte

		transport := cloudhttp.NewTransport()
		req := newRequest(t, server.URL, "get", "/", nil, cloudapi.WithChunkHandler(func(chunk []byte) error {
			received = append(received, chunk...)

			return nil
		}))

		resp, err := transport.Do(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, resp.Streamed)
		assert.Empty(t, resp.Body)
		assert.Equal(t, "chunked payload", string(received))
	})
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestTransport_Methods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		verb   string
		method string
		body   []byte
	}{
		{name: "GET", verb: "get", method: "GET"},
		{name: "POST", verb: "post", method: "POST", body: []byte(`{"key":"value"}`)},
		{name: "PUT", verb: "put", method: "PUT", body: []byte(`{"key":"value"}`)},
		{name: "PATCH", verb: "patch", method: "PATCH", body: []byte(`{"key":"value"}`)},
		{name: "DELETE", verb: "delete", method: "DELETE"},
		{name: "HEAD", verb: "head", method: "HEAD"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				assert.Equal(t, testCase.method, request.Method)
				assert.Equal(t, "/test", request.URL.Path)

				body, _ := io.ReadAll(request.Body)
				assert.Equal(t, string(testCase.body), string(body))
				writer.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			transport := cloudhttp.NewTransport()

			resp, err := transport.Do(context.Background(), newRequest(t, server.URL, testCase.verb, "/test", testCase.body))
			require.NoError(t, err)
			assert.Equal(t, 200, resp.Code)
		})
	}
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestTransport_RetryLogic(t *testing.T) {
	t.Parallel()
	t.Run("retries on timeouts", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if attempts.Add(1) < 2 {
				time.Sleep(300 * time.Millisecond)
			}

			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()
		req := newRequest(t, server.URL, "get", "/", nil, cloudapi.WithTimeouts(time.Second, 100*time.Millisecond))

		resp, err := transport.Do(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Code)
		assert.Equal(t, int32(2), attempts.Load())
	})

	t.Run("does not retry timeouts when aborting on timeout", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			attempts.Add(1)
			time.Sleep(300 * time.Millisecond)
			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		transport := cloudhttp.NewTransport()
		req := newRequest(t, server.URL, "post", "/", nil,
			cloudapi.WithTimeouts(time.Second, 100*time.Millisecond),
			cloudapi.WithAbortOnTimeout(true))

		_, err := transport.Do(context.Background(), req)
		require.Error(t, err)
		assert.True(t, cloudapi.IsConnectionError(err))
		assert.True(t, cloudhttp.IsTimeout(err))
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("gives up on refused connections", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {}))
		serverURL := server.URL
		server.Close()

		collector := cloudapi.NewMetricsCollectorWithRegistry(nil)
		transport := cloudhttp.NewTransport()

		_, err := transport.Do(context.Background(),
			newRequest(t, serverURL, "get", "/", nil, cloudapi.WithMetrics(collector)))
		require.Error(t, err)

		var connErr *cloudapi.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, 3, connErr.Attempts)
		assert.Contains(t, err.Error(), "connection failed after 3 attempts")
	})
}

func TestTransport_TLS(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o600))

	t.Run("untrusted certificate", func(t *testing.T) {
		t.Parallel()

		transport := cloudhttp.NewTransport()

		_, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/", nil))
		require.Error(t, err)

		var connErr *cloudapi.ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, 1, connErr.Attempts)
	})

	t.Run("trusted through the CA file", func(t *testing.T) {
		t.Parallel()

		transport := cloudhttp.NewTransport()

		resp, err := transport.Do(context.Background(),
			newRequest(t, server.URL, "get", "/", nil, cloudapi.WithCAFile(caFile)))
		require.NoError(t, err)
		assert.Equal(t, 204, resp.Code)
	})

	t.Run("invalid CA file", func(t *testing.T) {
		t.Parallel()

		badFile := filepath.Join(t.TempDir(), "bad.pem")
		require.NoError(t, os.WriteFile(badFile, []byte("not a certificate"), 0o600))

		transport := cloudhttp.NewTransport()

		_, err := transport.Do(context.Background(),
			newRequest(t, server.URL, "get", "/", nil, cloudapi.WithCAFile(badFile)))
		require.ErrorIs(t, err, cloudhttp.ErrInvalidCAFile)
	})
}

func TestTransport_CloseConnection(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := &MockLogger{}
	transport := cloudhttp.NewTransport(cloudhttp.WithLogger(logger))

	_, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/", nil))
	require.NoError(t, err)

	transport.CloseConnection("reconnect_and_retry")
	assert.Contains(t, logger.messages(), "Connection closed")

	resp, err := transport.Do(context.Background(), newRequest(t, server.URL, "get", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
}

func TestIsRetriable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"eof", io.EOF, true},
		{"wrapped unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"url error", &url.Error{Op: "Get", URL: "http://x", Err: io.EOF}, true},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, cloudhttp.IsRetriable(tt.err))
		})
	}
}
