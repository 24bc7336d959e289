package pipeline_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/pipeline"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "https://api.example.com/v1"

// MockLogger collects log messages.
type MockLogger struct {
	mu       sync.Mutex
	Messages []string
}

func (m *MockLogger) Debug(msg string, fields map[string]interface{}) { m.add(msg) }
func (m *MockLogger) Info(msg string, fields map[string]interface{})  { m.add(msg) }
func (m *MockLogger) Warn(msg string, fields map[string]interface{})  { m.add(msg) }
func (m *MockLogger) Error(msg string, fields map[string]interface{}) { m.add(msg) }

func (m *MockLogger) add(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Messages = append(m.Messages, msg)
}

func (m *MockLogger) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.Messages...)
}

// fakeTransport answers requests from a handler and records them.
type fakeTransport struct {
	mu      sync.Mutex
	handler func(call int, req *cloudapi.TransportRequest) (*cloudapi.Response, error)
	calls   []*cloudapi.TransportRequest
	bodies  []string
	closed  []string
}

func (f *fakeTransport) Do(ctx context.Context, req *cloudapi.TransportRequest) (*cloudapi.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body := string(req.Request.Body)

	if req.Request.Stream != nil {
		data, err := io.ReadAll(req.Request.Stream)
		if err != nil {
			return nil, err
		}

		body = string(data)
	}

	f.calls = append(f.calls, req)
	f.bodies = append(f.bodies, body)

	return f.handler(len(f.calls), req)
}

func (f *fakeTransport) CloseConnection(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = append(f.closed, reason)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func respond(code int, body string) *cloudapi.Response {
	return &cloudapi.Response{
		Code:    code,
		Headers: cloudapi.Headers{"content-type": {"application/json"}},
		Body:    []byte(body),
	}
}

func staticTransport(code int, body string) *fakeTransport {
	return &fakeTransport{
		handler: func(int, *cloudapi.TransportRequest) (*cloudapi.Response, error) {
			return respond(code, body), nil
		},
	}
}

// sleepRecorder replaces the retry sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sleeps = append(s.sleeps, d)

	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.sleeps...)
}

// routinesWith returns the default chain with a RetryManager that does not
// really sleep.
func routinesWith(recorder *sleepRecorder) []pipeline.RoutineFactory {
	factories := pipeline.DefaultRoutines()
	factories[0] = func() pipeline.Routine {
		return &pipeline.RetryManager{Sleep: recorder.sleep}
	}

	return factories
}

func newTestClientType(recorder *sleepRecorder, opts ...cloudapi.Option) *pipeline.ClientType {
	clientType := pipeline.NewClientType("test", opts...)
	clientType.Routines = routinesWith(recorder)

	return clientType
}

func newTestManager(t *testing.T, clientType *pipeline.ClientType, opts ...cloudapi.Option) *pipeline.APIManager {
	t.Helper()

	manager, err := pipeline.NewAPIManager(clientType, pipeline.ManagerConfig{
		Endpoint:    testEndpoint,
		Credentials: map[string]string{"access_key": "AKID", "secret_key": "secret"},
		Options:     opts,
	})
	require.NoError(t, err)

	return manager
}
