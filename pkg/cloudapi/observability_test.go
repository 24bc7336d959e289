package cloudapi_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsCollector(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	collector := cloudapi.NewMetricsCollectorWithRegistry(registry)

	done := collector.CallStarted("get")
	collector.RecordCall("get", "success", 50*time.Millisecond)
	collector.RecordCall("GET", "success", 20*time.Millisecond)
	collector.RecordCall("post", "http_error", time.Second)
	collector.RecordRetry("get", "error_pattern")
	collector.RecordConnectionRetry("get", 1)
	collector.RecordCacheHit("get")
	collector.RecordRoutine("RequestGenerator", time.Millisecond)

	expected := `
# HELP cloudapi_calls_total Total number of API calls by outcome
# TYPE cloudapi_calls_total counter
cloudapi_calls_total{outcome="http_error",verb="POST"} 1
cloudapi_calls_total{outcome="success",verb="GET"} 2
# HELP cloudapi_calls_in_flight Number of API calls currently in flight
# TYPE cloudapi_calls_in_flight gauge
cloudapi_calls_in_flight{verb="GET"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"cloudapi_calls_total", "cloudapi_calls_in_flight"))

	done()

	count, err := testutil.GatherAndCount(registry,
		"cloudapi_retries_total", "cloudapi_connection_retries_total", "cloudapi_cache_hits_total",
		"cloudapi_routine_duration_seconds", "cloudapi_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestMetricsCollector_Nil(t *testing.T) {
	t.Parallel()

	var collector *cloudapi.MetricsCollector

	assert.NotPanics(t, func() {
		collector.CallStarted("get")()
		collector.RecordCall("get", "success", time.Second)
		collector.RecordRoutine("RetryManager", time.Second)
		collector.RecordRetry("get", "redirect")
		collector.RecordConnectionRetry("get", 2)
		collector.RecordCacheHit("get")
	})
}

func TestMetricsCallbacks(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	callbacks := cloudapi.MetricsCallbacks(cloudapi.NewMetricsCollectorWithRegistry(registry))
	ctx := context.Background()

	callbacks.BeforeRetry(ctx, cloudapi.RetryEvent{Input: cloudapi.MatchInput{Verb: "get"}})
	callbacks.BeforeRedirect(ctx, cloudapi.RedirectEvent{OldRequest: &cloudapi.Request{Verb: "get"}})
	callbacks.StatData(ctx, &cloudapi.Stat{Sessions: []cloudapi.StatSession{
		{{Name: "RequestGenerator"}, {Name: "ConnectionProxy"}},
	}}, nil)
	callbacks.StatData(ctx, nil, errors.New("ignored"))

	expected := `
# HELP cloudapi_retries_total Total number of pipeline restarts
# TYPE cloudapi_retries_total counter
cloudapi_retries_total{reason="error_pattern",verb="GET"} 1
cloudapi_retries_total{reason="redirect",verb="GET"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "cloudapi_retries_total"))

	count, err := testutil.GatherAndCount(registry, "cloudapi_routine_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCallbacks_Chain(t *testing.T) {
	t.Parallel()

	var order []string

	first := cloudapi.Callbacks{
		BeforeProcess: func(context.Context) { order = append(order, "first") },
		AfterError:    func(context.Context, error) { order = append(order, "first-error") },
	}
	second := cloudapi.Callbacks{
		BeforeProcess: func(context.Context) { order = append(order, "second") },
		StatData:      func(context.Context, *cloudapi.Stat, error) { order = append(order, "second-stat") },
	}

	chained := first.Chain(second)
	ctx := context.Background()

	chained.BeforeProcess(ctx)
	chained.AfterError(ctx, errors.New("boom"))
	chained.StatData(ctx, nil, nil)

	assert.Equal(t, []string{"first", "second", "first-error", "second-stat"}, order)
	assert.Nil(t, chained.AfterProcess)
	assert.Nil(t, chained.BeforeRedirect)
}

func TestLoggingCallbacks(t *testing.T) {
	t.Parallel()

	mock := &MockLogger{}
	callbacks := cloudapi.LoggingCallbacks(mock)
	ctx := context.Background()

	callbacks.AfterRoutine(ctx, cloudapi.RoutineEvent{Routine: "ResponseAnalyzer"})
	callbacks.AfterRoutine(ctx, cloudapi.RoutineEvent{Routine: "ResponseAnalyzer", Retry: true})
	callbacks.BeforeRetry(ctx, cloudapi.RetryEvent{Input: cloudapi.MatchInput{
		Verb: "get", Response: &cloudapi.Response{Code: 503},
	}})
	callbacks.BeforeRedirect(ctx, cloudapi.RedirectEvent{Location: "https://other.example.com/"})
	callbacks.AfterError(ctx, errors.New("boom"))

	require.Len(t, mock.entries, 4)
	assert.Equal(t, "Routine requested a retry", mock.entries[0].msg)
	assert.Equal(t, 503, mock.entries[1].fields["status_code"])
	assert.Equal(t, "https://other.example.com/", mock.entries[2].fields["location"])
	assert.Equal(t, "error", mock.entries[3].level)
}

func TestTracing(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	ctx, call := cloudapi.StartCallSpan(context.Background(), tracer, "ListItems", "get")
	_, routine := cloudapi.StartRoutineSpan(ctx, tracer, "ConnectionProxy")
	cloudapi.SetResponseAttributes(routine, &cloudapi.Response{Code: 200})
	cloudapi.EndSpan(routine, &cloudapi.CacheHitError{Key: "items"})
	cloudapi.EndSpan(call, errors.New("boom"))

	cloudapi.EndSpan(nil, nil)
	cloudapi.SetResponseAttributes(nil, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "cloudapi.routine.ConnectionProxy", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.response.status_code", 200))
	assert.Contains(t, spans[0].Attributes(), attribute.Bool("cloudapi.cache_hit", true))
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())

	assert.Equal(t, "cloudapi.ListItems", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String("http.request.method", "GET"))
	assert.NotNil(t, cloudapi.Tracer(nil))
}
