package cloudapi

import (
	"context"
	"errors"
	"strings"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns tracer, or the global provider's tracer when nil.
func Tracer(tracer trace.Tracer) trace.Tracer {
	if tracer != nil {
		return tracer
	}

	return otel.GetTracerProvider().Tracer(constants.TracerName)
}

// StartCallSpan starts the span covering one API call.
//
//	ctx, span := cloudapi.StartCallSpan(ctx, opts.Tracer, "DescribeInstance", "get")
//	defer func() { cloudapi.EndSpan(span, err) }()
func StartCallSpan(ctx context.Context, tracer trace.Tracer, name, verb string) (context.Context, trace.Span) {
	return Tracer(tracer).Start(ctx, "cloudapi."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cloudapi.pattern", name),
			attribute.String("http.request.method", strings.ToUpper(verb)),
		),
	)
}

// StartRoutineSpan starts a child span for one routine run.
func StartRoutineSpan(ctx context.Context, tracer trace.Tracer, routine string) (context.Context, trace.Span) {
	return Tracer(tracer).Start(ctx, "cloudapi.routine."+routine,
		trace.WithAttributes(attribute.String("cloudapi.routine", routine)),
	)
}

// SetResponseAttributes adds the response code to span.
func SetResponseAttributes(span trace.Span, response *Response) {
	if span == nil || response == nil {
		return
	}

	span.SetAttributes(attribute.Int("http.response.status_code", response.Code))
}

// EndSpan records err (cache hits are not errors) and ends span.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}

	var hit *CacheHitError

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.As(err, &hit):
		span.SetAttributes(attribute.Bool("cloudapi.cache_hit", true))
		span.SetStatus(codes.Ok, "")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}
