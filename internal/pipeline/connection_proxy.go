package pipeline

import (
	"context"

	cloudhttp "github.com/fivetwenty-io/cloudapi/internal/http"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
	"go.opentelemetry.io/otel/trace"
)

// ConnectionProxy sends the request through Options.Transport, or through a
// pooled default transport created on first use and kept by the manager.
type ConnectionProxy struct {
	base

	transport cloudapi.Transport
}

// Name implements Routine.
func (p *ConnectionProxy) Name() string { return "ConnectionProxy" }

// Process implements Routine.
func (p *ConnectionProxy) Process(ctx context.Context) StepResult {
	opts := p.options()

	transport := opts.Transport
	if transport == nil {
		if p.transport == nil {
			p.transport = cloudhttp.NewTransport(cloudhttp.WithLogger(opts.Logger))
		}

		transport = p.transport
	}

	p.rc.Callbacks.CloseConnection = func(reason string) {
		transport.CloseConnection(reason)
		p.log(cloudapi.TopicConnectionProxy, "Current connection closed: "+reason)
	}

	var response *cloudapi.Response

	err := p.withTimer("HTTP request", cloudapi.TopicConnectionProxy, func() error {
		var err error

		response, err = transport.Do(ctx, &cloudapi.TransportRequest{
			URI:         p.rc.Connection,
			Request:     p.rc.Request.Instance,
			Options:     opts,
			Credentials: p.rc.Credentials,
		})

		return err
	})
	if err != nil {
		return Fatal(err)
	}

	p.rc.Response.Instance = response
	cloudapi.SetResponseAttributes(trace.SpanFromContext(ctx), response)

	return Continue
}
