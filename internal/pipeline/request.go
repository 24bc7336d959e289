package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// RequestInitializer adds a random token param to GET requests when asked.
type RequestInitializer struct {
	base
}

// Name implements Routine.
func (r *RequestInitializer) Name() string { return "RequestInitializer" }

// Process implements Routine.
func (r *RequestInitializer) Process(context.Context) StepResult {
	opts := r.options()
	if r.rc.Request.Verb != "get" || !opts.RandomToken {
		return Continue
	}

	name := opts.RandomTokenName
	if name == "" {
		name = constants.DefaultRandomTokenName
	}

	r.rc.Request.Params[name] = cloudapi.GenerateToken()

	return Continue
}

// RequestGenerator builds the HTTP request from the request data. The path
// is computed on every pass so redirects and param changes are picked up.
type RequestGenerator struct {
	base
}

// Name implements Routine.
func (r *RequestGenerator) Name() string { return "RequestGenerator" }

// Process implements Routine.
func (r *RequestGenerator) Process(context.Context) StepResult {
	data := &r.rc.Request
	data.Path = cloudapi.JoinURNWithParams(data.Params, r.rc.Connection.Path, data.RelativePath)

	headers := data.Headers.Clone()

	body, stream, err := encodeBody(data.Body, headers)
	if err != nil {
		return Fatal(err)
	}

	request := cloudapi.NewRequest(data.Verb, data.Path, body, stream, headers)
	data.Instance = request

	r.log(cloudapi.TopicRequestGenerator, "Request generated: "+request.String())
	r.log(cloudapi.TopicRequestGenerator, "Request headers:   "+request.Headers.String())

	if len(request.Body) > 0 || request.IsStream() {
		r.log(cloudapi.TopicRequestGeneratorBody, "Request body:      "+request.BodyInfo())
	}

	return Continue
}

// encodeBody turns a caller body into bytes or a stream. Map bodies are
// encoded by content-type; JSON is assumed when none is set. Lists and
// scalars can only be sent as JSON.
func encodeBody(body any, headers cloudapi.Headers) ([]byte, io.Reader, error) {
	switch typed := body.(type) {
	case nil:
		return nil, nil, nil
	case []byte:
		return typed, nil, nil
	case string:
		return []byte(typed), nil, nil
	case io.Reader:
		return nil, typed, nil
	case map[string]any:
		headers.SetIfBlank("content-type", "application/json")

		encoded, err := cloudapi.ContentifyBody(typed, headers.Get("content-type"))
		if err != nil {
			return nil, nil, &cloudapi.ConfigurationError{Key: "body", Err: err}
		}

		data, _ := encoded.([]byte)

		return data, nil, nil
	default:
		headers.SetIfBlank("content-type", "application/json")

		if contentType := headers.Get("content-type"); !strings.Contains(contentType, "json") {
			return nil, nil, &cloudapi.ConfigurationError{
				Key: "body",
				Err: fmt.Errorf("%w: %T as %q", cloudapi.ErrUnsupportedBodyType, body, contentType),
			}
		}

		data, err := json.Marshal(typed)
		if err != nil {
			return nil, nil, &cloudapi.ConfigurationError{Key: "body", Err: err}
		}

		return data, nil, nil
	}
}

// RequestAnalyzer flags requests matching an abort_on_timeout error pattern
// so the transport does not retry their timeouts.
type RequestAnalyzer struct {
	base
}

// Name implements Routine.
func (r *RequestAnalyzer) Name() string { return "RequestAnalyzer" }

// Process implements Routine.
func (r *RequestAnalyzer) Process(context.Context) StepResult {
	input := r.rc.MatchInput()
	input.Response = nil

	for _, pattern := range r.rc.ErrorPatterns {
		if !pattern.Action.IsRequestAction() || !pattern.Matches(input) {
			continue
		}

		r.rc.Options.AbortOnTimeout = true
		r.log(cloudapi.TopicRequestAnalyzer, "Request matches to error pattern: "+pattern.String())

		break
	}

	return Continue
}
