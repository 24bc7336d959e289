package pipeline

import (
	"context"
	"crypto/md5" //nolint:gosec // fingerprints, not security
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/fivetwenty-io/cloudapi/internal/parser"
	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

var endpointTagRe = regexp.MustCompile(`<Endpoint>(.*?)</Endpoint>`)

// ResponseAnalyzer classifies the response: 2xx continues, 3xx follows the
// redirect by restarting the chain, 4xx/5xx go through the error patterns.
type ResponseAnalyzer struct {
	base
}

// Name implements Routine.
func (a *ResponseAnalyzer) Name() string { return "ResponseAnalyzer" }

// Process implements Routine.
func (a *ResponseAnalyzer) Process(ctx context.Context) StepResult {
	response := a.rc.Response.Instance
	if response == nil {
		return Fatal(fmt.Errorf("%w: no response", cloudapi.ErrUnexpectedResponseCode))
	}

	a.log(cloudapi.TopicResponseAnalyzer, "Response received: "+response.String())
	a.log(cloudapi.TopicResponseAnalyzer, "Response headers:  "+response.Headers.String())

	bodyTopic := cloudapi.TopicResponseAnalyzerBody
	if response.IsError() || response.IsRedirect() {
		bodyTopic = cloudapi.TopicResponseAnalyzerBodyError
	}

	a.log(bodyTopic, "Response body:     "+response.BodyInfo())

	switch {
	case response.IsSuccess():
		return Continue
	case response.IsRedirect():
		return a.redirect(ctx, response)
	case response.IsError():
		return a.analyzeError(ctx, response)
	default:
		return Fatal(fmt.Errorf("%w: %d", cloudapi.ErrUnexpectedResponseCode, response.Code))
	}
}

func (a *ResponseAnalyzer) analyzeError(ctx context.Context, response *cloudapi.Response) StepResult {
	opts := a.options()
	message := fmt.Sprintf("%d: %s", response.Code, response.Body)

	if opts.ErrorParser != nil {
		_ = a.withTimer("Error parsing", cloudapi.TopicTimer, func() error {
			message = opts.ErrorParser.ParseError(response, opts)

			return nil
		})
	}

	httpErr := &cloudapi.HTTPError{Code: response.Code, Message: message}
	a.rc.Vars.LastHTTPError = httpErr

	input := a.rc.MatchInput()

	for _, pattern := range a.rc.ErrorPatterns {
		if pattern.Action.IsRequestAction() || !pattern.Matches(input) {
			continue
		}

		a.log(cloudapi.TopicResponseAnalyzer, "Response matches to error pattern: "+pattern.String())

		switch pattern.Action {
		case cloudapi.ActionDisconnectAndAbort:
			a.rc.CloseConnection("Error pattern match")

			return Fatal(httpErr)
		case cloudapi.ActionReconnectAndRetry:
			a.rc.CloseConnection("Error pattern match")

			return Retry
		case cloudapi.ActionRetry:
			if callback := opts.Callbacks.BeforeRetry; callback != nil {
				callback(ctx, cloudapi.RetryEvent{Pattern: pattern, Input: input})
			}

			return Retry
		default:
			return Fatal(httpErr)
		}
	}

	return Fatal(httpErr)
}

func (a *ResponseAnalyzer) redirect(ctx context.Context, response *cloudapi.Response) StepResult {
	location := response.Headers.Get("location")

	if cloudapi.IsBlank(location) {
		if match := endpointTagRe.FindSubmatch(response.Body); match != nil && len(match[1]) > 0 {
			target := *a.rc.Connection
			target.Host = string(match[1])
			location = target.String()
		}
	}

	if cloudapi.IsBlank(location) {
		return Fatal(&cloudapi.HTTPError{Code: response.Code, Message: cloudapi.ErrCannotParseRedirect.Error()})
	}

	parsed, err := url.Parse(location)
	if err != nil {
		return Fatal(&cloudapi.HTTPError{
			Code:    response.Code,
			Message: fmt.Sprintf("%s: %v", cloudapi.ErrCannotParseRedirect, err),
		})
	}

	a.rc.Connection = a.rc.Connection.ResolveReference(parsed)

	oldRequest := a.rc.Request.Instance
	a.rc.Request.Instance = nil
	a.rc.Request.Path = ""

	a.log(cloudapi.TopicResponseAnalyzer, fmt.Sprintf("Redirect detected: %q", location))

	if callback := a.options().Callbacks.BeforeRedirect; callback != nil {
		callback(ctx, cloudapi.RedirectEvent{OldRequest: oldRequest, Location: location})
	}

	return Retry
}

// CacheValidator fingerprints responses matching a cache pattern and reports
// a cache hit when the fingerprint did not change since the last call.
type CacheValidator struct {
	base
}

// Name implements Routine.
func (v *CacheValidator) Name() string { return "CacheValidator" }

// Process implements Routine.
func (v *CacheValidator) Process(ctx context.Context) StepResult {
	if !v.options().Cache || v.rc.Response.Instance == nil || v.rc.Response.Instance.Streamed {
		return Continue
	}

	input := v.rc.MatchInput()

	for _, pattern := range v.rc.CachePatterns {
		if !pattern.Matches(input) {
			continue
		}

		v.log(cloudapi.TopicCacheValidator, "Request matches to cache pattern: "+pattern.String())

		key, text, err := pattern.BuildKey(input)
		if err != nil {
			return Fatal(err)
		}

		return v.validate(ctx, key, text)
	}

	return Continue
}

func (v *CacheValidator) validate(ctx context.Context, key, text string) StepResult {
	sum := md5.Sum([]byte(text)) //nolint:gosec // fingerprints, not security
	record := cloudapi.CacheRecord{
		Timestamp: time.Now().UTC(),
		MD5:       hex.EncodeToString(sum[:]),
	}

	v.log(cloudapi.TopicCacheValidator, fmt.Sprintf("Processing cache record: %s => %s", key, record.MD5))
	v.rc.Vars.Cache = &cloudapi.CacheState{Key: key, Record: record}

	var (
		hit     *cloudapi.CacheRecord
		message string
	)

	err := cloudapi.UpdateRecord(ctx, v.rc.Vars.System.Storage, key, func(current *cloudapi.CacheRecord) *cloudapi.CacheRecord {
		hit = nil

		switch {
		case current == nil:
			message = "New cache record created"
		case current.MD5 != record.MD5:
			message = "Missed. Record is replaced"
		default:
			current.Hits++
			hit = current

			return current
		}

		fresh := record

		return &fresh
	})
	if err != nil {
		return Fatal(fmt.Errorf("failed to update cache record %q: %w", key, err))
	}

	if hit == nil {
		v.log(cloudapi.TopicCacheValidator, message)

		return Continue
	}

	hitErr := &cloudapi.CacheHitError{Key: key, Record: *hit}
	v.log(cloudapi.TopicCacheValidator, hitErr.Error())

	return Hit(hitErr)
}

// ResponseParser parses the body by content type. Streamed bodies are not
// parsed; RawResponse keeps the body as a string.
type ResponseParser struct {
	base
}

// Name implements Routine.
func (p *ResponseParser) Name() string { return "ResponseParser" }

// Process implements Routine.
func (p *ResponseParser) Process(context.Context) StepResult {
	response := p.rc.Response.Instance
	if response.Streamed {
		return Continue
	}

	if p.options().RawResponse {
		p.rc.Response.Parsed = string(response.Body)

		return Continue
	}

	bodyParser, parseOpts, err := parser.Select(response.Headers.Get("content-type"), response.Body, p.options().XMLParser)
	if err != nil {
		return Fatal(&cloudapi.ConfigurationError{Key: p.options().XMLParser, Err: err})
	}

	err = p.withTimer(fmt.Sprintf("Response parsing with %v", bodyParser), cloudapi.TopicResponseParser, func() error {
		parsed, err := bodyParser.Parse(response.Body, parseOpts)
		if err != nil {
			return err
		}

		p.rc.Response.Parsed = parsed

		return nil
	})
	if err != nil {
		return Fatal(err)
	}

	return Continue
}

// ResultWrapper wraps the parsed body with response metadata.
type ResultWrapper struct {
	base
}

// Name implements Routine.
func (w *ResultWrapper) Name() string { return "ResultWrapper" }

// Process implements Routine.
func (w *ResultWrapper) Process(context.Context) StepResult {
	response := w.rc.Response.Instance

	w.rc.Result = &cloudapi.Result{
		Body: w.rc.Response.Parsed,
		Metadata: cloudapi.Metadata{
			Headers: response.Headers,
			Code:    response.Code,
			Cache:   w.rc.Vars.Cache,
		},
	}

	return Continue
}
