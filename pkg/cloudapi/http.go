package cloudapi

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/fivetwenty-io/cloudapi/internal/constants"
)

// Request is the HTTP request built by the request generator.
type Request struct {
	// Verb is the lowercase HTTP method.
	Verb string
	// Path is the request URI (path and query) relative to the connection host.
	Path    string
	Headers Headers
	// Body holds an in-memory body. Mutually exclusive with Stream.
	Body []byte
	// Stream holds a streamed upload body.
	Stream io.Reader
}

// NewRequest creates a request and keeps content-length in sync with the body.
func NewRequest(verb, path string, body []byte, stream io.Reader, headers Headers) *Request {
	if headers == nil {
		headers = Headers{}
	}

	req := &Request{
		Verb:    strings.ToLower(verb),
		Path:    path,
		Headers: headers,
	}
	req.SetBody(body, stream)

	return req
}

// SetBody replaces the body. Blank bodies get content-length 0; a seekable
// stream gets its remaining size unless a smaller length was already set.
func (r *Request) SetBody(body []byte, stream io.Reader) {
	r.Body, r.Stream = nil, nil

	switch {
	case stream != nil:
		r.Stream = stream

		remaining, ok := StreamRemaining(stream)
		if !ok {
			return
		}

		current, err := strconv.ParseInt(r.Headers.Get("content-length"), 10, 64)
		if err != nil || current > remaining {
			r.Headers.Set("content-length", strconv.FormatInt(remaining, 10))
		}
	case len(body) == 0:
		r.Headers.Set("content-length", "0")
	default:
		r.Body = body

		current, err := strconv.Atoi(r.Headers.Get("content-length"))
		if err != nil || current > len(body) {
			r.Headers.Set("content-length", strconv.Itoa(len(body)))
		}
	}
}

// IsStream reports whether the body is streamed.
func (r *Request) IsStream() bool {
	return r.Stream != nil
}

// String renders "VERB path".
func (r *Request) String() string {
	return strings.ToUpper(r.Verb) + " " + r.Path
}

// BodyInfo describes the body for logging.
func (r *Request) BodyInfo() string {
	if r.IsStream() {
		size, _ := StreamRemaining(r.Stream)

		return fmt.Sprintf("%T, remaining: %d", r.Stream, size)
	}

	return fmt.Sprintf("size: %d, first %d bytes:\n%s",
		len(r.Body), constants.RequestBodyBytesToLog, truncate(r.Body, constants.RequestBodyBytesToLog))
}

// Response is the HTTP response returned by a Transport.
type Response struct {
	Code    int
	Status  string
	Headers Headers
	Body    []byte
	// Streamed is set when the body was delivered to a chunk callback.
	Streamed bool
}

// IsError reports a 4xx or 5xx code.
func (r *Response) IsError() bool {
	return r.Code >= 400 && r.Code < 600
}

// IsRedirect reports a 3xx code.
func (r *Response) IsRedirect() bool {
	return r.Code >= 300 && r.Code < 400
}

// IsSuccess reports a 2xx code.
func (r *Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

// String renders the status line.
func (r *Response) String() string {
	if r.Status != "" {
		return r.Status
	}

	return strconv.Itoa(r.Code)
}

// BodyInfo describes the body for logging.
func (r *Response) BodyInfo() string {
	switch {
	case r.Streamed:
		return "streamed"
	case r.IsError():
		return fmt.Sprintf("size: %d, first %d bytes:\n%s",
			len(r.Body), constants.ResponseErrorBodyBytesToLog, truncate(r.Body, constants.ResponseErrorBodyBytesToLog))
	default:
		return fmt.Sprintf("size: %d, first %d bytes:\n%s",
			len(r.Body), constants.ResponseBodyBytesToLog, truncate(r.Body, constants.ResponseBodyBytesToLog))
	}
}

// TransportRequest is everything a Transport needs to perform one request.
type TransportRequest struct {
	URI         *url.URL
	Request     *Request
	Options     *Options
	Credentials map[string]string
}

// Transport performs HTTP requests for the connection proxy routine.
// Implementations retry their own low-level failures and report every other
// failure as a *ConnectionError.
type Transport interface {
	Do(ctx context.Context, req *TransportRequest) (*Response, error)
	CloseConnection(reason string)
}

// BodyParser turns a response body into a structured value.
type BodyParser interface {
	Parse(body []byte, opts ParseOptions) (any, error)
}

// ParseOptions are passed to a BodyParser.
type ParseOptions struct {
	// Encoding is "UTF-8" when the response declared charset=utf-8.
	Encoding string
}

// ErrorParser extracts a human readable message from an error response.
type ErrorParser interface {
	ParseError(resp *Response, opts *Options) string
}

// ErrorParserFunc adapts a function to ErrorParser.
type ErrorParserFunc func(resp *Response, opts *Options) string

// ParseError implements ErrorParser.
func (f ErrorParserFunc) ParseError(resp *Response, opts *Options) string {
	return f(resp, opts)
}

// StreamRemaining returns the unread size of a seekable stream.
func StreamRemaining(stream io.Reader) (int64, bool) {
	seeker, ok := stream.(io.Seeker)
	if !ok {
		return 0, false
	}

	pos, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, false
	}

	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, false
	}

	if _, err := seeker.Seek(pos, io.SeekStart); err != nil {
		return 0, false
	}

	return end - pos, true
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		return string(body[:limit])
	}

	return string(body)
}
