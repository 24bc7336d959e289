package cloudapi

import (
	"strings"
)

// Sentinel is a marker value understood by the template renderer.
type Sentinel string

const (
	// None removes a mapping key or sequence element and renders as an empty
	// string inside a templated string.
	None Sentinel = "__NONE__"
	// MustBeSet as a pattern body means the caller must supply the body.
	MustBeSet Sentinel = "__MUST_BE_SET__"
)

// Placeholder is replaced by the parameter of the same name.
type Placeholder string

// HTTP verbs understood by the pipeline.
var verbs = map[string]struct{}{
	"get":    {},
	"post":   {},
	"put":    {},
	"patch":  {},
	"delete": {},
	"head":   {},
}

// IsVerb reports whether verb is a supported HTTP verb (any case).
func IsVerb(verb string) bool {
	_, ok := verbs[strings.ToLower(verb)]

	return ok
}

// QueryPattern declares how a named call maps to an HTTP request.
type QueryPattern struct {
	Name string
	Verb string
	// Path is a templated relative path such as "instances/{:InstanceId}".
	Path    string
	Params  map[string]any
	Headers map[string]any
	// Body is a template. Nil means no body; MustBeSet requires a caller body.
	Body     any
	Defaults map[string]any
	Options  []Option
	// Before may rewrite the caller inputs before rendering.
	Before func(*PatternContainer)
	// After may rewrite the rendered request.
	After func(*PatternRequest)
}

// PatternContainer is seen by a Before hook: pattern params and headers
// merged with the caller ones (caller wins), the caller body, and the
// pattern defaults. Values may still be templates.
type PatternContainer struct {
	Verb     string
	Path     string
	Params   map[string]any
	Headers  map[string]any
	Body     any
	Defaults map[string]any
	Options  []Option
}

// PatternRequest is a rendered pattern.
type PatternRequest struct {
	Verb    string
	Path    string
	Params  map[string]any
	Headers Headers
	Body    any
	Options []Option
}

// CallArgs are the inputs of a call.
type CallArgs struct {
	// Params feed the pattern templates. Unused ones become URL params.
	Params  map[string]any
	Headers Headers
	// Body replaces the pattern body. It may be a string, []byte, a map
	// (encoded by content-type) or an io.Reader.
	Body    any
	Options []Option
}
