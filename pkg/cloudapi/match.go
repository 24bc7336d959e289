package cloudapi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Condition matches one field of a request/response.
type Condition interface {
	Match(value string) bool
}

type regexpCondition struct {
	re *regexp.Regexp
}

func (c regexpCondition) Match(value string) bool { return c.re.MatchString(value) }
func (c regexpCondition) String() string          { return "/" + c.re.String() + "/" }

// Regexp matches values against a regular expression.
func Regexp(re *regexp.Regexp) Condition {
	return regexpCondition{re: re}
}

// MustRegexp compiles expr and panics on failure.
func MustRegexp(expr string) Condition {
	return regexpCondition{re: regexp.MustCompile(expr)}
}

type equalsCondition string

func (c equalsCondition) Match(value string) bool { return strings.EqualFold(string(c), value) }
func (c equalsCondition) String() string          { return strconv.Quote(string(c)) }

// Equals matches values equal to s, ignoring case.
func Equals(s string) Condition {
	return equalsCondition(s)
}

// ConditionFunc adapts a predicate to Condition.
type ConditionFunc func(value string) bool

// Match implements Condition.
func (f ConditionFunc) Match(value string) bool { return f(value) }

// ParseCondition builds a condition from its textual form: "/expr/" is a
// regular expression, anything else an exact case-insensitive match.
func ParseCondition(text string) (Condition, error) {
	if len(text) >= 2 && strings.HasPrefix(text, "/") && strings.HasSuffix(text, "/") {
		re, err := regexp.Compile(text[1 : len(text)-1])
		if err != nil {
			return nil, fmt.Errorf("invalid condition %q: %w", text, err)
		}

		return Regexp(re), nil
	}

	return Equals(text), nil
}

// Conditions holds one optional condition per matchable field.
type Conditions struct {
	Verb     Condition
	Path     Condition
	Request  Condition
	Code     Condition
	Response Condition
}

// IsZero reports whether no condition is set.
func (c Conditions) IsZero() bool {
	return c.Verb == nil && c.Path == nil && c.Request == nil && c.Code == nil && c.Response == nil
}

// MatchInput is what patterns are matched against.
type MatchInput struct {
	Verb         string
	RelativePath string
	Request      *Request
	Response     *Response
	Params       map[string]any
}

func (in MatchInput) fields() []string {
	var path, request, code, response string

	if in.Request != nil {
		path = in.Request.Path
		request = string(in.Request.Body)
	}

	if in.Response != nil {
		code = strconv.Itoa(in.Response.Code)
		response = string(in.Response.Body)
	}

	return []string{strings.ToLower(in.Verb), path, request, code, response}
}

func (c Conditions) list() []Condition {
	return []Condition{c.Verb, c.Path, c.Request, c.Code, c.Response}
}

// PatternMatches checks negated conditions first (any hit rejects), then
// positive ones (any miss rejects), then the predicate.
func PatternMatches(match, not Conditions, predicate func(MatchInput) bool, in MatchInput) bool {
	values := in.fields()

	for i, condition := range not.list() {
		if condition != nil && condition.Match(values[i]) {
			return false
		}
	}

	for i, condition := range match.list() {
		if condition != nil && !condition.Match(values[i]) {
			return false
		}
	}

	if predicate != nil && !predicate(in) {
		return false
	}

	return true
}

// Action is what the pipeline does when an error pattern matches.
type Action string

// Error pattern actions.
const (
	// ActionAbortOnTimeout is a request-time action: low-level timeouts are not retried.
	ActionAbortOnTimeout Action = "abort_on_timeout"
	// ActionDisconnectAndAbort closes the connection and fails.
	ActionDisconnectAndAbort Action = "disconnect_and_abort"
	// ActionAbort fails.
	ActionAbort Action = "abort"
	// ActionReconnectAndRetry closes the connection and restarts the chain.
	ActionReconnectAndRetry Action = "reconnect_and_retry"
	// ActionRetry restarts the chain.
	ActionRetry Action = "retry"
)

// IsRequestAction reports whether the action is evaluated before sending.
func (a Action) IsRequestAction() bool {
	return a == ActionAbortOnTimeout
}

// ErrorPattern classifies failed requests.
type ErrorPattern struct {
	Action Action
	Match  Conditions
	Not    Conditions
	If     func(MatchInput) bool
}

// Matches reports whether the pattern applies to in.
func (p *ErrorPattern) Matches(in MatchInput) bool {
	return PatternMatches(p.Match, p.Not, p.If, in)
}

// Validate checks the action and that request-time patterns only use
// request fields.
func (p *ErrorPattern) Validate() error {
	switch p.Action {
	case ActionAbortOnTimeout, ActionDisconnectAndAbort, ActionAbort, ActionReconnectAndRetry, ActionRetry:
	default:
		return &ConfigurationError{Key: string(p.Action), Err: ErrUnsupportedAction}
	}

	if p.Match.IsZero() && p.Not.IsZero() && p.If == nil {
		return &ConfigurationError{Key: string(p.Action), Err: ErrEmptyPattern}
	}

	if p.Action.IsRequestAction() {
		var unsupported []string
		if p.Match.Code != nil {
			unsupported = append(unsupported, "code")
		}

		if p.Not.Code != nil {
			unsupported = append(unsupported, "code!")
		}

		if p.Match.Response != nil {
			unsupported = append(unsupported, "response")
		}

		if p.Not.Response != nil {
			unsupported = append(unsupported, "response!")
		}

		if len(unsupported) > 0 {
			return &ConfigurationError{
				Key: string(p.Action),
				Err: fmt.Errorf("%w: %s", ErrUnsupportedPatternKeys, strings.Join(unsupported, ",")),
			}
		}
	}

	return nil
}

// String describes the pattern for logs.
func (p *ErrorPattern) String() string {
	return fmt.Sprintf("%s %s", p.Action, describeConditions(p.Match, p.Not))
}

// CachePattern selects responses whose fingerprint is tracked.
type CachePattern struct {
	Match Conditions
	Not   Conditions
	If    func(MatchInput) bool
	// Key is the static cache key. KeyFunc wins when set.
	Key     string
	KeyFunc func(MatchInput) string
	// Sign returns the text to fingerprint, e.g. the body without request ids.
	// The raw response body is used when nil.
	Sign func(MatchInput) (string, bool)
}

// Matches reports whether the pattern applies to in.
func (p *CachePattern) Matches(in MatchInput) bool {
	return PatternMatches(p.Match, p.Not, p.If, in)
}

// Validate requires a key.
func (p *CachePattern) Validate() error {
	if p.Key == "" && p.KeyFunc == nil {
		return &ConfigurationError{Err: ErrCacheKeyRequired}
	}

	return nil
}

// BuildKey returns the cache key and the text to fingerprint.
func (p *CachePattern) BuildKey(in MatchInput) (string, string, error) {
	key := p.Key
	if p.KeyFunc != nil {
		key = p.KeyFunc(in)
	}

	if key == "" {
		return "", "", &ConfigurationError{Key: p.String(), Err: ErrCannotBuildCacheKey}
	}

	var (
		text   string
		signed bool
	)

	if in.Response != nil && in.Response.Body != nil {
		text, signed = string(in.Response.Body), true
	}

	if p.Sign != nil {
		text, signed = p.Sign(in)
	}

	if !signed {
		return "", "", &ConfigurationError{Key: key, Err: ErrNothingToSign}
	}

	return key, text, nil
}

// String describes the pattern for logs.
func (p *CachePattern) String() string {
	key := p.Key
	if p.KeyFunc != nil {
		key = "<func>"
	}

	return fmt.Sprintf("key=%s %s", key, describeConditions(p.Match, p.Not))
}

func describeConditions(match, not Conditions) string {
	names := []string{"verb", "path", "request", "code", "response"}
	parts := make([]string, 0, len(names))

	for i, condition := range match.list() {
		if condition != nil {
			parts = append(parts, fmt.Sprintf("%s=%v", names[i], condition))
		}
	}

	for i, condition := range not.list() {
		if condition != nil {
			parts = append(parts, fmt.Sprintf("%s!=%v", names[i], condition))
		}
	}

	return "{" + strings.Join(parts, " ") + "}"
}
