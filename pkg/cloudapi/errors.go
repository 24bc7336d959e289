package cloudapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Static errors for err113 compliance.
var (
	ErrPatternNotFound         = errors.New("pattern not found")
	ErrEndpointRequired        = errors.New("endpoint must be set")
	ErrInvalidEndpointScheme   = errors.New("endpoint parse failed - invalid scheme")
	ErrEmptyCredential         = errors.New("credential cannot be empty")
	ErrConfigRequired          = errors.New("config is required")
	ErrMissingParam            = errors.New("required parameter missing")
	ErrBodyMustBeSet           = errors.New("body parameter must be set")
	ErrInvalidCollectionItem   = errors.New("collection items must be mappings")
	ErrConflictingKeySuffixes  = errors.New("collection suffix cannot be combined with replacement or remove-if-blank suffixes")
	ErrPatternNameRequired     = errors.New("pattern name is required")
	ErrUnknownVerb             = errors.New("unsupported HTTP verb")
	ErrUnsupportedAction       = errors.New("unsupported error pattern action")
	ErrUnsupportedPatternKeys  = errors.New("unsupported keys in pattern definition")
	ErrEmptyPattern            = errors.New("pattern conditions are not set")
	ErrCacheKeyRequired        = errors.New("key field not found in cache pattern definition")
	ErrCannotBuildCacheKey     = errors.New("cannot build cache key")
	ErrNothingToSign           = errors.New("could not create body to sign")
	ErrNoMoreRetries           = errors.New("no more retries left")
	ErrTimeIsOver              = errors.New("time is over")
	ErrUnexpectedResponseCode  = errors.New("unexpected response code")
	ErrCannotParseRedirect     = errors.New("cannot parse a redirect location")
	ErrUnknownParser           = errors.New("unknown parser")
	ErrUnsupportedBodyType     = errors.New("can't transform body into the requested content type")
	ErrNATSConfigRequired      = errors.New("NATS configuration required for NATS storage")
	ErrUnsupportedStorageType  = errors.New("unsupported storage type")
	ErrRecordConflict          = errors.New("cache record changed concurrently")
	ErrRecordNotFound          = errors.New("cache record not found")
	ErrRecordNotFoundInStorage = errors.New("cache record not found in any storage")
)

// ConfigurationError reports a bad pattern registration or a template
// variable that could not be resolved. It is never retried.
type ConfigurationError struct {
	Pattern string
	Key     string
	Err     error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	switch {
	case e.Pattern != "" && e.Key != "":
		return fmt.Sprintf("%s: %q: %v", e.Pattern, e.Key, e.Err)
	case e.Pattern != "":
		return fmt.Sprintf("%s: %v", e.Pattern, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%q: %v", e.Key, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ConnectionError wraps a transport-level failure.
type ConnectionError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
	}

	return fmt.Sprintf("connection failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HTTPError represents a 3xx/4xx/5xx response the pipeline gave up on.
type HTTPError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message == "" {
		return strconv.Itoa(e.Code) + ": " + http.StatusText(e.Code)
	}

	return e.Message
}

// CacheHitError signals that the response did not change since it was last
// seen. Callers should reuse whatever they cached for the key.
type CacheHitError struct {
	Key    string
	Record CacheRecord
}

// Error implements the error interface.
func (e *CacheHitError) Error() string {
	return fmt.Sprintf("cache hit: %q has not changed since %s, hits: %d.",
		e.Key, e.Record.Timestamp.UTC().Format("2006-01-02 15:04:05"), e.Record.Hits)
}

// ExhaustedError is returned when the retry count or the wall-clock budget of
// a call is used up. LastHTTPError carries the most recent HTTP failure, if any.
type ExhaustedError struct {
	Reason        error
	Attempts      int
	LastHTTPError *HTTPError
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	if e.LastHTTPError != nil {
		return fmt.Sprintf("%s\n%v", e.LastHTTPError.Error(), e.Reason)
	}

	return e.Reason.Error()
}

// Unwrap exposes both the reason and the last HTTP error.
func (e *ExhaustedError) Unwrap() []error {
	if e.LastHTTPError != nil {
		return []error{e.Reason, e.LastHTTPError}
	}

	return []error{e.Reason}
}

// IsConfigurationError checks if the error is a configuration error.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError

	return errors.As(err, &cfgErr)
}

// IsConnectionError checks if the error is a transport failure.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError

	return errors.As(err, &connErr)
}

// IsHTTPError checks if the error carries an HTTP status and returns it.
func IsHTTPError(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, true
	}

	return 0, false
}

// IsNotFound checks if the error is a 404.
func IsNotFound(err error) bool {
	code, ok := IsHTTPError(err)

	return ok && code == http.StatusNotFound
}

// IsCacheHit checks if the error is a cache hit signal.
func IsCacheHit(err error) bool {
	var hit *CacheHitError

	return errors.As(err, &hit)
}

// IsExhausted checks if the call ran out of retries or time.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError

	return errors.As(err, &exhausted)
}
