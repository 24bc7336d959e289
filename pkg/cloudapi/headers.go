package cloudapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Headers is a multi-value header map with lowercase keys.
type Headers map[string][]string

// NewHeaders builds headers from loosely typed values. A nil value drops the
// header, a slice becomes multiple values, anything else is stringified.
func NewHeaders(src map[string]any) Headers {
	headers := make(Headers, len(src))
	for name, value := range src {
		headers.SetAny(name, value)
	}

	return headers
}

// HeadersFromHTTP converts net/http headers.
func HeadersFromHTTP(src http.Header) Headers {
	headers := make(Headers, len(src))
	for name, values := range src {
		headers[strings.ToLower(name)] = append([]string(nil), values...)
	}

	return headers
}

// Get returns the first value of a header.
func (h Headers) Get(name string) string {
	values := h[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

// Values returns all values of a header.
func (h Headers) Values(name string) []string {
	return h[strings.ToLower(name)]
}

// Set replaces a header. No values deletes it.
func (h Headers) Set(name string, values ...string) {
	if len(values) == 0 {
		h.Del(name)

		return
	}

	h[strings.ToLower(name)] = values
}

// SetAny sets a header from a loosely typed value.
func (h Headers) SetAny(name string, value any) {
	switch typed := value.(type) {
	case nil:
		h.Del(name)
	case []string:
		h.Set(name, typed...)
	case []any:
		values := make([]string, 0, len(typed))
		for _, item := range typed {
			values = append(values, Stringify(item))
		}

		h.Set(name, values...)
	default:
		h.Set(name, Stringify(typed))
	}
}

// Add appends a value.
func (h Headers) Add(name, value string) {
	key := strings.ToLower(name)
	h[key] = append(h[key], value)
}

// Del removes a header.
func (h Headers) Del(name string) {
	delete(h, strings.ToLower(name))
}

// SetIfBlank sets a header unless it already has a non-blank first value.
func (h Headers) SetIfBlank(name, value string) {
	if IsBlank(h.Get(name)) {
		h.Set(name, value)
	}
}

// Merge copies every header of other into h, replacing existing ones.
func (h Headers) Merge(other Headers) Headers {
	for name, values := range other {
		h.Set(name, values...)
	}

	return h
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	clone := make(Headers, len(h))
	for name, values := range h {
		clone[name] = append([]string(nil), values...)
	}

	return clone
}

// HTTP converts to net/http headers.
func (h Headers) HTTP() http.Header {
	result := make(http.Header, len(h))
	for name, values := range h {
		for _, value := range values {
			result.Add(name, value)
		}
	}

	return result
}

// String renders "name: value, name: [v1 v2]" in key order.
func (h Headers) String() string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		values := h[name]
		if len(values) == 1 {
			parts = append(parts, fmt.Sprintf("%s: %q", name, values[0]))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %q", name, values))
		}
	}

	return strings.Join(parts, ", ")
}
