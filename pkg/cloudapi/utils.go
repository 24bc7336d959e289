package cloudapi

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Stringify renders a template value as text.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case Sentinel:
		if typed == None {
			return ""
		}

		return string(typed)
	case Placeholder:
		return string(typed)
	case fmt.Stringer:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(typed)
	}
}

// IsBlank reports nil, empty or whitespace-only strings, and empty
// collections.
func IsBlank(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []byte:
		return len(bytes.TrimSpace(typed)) == 0
	case []any:
		return len(typed) == 0
	case []string:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	case Headers:
		return len(typed) == 0
	default:
		return false
	}
}

// Arrayify wraps a non-slice value into a one element slice.
func Arrayify(value any) []any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []any:
		return typed
	case []string:
		result := make([]any, len(typed))
		for i, item := range typed {
			result[i] = item
		}

		return result
	default:
		return []any{value}
	}
}

// URLEncode escapes a value for a URL query using %20 for spaces.
func URLEncode(value any) string {
	return strings.ReplaceAll(url.QueryEscape(Stringify(value)), "+", "%20")
}

// ParamsToURN renders params as a query string with sorted keys. A nil value
// renders as the bare name; slices repeat the name.
func ParamsToURN(params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := params[name]
		encoded := URLEncode(name)

		if value == nil {
			parts = append(parts, encoded)

			continue
		}

		for _, item := range Arrayify(value) {
			parts = append(parts, encoded+"="+URLEncode(item))
		}
	}

	return strings.Join(parts, "&")
}

// JoinURN joins path segments. Blank segments are skipped and a segment
// starting with "/" replaces everything before it.
func JoinURN(absolute string, relatives ...string) string {
	result := absolute
	if !strings.HasPrefix(result, "/") {
		result = "/" + result
	}

	for _, relative := range relatives {
		if IsBlank(relative) {
			continue
		}

		switch {
		case strings.HasPrefix(relative, "/"):
			result = relative
		case strings.HasSuffix(result, "/"):
			result += relative
		default:
			result += "/" + relative
		}
	}

	return result
}

// JoinURNWithParams joins path segments and appends params as a query string.
func JoinURNWithParams(params map[string]any, absolute string, relatives ...string) string {
	result := JoinURN(absolute, relatives...)

	query := ParamsToURN(params)
	if query == "" {
		return result
	}

	return result + "?" + query
}

// ExtractURLParams returns the query params of rawURL.
func ExtractURLParams(rawURL string) (map[string]any, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	result := map[string]any{}

	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}

		name, value, found := strings.Cut(pair, "=")
		if !found {
			result[name] = nil

			continue
		}

		result[name] = value
	}

	return result, nil
}

// ContentifyBody encodes a map body according to the content type. Other
// bodies are returned unchanged.
func ContentifyBody(body any, contentType string) (any, error) {
	mapping, ok := body.(map[string]any)
	if !ok {
		return body, nil
	}

	switch {
	case strings.Contains(contentType, "json"):
		data, err := json.Marshal(mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body as JSON: %w", err)
		}

		return data, nil
	case strings.Contains(contentType, "xml"):
		var buf bytes.Buffer

		err := encodeXML(&buf, mapping)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body as XML: %w", err)
		}

		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBodyType, contentType)
	}
}

func encodeXML(buf *bytes.Buffer, mapping map[string]any) error {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		for _, item := range Arrayify(mapping[name]) {
			buf.WriteString("<" + name + ">")

			if nested, ok := item.(map[string]any); ok {
				if err := encodeXML(buf, nested); err != nil {
					return err
				}
			} else if err := xml.EscapeText(buf, []byte(Stringify(item))); err != nil {
				return fmt.Errorf("failed to escape %q: %w", name, err)
			}

			buf.WriteString("</" + name + ">")
		}
	}

	return nil
}

// RandomHex returns size random hex digits.
func RandomHex(size int) string {
	raw := make([]byte, (size+1)/2)
	_, _ = rand.Read(raw)

	return hex.EncodeToString(raw)[:size]
}

// GenerateToken returns a random unique token.
func GenerateToken() string {
	return uuid.NewString()
}
