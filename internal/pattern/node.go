// Package pattern compiles query pattern templates and renders them into
// request data.
package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

const removeIfBlankMark = "{!remove-if-blank}"

var (
	keyRe         = regexp.MustCompile(`\{:([a-zA-Z0-9_]+)\}`)
	collection1Re = regexp.MustCompile(`\[\{:([a-zA-Z0-9_]+)\}\]`)
	collection2Re = regexp.MustCompile(`^([^\[]+)\[\]`)
)

// Env holds the values a template is rendered with and collects the names
// it consumed.
type Env struct {
	Pattern string
	Values  map[string]any
	Used    map[string]struct{}
}

// NewEnv creates an environment for the named pattern.
func NewEnv(pattern string, values map[string]any) *Env {
	return &Env{
		Pattern: pattern,
		Values:  values,
		Used:    map[string]struct{}{},
	}
}

func (e *Env) lookup(key string) (any, error) {
	value, ok := e.Values[key]
	if !ok {
		return nil, &cloudapi.ConfigurationError{Pattern: e.Pattern, Key: key, Err: cloudapi.ErrMissingParam}
	}

	e.Used[key] = struct{}{}

	return value, nil
}

// with returns an environment seeing extra over the current values and
// sharing the used set.
func (e *Env) with(extra map[string]any) *Env {
	values := make(map[string]any, len(e.Values)+len(extra))
	for key, value := range e.Values {
		values[key] = value
	}

	for key, value := range extra {
		values[key] = value
	}

	return &Env{Pattern: e.Pattern, Values: values, Used: e.Used}
}

// Node is a compiled template.
type Node interface {
	Render(env *Env) (any, error)
}

type literal struct {
	value any
}

func (n literal) Render(*Env) (any, error) { return n.value, nil }

type placeholder string

func (n placeholder) Render(env *Env) (any, error) {
	return env.lookup(string(n))
}

// templatePart is either static text or a key reference.
type templatePart struct {
	text string
	key  string
}

type template []templatePart

func (n template) Render(env *Env) (any, error) {
	var builder strings.Builder

	for _, part := range n {
		if part.key == "" {
			builder.WriteString(part.text)

			continue
		}

		value, err := env.lookup(part.key)
		if err != nil {
			return nil, err
		}

		builder.WriteString(cloudapi.Stringify(value))
	}

	return builder.String(), nil
}

type sequence []Node

func (n sequence) Render(env *Env) (any, error) {
	result := make([]any, 0, len(n))

	for _, item := range n {
		value, err := item.Render(env)
		if err != nil {
			return nil, err
		}

		if value == cloudapi.None {
			continue
		}

		result = append(result, value)
	}

	return result, nil
}

// entry is one mapping key with its suffixes parsed:
//
//	Name{:Replacement}    value taken from Replacement when it is set
//	Name[{:Items}]        collection rendered once per item of Items
//	Name[]                collection rendered once per item of Name
//	Name{!remove-if-blank} key dropped when the value is blank
type entry struct {
	name          string
	replacement   string
	collection    string
	removeIfBlank bool
	value         Node
}

type mapping []entry

func (n mapping) Render(env *Env) (any, error) {
	result := make(map[string]any, len(n))

	for _, e := range n {
		value, keep, err := e.render(env)
		if err != nil {
			return nil, err
		}

		if keep {
			result[e.name] = value
		}
	}

	return result, nil
}

func (e entry) render(env *Env) (any, bool, error) {
	if e.replacement != "" {
		if value, ok := env.Values[e.replacement]; ok {
			env.Used[e.replacement] = struct{}{}

			return e.finish(value)
		}
	}

	if e.collection != "" {
		value, err := e.renderCollection(env)
		if err != nil {
			return nil, false, err
		}

		return e.finish(value)
	}

	value, err := e.value.Render(env)
	if err != nil {
		return nil, false, err
	}

	return e.finish(value)
}

func (e entry) finish(value any) (any, bool, error) {
	if value == cloudapi.None {
		return nil, false, nil
	}

	if e.removeIfBlank && cloudapi.IsBlank(value) {
		return nil, false, nil
	}

	return value, true, nil
}

func (e entry) renderCollection(env *Env) (any, error) {
	value, err := env.lookup(e.collection)
	if err != nil {
		return nil, err
	}

	var items []any

	switch typed := value.(type) {
	case map[string]any:
		items = []any{typed}
	case []map[string]any:
		items = make([]any, len(typed))
		for i, item := range typed {
			items[i] = item
		}
	case []any:
		items = typed
	default:
		return value, nil
	}

	result := make([]any, 0, len(items))

	for _, item := range items {
		params, ok := item.(map[string]any)
		if !ok {
			return nil, &cloudapi.ConfigurationError{
				Pattern: env.Pattern,
				Key:     e.collection,
				Err:     fmt.Errorf("%w: got %T", cloudapi.ErrInvalidCollectionItem, item),
			}
		}

		rendered, err := e.value.Render(env.with(params))
		if err != nil {
			return nil, err
		}

		result = append(result, rendered)
	}

	return result, nil
}

// Compile turns a template into a Node. Strings are scanned for {:Key}
// tokens, cloudapi.Placeholder values reference a param, maps and slices
// are compiled recursively and anything else is a literal.
func Compile(source any) (Node, error) {
	return compile("", source)
}

func compile(pattern string, source any) (Node, error) {
	switch typed := source.(type) {
	case cloudapi.Placeholder:
		return placeholder(typed), nil
	case string:
		return compileString(typed), nil
	case map[string]any:
		return compileMapping(pattern, typed)
	case []any:
		result := make(sequence, 0, len(typed))

		for _, item := range typed {
			node, err := compile(pattern, item)
			if err != nil {
				return nil, err
			}

			result = append(result, node)
		}

		return result, nil
	default:
		return literal{value: source}, nil
	}
}

func compileString(source string) Node {
	matches := keyRe.FindAllStringSubmatchIndex(source, -1)
	if len(matches) == 0 {
		return literal{value: source}
	}

	parts := make(template, 0, 2*len(matches)+1)
	last := 0

	for _, match := range matches {
		if match[0] > last {
			parts = append(parts, templatePart{text: source[last:match[0]]})
		}

		parts = append(parts, templatePart{key: source[match[2]:match[3]]})
		last = match[1]
	}

	if last < len(source) {
		parts = append(parts, templatePart{text: source[last:]})
	}

	return parts
}

func compileMapping(pattern string, source map[string]any) (Node, error) {
	result := make(mapping, 0, len(source))

	for _, raw := range sortedKeys(source) {
		e, err := parseKey(pattern, raw)
		if err != nil {
			return nil, err
		}

		e.value, err = compile(pattern, source[raw])
		if err != nil {
			return nil, err
		}

		result = append(result, e)
	}

	return result, nil
}

// parseKey splits a mapping key into its name and suffixes.
func parseKey(pattern, raw string) (entry, error) {
	var e entry

	key := raw
	if strings.Contains(key, removeIfBlankMark) {
		e.removeIfBlank = true
		key = strings.Replace(key, removeIfBlankMark, "", 1)
	}

	if start, end, name, found := findReplacement(key); found {
		e.replacement = name
		key = key[:start] + key[end:]
	}

	switch {
	case collection1Re.MatchString(key):
		e.collection = collection1Re.FindStringSubmatch(key)[1]
	case collection2Re.MatchString(key):
		e.collection = collection2Re.FindStringSubmatch(key)[1]
	}

	if e.collection != "" {
		if e.replacement != "" || e.removeIfBlank {
			return entry{}, &cloudapi.ConfigurationError{Pattern: pattern, Key: raw, Err: cloudapi.ErrConflictingKeySuffixes}
		}

		key = key[:strings.Index(key, "[")]
	}

	e.name = key

	return e, nil
}

// findReplacement returns the first {:Name} token that is not directly
// followed by "]", which would make it a collection suffix.
func findReplacement(key string) (int, int, string, bool) {
	for _, match := range keyRe.FindAllStringSubmatchIndex(key, -1) {
		if match[1] < len(key) && key[match[1]] == ']' {
			continue
		}

		return match[0], match[1], key[match[2]:match[3]], true
	}

	return 0, 0, "", false
}
