package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// Compiled is a registered query pattern with its templates compiled.
type Compiled struct {
	Pattern cloudapi.QueryPattern

	path    Node
	params  map[string]entry
	headers map[string][]Node
	body    Node
}

// CompilePattern validates and compiles p.
func CompilePattern(p cloudapi.QueryPattern) (*Compiled, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, &cloudapi.ConfigurationError{Err: cloudapi.ErrPatternNameRequired}
	}

	if !cloudapi.IsVerb(p.Verb) {
		return nil, &cloudapi.ConfigurationError{Pattern: p.Name, Key: p.Verb, Err: cloudapi.ErrUnknownVerb}
	}

	p.Verb = strings.ToLower(p.Verb)

	compiled := &Compiled{
		Pattern: p,
		path:    compileString(p.Path),
		params:  make(map[string]entry, len(p.Params)),
		headers: make(map[string][]Node, len(p.Headers)),
	}

	for raw, value := range p.Params {
		e, err := compileEntry(p.Name, raw, value)
		if err != nil {
			return nil, err
		}

		compiled.params[raw] = e
	}

	for name, value := range p.Headers {
		nodes, err := compileHeader(p.Name, value)
		if err != nil {
			return nil, err
		}

		compiled.headers[strings.ToLower(name)] = nodes
	}

	if p.Body != nil && p.Body != cloudapi.MustBeSet {
		body, err := compile(p.Name, p.Body)
		if err != nil {
			return nil, err
		}

		compiled.body = body
	}

	return compiled, nil
}

// Name returns the pattern name.
func (c *Compiled) Name() string {
	return c.Pattern.Name
}

// Build renders the pattern with the call arguments:
//
//  1. pattern params, headers and options are merged under the caller ones
//     and the Before hook runs;
//  2. the render values are the defaults overlaid with the merged params;
//  3. path, headers, body and params are rendered in that order;
//  4. params consumed by any template are removed, the rest become URL
//     params, and the After hook runs.
//
// Caller params and headers are data and are never rendered.
func (c *Compiled) Build(args cloudapi.CallArgs) (*cloudapi.PatternRequest, error) {
	container := c.container(args)

	if c.Pattern.Before != nil {
		c.Pattern.Before(container)
	}

	values := make(map[string]any, len(container.Defaults)+len(container.Params))
	for key, value := range container.Defaults {
		values[key] = value
	}

	for key, value := range container.Params {
		values[key] = value
	}

	env := NewEnv(c.Pattern.Name, values)
	hooked := c.Pattern.Before != nil

	path, err := c.renderPath(env, container.Path, hooked)
	if err != nil {
		return nil, err
	}

	headers, err := c.renderHeaders(env, container.Headers, cloudapi.Headers{}.Merge(args.Headers), hooked)
	if err != nil {
		return nil, err
	}

	body := container.Body
	if body == nil && c.Pattern.Body != nil {
		if c.Pattern.Body == cloudapi.MustBeSet {
			return nil, &cloudapi.ConfigurationError{Pattern: c.Pattern.Name, Err: cloudapi.ErrBodyMustBeSet}
		}

		body, err = c.body.Render(env)
		if err != nil {
			return nil, err
		}
	}

	params, err := c.renderParams(env, container.Params, args.Params, hooked)
	if err != nil {
		return nil, err
	}

	for key := range env.Used {
		delete(params, key)
	}

	request := &cloudapi.PatternRequest{
		Verb:    container.Verb,
		Path:    path,
		Params:  params,
		Headers: headers,
		Body:    body,
		Options: container.Options,
	}

	if c.Pattern.After != nil {
		c.Pattern.After(request)
	}

	return request, nil
}

func (c *Compiled) container(args cloudapi.CallArgs) *cloudapi.PatternContainer {
	params := make(map[string]any, len(c.Pattern.Params)+len(args.Params))
	for key, value := range c.Pattern.Params {
		params[key] = value
	}

	for key, value := range args.Params {
		params[key] = value
	}

	headers := make(map[string]any, len(c.Pattern.Headers)+len(args.Headers))
	for name, value := range c.Pattern.Headers {
		headers[strings.ToLower(name)] = value
	}

	for name, values := range args.Headers {
		headers[strings.ToLower(name)] = cloudapi.Arrayify(values)
	}

	options := make([]cloudapi.Option, 0, len(c.Pattern.Options)+len(args.Options))
	options = append(options, c.Pattern.Options...)
	options = append(options, args.Options...)

	defaults := make(map[string]any, len(c.Pattern.Defaults))
	for key, value := range c.Pattern.Defaults {
		defaults[key] = value
	}

	return &cloudapi.PatternContainer{
		Verb:     c.Pattern.Verb,
		Path:     c.Pattern.Path,
		Params:   params,
		Headers:  headers,
		Body:     args.Body,
		Defaults: defaults,
		Options:  options,
	}
}

func (c *Compiled) renderPath(env *Env, path string, hooked bool) (string, error) {
	node := c.path
	if hooked && path != c.Pattern.Path {
		node = compileString(path)
	}

	value, err := node.Render(env)
	if err != nil {
		return "", err
	}

	return cloudapi.Stringify(value), nil
}

func (c *Compiled) renderHeaders(env *Env, headers map[string]any, caller cloudapi.Headers, hooked bool) (cloudapi.Headers, error) {
	result := cloudapi.Headers{}

	for _, name := range sortedKeys(headers) {
		if _, ok := caller[name]; ok && !hooked {
			result.Set(name, caller[name]...)

			continue
		}

		nodes, ok := c.headers[name]
		if !ok || hooked {
			var err error

			nodes, err = compileHeader(c.Pattern.Name, headers[name])
			if err != nil {
				return nil, err
			}
		}

		values := make([]string, 0, len(nodes))

		for _, node := range nodes {
			value, err := node.Render(env)
			if err != nil {
				return nil, err
			}

			if value == cloudapi.None {
				continue
			}

			values = append(values, cloudapi.Stringify(value))
		}

		if len(values) > 0 {
			result.Set(name, values...)
		}
	}

	return result, nil
}

func (c *Compiled) renderParams(env *Env, params, caller map[string]any, hooked bool) (map[string]any, error) {
	entries := make(mapping, 0, len(params))

	for _, raw := range sortedKeys(params) {
		if _, ok := caller[raw]; ok {
			entries = append(entries, entry{name: raw, value: literal{value: params[raw]}})

			continue
		}

		e, ok := c.params[raw]
		if !ok || hooked {
			var err error

			e, err = compileEntry(c.Pattern.Name, raw, params[raw])
			if err != nil {
				return nil, err
			}
		}

		entries = append(entries, e)
	}

	rendered, err := entries.Render(env)
	if err != nil {
		return nil, err
	}

	result, _ := rendered.(map[string]any)

	return result, nil
}

func compileEntry(pattern, raw string, value any) (entry, error) {
	e, err := parseKey(pattern, raw)
	if err != nil {
		return entry{}, err
	}

	e.value, err = compile(pattern, value)
	if err != nil {
		return entry{}, err
	}

	return e, nil
}

func compileHeader(pattern string, value any) ([]Node, error) {
	items := cloudapi.Arrayify(value)
	nodes := make([]Node, 0, len(items))

	for _, item := range items {
		node, err := compile(pattern, item)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}

// Explain describes a pattern:
//
//	Name: VERB 'path'
//	  - params  :  map[...]
func (c *Compiled) Explain() string {
	p := c.Pattern

	var builder strings.Builder

	fmt.Fprintf(&builder, "%s: %s '%s'", p.Name, strings.ToUpper(p.Verb), p.Path)

	details := []struct {
		name  string
		value any
		blank bool
	}{
		{"params", p.Params, len(p.Params) == 0},
		{"headers", p.Headers, len(p.Headers) == 0},
		{"options", fmt.Sprintf("%d option(s)", len(p.Options)), len(p.Options) == 0},
		{"body", p.Body, cloudapi.IsBlank(p.Body)},
		{"defaults", p.Defaults, len(p.Defaults) == 0},
		{"before", "<func>", p.Before == nil},
		{"after", "<func>", p.After == nil},
	}

	for _, detail := range details {
		if !detail.blank {
			fmt.Fprintf(&builder, "\n  - %-8s:  %v", detail.name, detail.value)
		}
	}

	return builder.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
