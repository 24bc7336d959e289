package cloudapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// PatternFile is the YAML form of query, error and cache patterns.
//
//	patterns:
//	  - name: DescribeInstance
//	    verb: get
//	    path: "instances/{:InstanceId}"
//	    params:
//	      Filter: ":Filter"
//	    defaults:
//	      Filter: __NONE__
//	error_patterns:
//	  - action: retry
//	    code: "/5\\d\\d/"
//	cache_patterns:
//	  - key: instances
//	    verb: get
//	    path: "/instances/"
type PatternFile struct {
	Patterns      []PatternDefinition   `yaml:"patterns"`
	ErrorPatterns []ConditionDefinition `yaml:"error_patterns"`
	CachePatterns []ConditionDefinition `yaml:"cache_patterns"`
}

// PatternDefinition is one query pattern. String values ":Name" become
// placeholders, "__NONE__" and "__MUST_BE_SET__" become sentinels.
type PatternDefinition struct {
	Name     string         `yaml:"name"`
	Verb     string         `yaml:"verb"`
	Path     string         `yaml:"path"`
	Params   map[string]any `yaml:"params"`
	Headers  map[string]any `yaml:"headers"`
	Body     any            `yaml:"body"`
	Defaults map[string]any `yaml:"defaults"`
}

// ConditionDefinition is one error or cache pattern. Conditions use the
// ParseCondition syntax.
type ConditionDefinition struct {
	Action      string `yaml:"action,omitempty"`
	Key         string `yaml:"key,omitempty"`
	Verb        string `yaml:"verb,omitempty"`
	Path        string `yaml:"path,omitempty"`
	Request     string `yaml:"request,omitempty"`
	Code        string `yaml:"code,omitempty"`
	Response    string `yaml:"response,omitempty"`
	NotVerb     string `yaml:"verb!,omitempty"`
	NotPath     string `yaml:"path!,omitempty"`
	NotRequest  string `yaml:"request!,omitempty"`
	NotCode     string `yaml:"code!,omitempty"`
	NotResponse string `yaml:"response!,omitempty"`
}

var placeholderRe = regexp.MustCompile(`^:([a-zA-Z0-9_]+)$`)

// LoadPatternFile reads and parses a YAML pattern file.
func LoadPatternFile(path string) (*PatternFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file %s: %w", path, err)
	}

	file, err := ParsePatternFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return file, nil
}

// ParsePatternFile parses YAML patterns. Unknown keys are rejected.
func ParsePatternFile(data []byte) (*PatternFile, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file PatternFile

	err := decoder.Decode(&file)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Err: fmt.Errorf("%w: %w", ErrUnsupportedPatternKeys, err)}
	}

	return &file, nil
}

// QueryPatterns converts the definitions. Verbs are validated.
func (f *PatternFile) QueryPatterns() ([]QueryPattern, error) {
	result := make([]QueryPattern, 0, len(f.Patterns))

	for _, definition := range f.Patterns {
		if definition.Name == "" {
			return nil, &ConfigurationError{Err: ErrPatternNameRequired}
		}

		if !IsVerb(definition.Verb) {
			return nil, &ConfigurationError{Pattern: definition.Name, Key: definition.Verb, Err: ErrUnknownVerb}
		}

		result = append(result, QueryPattern{
			Name:     definition.Name,
			Verb:     definition.Verb,
			Path:     definition.Path,
			Params:   decodeMapping(definition.Params),
			Headers:  decodeMapping(definition.Headers),
			Body:     decodeTemplate(definition.Body),
			Defaults: decodeMapping(definition.Defaults),
		})
	}

	return result, nil
}

// ErrorPatternList converts the error pattern definitions.
func (f *PatternFile) ErrorPatternList() ([]*ErrorPattern, error) {
	result := make([]*ErrorPattern, 0, len(f.ErrorPatterns))

	for _, definition := range f.ErrorPatterns {
		match, not, err := definition.conditions()
		if err != nil {
			return nil, err
		}

		pattern := &ErrorPattern{Action: Action(definition.Action), Match: match, Not: not}

		err = pattern.Validate()
		if err != nil {
			return nil, err
		}

		result = append(result, pattern)
	}

	return result, nil
}

// CachePatternList converts the cache pattern definitions.
func (f *PatternFile) CachePatternList() ([]*CachePattern, error) {
	result := make([]*CachePattern, 0, len(f.CachePatterns))

	for _, definition := range f.CachePatterns {
		match, not, err := definition.conditions()
		if err != nil {
			return nil, err
		}

		pattern := &CachePattern{Key: definition.Key, Match: match, Not: not}

		err = pattern.Validate()
		if err != nil {
			return nil, err
		}

		result = append(result, pattern)
	}

	return result, nil
}

func (d ConditionDefinition) conditions() (Conditions, Conditions, error) {
	var (
		match, not Conditions
		err        error
	)

	fields := []struct {
		text   string
		target *Condition
	}{
		{d.Verb, &match.Verb},
		{d.Path, &match.Path},
		{d.Request, &match.Request},
		{d.Code, &match.Code},
		{d.Response, &match.Response},
		{d.NotVerb, &not.Verb},
		{d.NotPath, &not.Path},
		{d.NotRequest, &not.Request},
		{d.NotCode, &not.Code},
		{d.NotResponse, &not.Response},
	}

	for _, field := range fields {
		if field.text == "" {
			continue
		}

		*field.target, err = ParseCondition(field.text)
		if err != nil {
			return match, not, &ConfigurationError{Key: field.text, Err: err}
		}
	}

	return match, not, nil
}

func decodeMapping(mapping map[string]any) map[string]any {
	if mapping == nil {
		return nil
	}

	result := make(map[string]any, len(mapping))
	for key, value := range mapping {
		result[key] = decodeTemplate(value)
	}

	return result
}

func decodeTemplate(value any) any {
	switch typed := value.(type) {
	case string:
		switch {
		case typed == string(None):
			return None
		case typed == string(MustBeSet):
			return MustBeSet
		}

		if match := placeholderRe.FindStringSubmatch(typed); match != nil {
			return Placeholder(match[1])
		}

		return typed
	case map[string]any:
		return decodeMapping(typed)
	case []any:
		result := make([]any, len(typed))
		for i, item := range typed {
			result[i] = decodeTemplate(item)
		}

		return result
	default:
		return value
	}
}
