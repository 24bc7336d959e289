// Package parser turns response bodies into generic trees.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// Parser names accepted by ByName.
const (
	NameXML   = "xml"
	NameSax   = "sax"
	NameJSON  = "json"
	NamePlain = "plain"
)

const utf8Encoding = "UTF-8"

var (
	xmlContentRe  = regexp.MustCompile(`xml`)
	jsonContentRe = regexp.MustCompile(`json|javascript`)
	utf8CharsetRe = regexp.MustCompile(`(?i)charset=utf-8`)
)

// ByName returns the parser registered under name. An empty name selects
// the XML parser.
func ByName(name string) (cloudapi.BodyParser, error) {
	switch strings.ToLower(name) {
	case "", NameXML, NameSax:
		return XML{}, nil
	case NameJSON:
		return JSON{}, nil
	case NamePlain:
		return Plain{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", cloudapi.ErrUnknownParser, name)
	}
}

// Select picks the parser for a response: blank bodies are plain, xml
// content types use the XML parser, json or javascript ones the JSON
// parser, and an untyped body starting with "<?xml " is XML too.
func Select(contentType string, body []byte, xmlParser string) (cloudapi.BodyParser, cloudapi.ParseOptions, error) {
	var opts cloudapi.ParseOptions

	if utf8CharsetRe.MatchString(contentType) {
		opts.Encoding = utf8Encoding
	}

	if cloudapi.IsBlank(body) {
		return Plain{}, opts, nil
	}

	switch {
	case xmlContentRe.MatchString(contentType):
		parser, err := ByName(xmlParser)

		return parser, opts, err
	case jsonContentRe.MatchString(contentType):
		return JSON{}, opts, nil
	case strings.HasPrefix(string(body), "<?xml "):
		parser, err := ByName(xmlParser)

		return parser, opts, err
	default:
		return Plain{}, opts, nil
	}
}

// Plain returns the body as a string.
type Plain struct{}

// Parse implements cloudapi.BodyParser.
func (Plain) Parse(body []byte, _ cloudapi.ParseOptions) (any, error) {
	return string(body), nil
}

// String names the parser in logs.
func (Plain) String() string { return NamePlain }
