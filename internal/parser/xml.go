package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// ErrMismatchedTag is returned when an end tag does not close the open element.
var ErrMismatchedTag = errors.New("mismatched end tag")

// Keys used in the XML tree.
const (
	TextKey    = "@@text"
	CommentKey = "@@comment"
)

// XML builds a tree of map[string]any from an XML document:
//
//   - an element becomes a key of its parent, repeated elements an []any;
//   - attributes are stored as "@name", namespace declarations as
//     "@xmlns" or "@xmlns:prefix";
//   - non-blank text is stored under "@@text";
//   - an element with only text collapses to the text string and an empty
//     element to nil.
type XML struct{}

// Parse implements cloudapi.BodyParser.
func (XML) Parse(body []byte, opts cloudapi.ParseOptions) (any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = true
	// The body is handed over as is; only UTF-8 and its subsets are decoded
	// correctly.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	builder := newTreeBuilder()

	for {
		token, err := decoder.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse XML body: %w", err)
		}

		switch typed := token.(type) {
		case xml.StartElement:
			builder.start(typed)
		case xml.EndElement:
			err = builder.end(typed.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to parse XML body: %w", err)
			}
		case xml.CharData:
			builder.text(string(typed))
		case xml.Comment:
			builder.comment(string(typed))
		}
	}

	if len(builder.path) > 0 {
		return nil, fmt.Errorf("failed to parse XML body: %w", io.ErrUnexpectedEOF)
	}

	return builder.root, nil
}

// String names the parser in logs.
func (XML) String() string { return NameXML }

type treeBuilder struct {
	root map[string]any
	tag  map[string]any
	path []map[string]any
	open []xml.Name
}

func newTreeBuilder() *treeBuilder {
	root := map[string]any{}

	return &treeBuilder{root: root, tag: root}
}

func (b *treeBuilder) start(element xml.StartElement) {
	name := element.Name.Local
	child := map[string]any{}

	b.path = append(b.path, b.tag)
	b.open = append(b.open, element.Name)

	switch existing := b.tag[name].(type) {
	case nil:
		if _, ok := b.tag[name]; ok {
			b.tag[name] = []any{nil, child}
		} else {
			b.tag[name] = child
		}
	case []any:
		b.tag[name] = append(existing, child)
	default:
		b.tag[name] = []any{existing, child}
	}

	for _, attr := range element.Attr {
		switch {
		case attr.Name.Space == "xmlns":
			child["@xmlns:"+attr.Name.Local] = attr.Value
		case attr.Name.Space != "":
			child["@"+attr.Name.Space+":"+attr.Name.Local] = attr.Value
		default:
			child["@"+attr.Name.Local] = attr.Value
		}
	}

	b.tag = child
}

func (b *treeBuilder) text(chars string) {
	if strings.TrimFunc(chars, unicode.IsSpace) == "" || len(b.path) == 0 {
		return
	}

	current, _ := b.tag[TextKey].(string)
	b.tag[TextKey] = current + chars
}

func (b *treeBuilder) comment(msg string) {
	if len(b.path) == 0 {
		return
	}

	current, _ := b.tag[CommentKey].(string)
	b.tag[CommentKey] = current + msg
}

func (b *treeBuilder) end(closing xml.Name) error {
	if len(b.open) == 0 {
		return fmt.Errorf("%w: </%s> without open element", ErrMismatchedTag, closing.Local)
	}

	opened := b.open[len(b.open)-1]
	if opened != closing {
		return fmt.Errorf("%w: <%s> closed by </%s>", ErrMismatchedTag, opened.Local, closing.Local)
	}

	b.open = b.open[:len(b.open)-1]
	name := closing.Local

	var value any = b.tag

	switch {
	case len(b.tag) == 0:
		value = nil
	case len(b.tag) == 1 && b.tag[TextKey] != nil:
		value = b.tag[TextKey]
	}

	parent := b.path[len(b.path)-1]
	b.path = b.path[:len(b.path)-1]

	if list, ok := parent[name].([]any); ok {
		list[len(list)-1] = value
	} else {
		parent[name] = value
	}

	b.tag = parent

	return nil
}
