package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
)

// JSON decodes bodies into maps, slices and json.Number values.
type JSON struct{}

// Parse implements cloudapi.BodyParser.
func (JSON) Parse(body []byte, _ cloudapi.ParseOptions) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var result any

	err := decoder.Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON body: %w", err)
	}

	return result, nil
}

// String names the parser in logs.
func (JSON) String() string { return NameJSON }
