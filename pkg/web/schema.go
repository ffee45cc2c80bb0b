package web

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/workflow.json
var workflowSchemaJSON []byte

var workflowSchema = mustSchema(workflowSchemaJSON)

var errInvalidDocument = errors.New("document does not match schema")

func mustSchema(raw []byte) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("web: invalid embedded schema: %v", err))
	}

	return schema
}

// validateDocument checks a raw request body against schema before it is
// decoded into typed models.
func validateDocument(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidDocument, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", errInvalidDocument, strings.Join(problems, "; "))
	}

	return nil
}
