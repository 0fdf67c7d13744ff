package feedbacksync

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidPayload wraps schema violations in API responses.
var ErrInvalidPayload = errors.New("invalid payload")

const schemaBaseURL = "https://feedbackdesk.invalid/schemas/"

const schemaDefs = `
	"$defs": {
		"essay": {
			"type": "object",
			"required": ["pk", "name", "content"],
			"properties": {
				"pk": {"type": "integer"},
				"name": {"type": "string"},
				"uploaded_by": {"type": "integer"},
				"content": {"type": "string"},
				"revision_of": {"type": ["integer", "null"]}
			}
		},
		"request": {
			"type": "object",
			"required": ["pk", "essay", "deadline"],
			"properties": {
				"pk": {"type": "integer"},
				"essay": {"$ref": "#/$defs/essay"},
				"deadline": {"type": "string", "format": "date-time"}
			}
		},
		"response": {
			"type": "object",
			"required": ["pk", "feedback_request", "finished"],
			"properties": {
				"pk": {"type": "integer"},
				"feedback_request": {"$ref": "#/$defs/request"},
				"created": {"type": "string"},
				"finished": {"type": "boolean"},
				"finish_time": {"type": ["string", "null"]},
				"editor": {"type": "integer"},
				"content": {"type": "string"},
				"previous_revision_feedback": {
					"type": "array",
					"items": {"$ref": "#/$defs/request"}
				}
			}
		}
	}`

var schemaSources = map[string]string{
	"request-list.json":  `{` + schemaDefs + `, "type": "array", "items": {"$ref": "#/$defs/request"}}`,
	"response.json":      `{` + schemaDefs + `, "$ref": "#/$defs/response"}`,
	"response-list.json": `{` + schemaDefs + `, "type": "array", "items": {"$ref": "#/$defs/response"}}`,
}

type payloadSchemas struct {
	requestList  *jsonschema.Schema
	response     *jsonschema.Schema
	responseList *jsonschema.Schema
}

func compileSchemas() (*payloadSchemas, error) {
	c := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, doc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	compile := func(name string) (*jsonschema.Schema, error) {
		sch, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		return sch, nil
	}
	var (
		out payloadSchemas
		err error
	)
	if out.requestList, err = compile("request-list.json"); err != nil {
		return nil, err
	}
	if out.response, err = compile("response.json"); err != nil {
		return nil, err
	}
	if out.responseList, err = compile("response-list.json"); err != nil {
		return nil, err
	}
	return &out, nil
}

var (
	schemasOnce     sync.Once
	compiledSchemas *payloadSchemas
)

// The schemas are constants; a compile failure is a programming error.
func defaultSchemas() *payloadSchemas {
	schemasOnce.Do(func() {
		schemas, err := compileSchemas()
		if err != nil {
			panic(err)
		}
		compiledSchemas = schemas
	})
	return compiledSchemas
}

func validatePayload(schema *jsonschema.Schema, payload []byte) error {
	if schema == nil {
		return nil
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
