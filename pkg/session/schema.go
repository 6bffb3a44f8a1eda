package session

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DocumentSchema is the JSON Schema for the session store document
const DocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "sessions"],
  "properties": {
    "version": {
      "type": "integer",
      "const": 1,
      "description": "Store format version"
    },
    "saved_at": {
      "type": "string",
      "description": "Time of the last save"
    },
    "sessions": {
      "type": "object",
      "additionalProperties": { "$ref": "#/definitions/session" }
    }
  },
  "definitions": {
    "session": {
      "type": "object",
      "required": ["name", "turns"],
      "properties": {
        "name": { "type": "string", "minLength": 1, "maxLength": 128 },
        "created_at": { "type": "string" },
        "updated_at": { "type": "string" },
        "turns": {
          "type": "array",
          "items": { "$ref": "#/definitions/turn" }
        }
      }
    },
    "turn": {
      "type": "object",
      "required": ["role", "text"],
      "properties": {
        "role": { "enum": ["user", "assistant"] },
        "text": { "type": "string", "minLength": 1 },
        "created_at": { "type": "string" },
        "images": {
          "type": "array",
          "items": { "$ref": "#/definitions/image" }
        }
      },
      "if": { "properties": { "role": { "const": "assistant" } } },
      "then": { "not": { "required": ["images"] } }
    },
    "image": {
      "type": "object",
      "required": ["media_type", "data"],
      "properties": {
        "name": { "type": "string" },
        "media_type": { "type": "string", "pattern": "^image/" },
        "data": { "type": "string", "minLength": 1 }
      }
    }
  }
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(DocumentSchema)

// validateDocument checks raw store bytes against DocumentSchema
func validateDocument(data []byte) error {
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: schema validation error: %v", ErrCorruptStore, err)
	}

	if !result.Valid() {
		var errMsgs []string
		for _, err := range result.Errors() {
			errMsgs = append(errMsgs, err.String())
		}
		return fmt.Errorf("%w: %s", ErrCorruptStore, strings.Join(errMsgs, "; "))
	}

	return nil
}
