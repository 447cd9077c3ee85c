package resolver

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/waitline/waitline/pkg/models"
)

// JSON schemas guard the shape of the opaque wait config before it is
// decoded into a typed struct. Range and enum checks beyond shape live
// in struct tags and the time engine.
var configSchemas = map[models.WaitType]string{
	models.WaitTypeFixedTime: `{
		"type": "object",
		"required": ["amount", "unit"],
		"properties": {
			"amount": {"type": "integer"},
			"unit": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	models.WaitTypeUntilDate: `{
		"type": "object",
		"required": ["date"],
		"properties": {
			"date": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	models.WaitTypeUntilTime: `{
		"type": "object",
		"required": ["time"],
		"properties": {
			"time": {"type": "string"},
			"timezone": {"type": "string"},
			"weekdays": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	models.WaitTypeForEvent: `{
		"type": "object",
		"required": ["event_type", "contact_id"],
		"properties": {
			"event_type": {"type": "string"},
			"contact_id": {"type": "string"},
			"correlation_id": {"type": "string"},
			"timeout": {
				"type": "object",
				"required": ["amount", "unit"],
				"properties": {
					"amount": {"type": "integer"},
					"unit": {"type": "string"}
				},
				"additionalProperties": false
			},
			"timeout_action": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

// validateConfigShape checks rawConfig against the schema for waitType.
func validateConfigShape(waitType models.WaitType, rawConfig []byte) error {
	schema, ok := configSchemas[waitType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWaitType, waitType)
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)
	dataLoader := gojsonschema.NewBytesLoader(rawConfig)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrMalformedConfig, strings.Join(details, "; "))
	}

	return nil
}
