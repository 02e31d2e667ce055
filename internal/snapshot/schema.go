package snapshot

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const stateSchemaURL = "https://ledgerrelay.dev/schema/state.json"

const stateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "bootstrapped": {"type": "boolean"},
    "updatedAt": {"type": "string"},
    "rows": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/entry"}
    }
  },
  "$defs": {
    "entry": {
      "type": "object",
      "properties": {
        "data": {"type": "object"},
        "notificationHandle": {"type": ["string", "number", "null"]}
      }
    }
  }
}`

var compileStateSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(stateSchemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(stateSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(stateSchemaURL)
})

func validateDocument(data []byte) error {
	schema, err := compileStateSchema()
	if err != nil {
		return fmt.Errorf("compile state schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}
