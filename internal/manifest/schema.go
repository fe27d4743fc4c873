package manifest

import (
	"bytes"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// wireitConfigSchema encodes the structural validation rules of §4.1 that
// are independent of cross-script state (the duplicate-dependency and
// cross-package resolution rules still need the analyzer's broader view,
// and are checked there instead).
const wireitConfigSchema = `{
	"$id": "https://wireit-go/schema/config.json",
	"type": "object",
	"properties": {
		"command": {"type": "string"},
		"dependencies": {
			"type": "array",
			"items": {
				"anyOf": [
					{"type": "string", "minLength": 1},
					{
						"type": "object",
						"properties": {
							"script": {"type": "string", "minLength": 1},
							"cascade": {"type": "boolean"}
						},
						"required": ["script"],
						"additionalProperties": false
					}
				]
			}
		},
		"files": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"output": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"clean": {
			"anyOf": [
				{"type": "boolean"},
				{"const": "if-file-deleted"}
			]
		},
		"packageLocks": {
			"type": "array",
			"items": {"type": "string", "minLength": 1, "pattern": "^[^/\\\\]+$"}
		},
		"env": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"service": {
			"type": "object",
			"properties": {
				"readyWhen": {
					"type": "object",
					"properties": {
						"lineMatches": {"type": "string"}
					},
					"additionalProperties": false
				}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	const resourceURL = "https://wireit-go/schema/config.json"
	if err := c.AddResource(resourceURL, bytes.NewReader([]byte(wireitConfigSchema))); err != nil {
		return nil, err
	}
	return c.Compile(resourceURL)
}
