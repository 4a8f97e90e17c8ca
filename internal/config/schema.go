package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
	FieldNameTag:              "yaml",
}

// Schema returns the JSON schema of the config file.
func Schema() ([]byte, error) {
	return json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
}
