// Command generate-schema writes the JSON schema of the knsock
// configuration file, for editor completion and CI validation.
//
// Usage:
//
//	generate-schema [OUTPUT]
//
// OUTPUT defaults to config.schema.json; "-" writes to stdout.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/knsock/pkg/config"
)

const defaultOutput = "config.schema.json"

func main() {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		// Defaults fill every field, so nothing in the file is mandatory.
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://github.com/marmos91/knsock/config.schema.json"
	schema.Title = "knsock Configuration"
	schema.Description = "Configuration schema for the knsock server (knsock serve)"
	schema.Version = "1.0.0"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}
	schemaJSON = append(schemaJSON, '\n')

	outputFile := defaultOutput
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if outputFile == "-" {
		if _, err := os.Stdout.Write(schemaJSON); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "JSON schema written to %s\n", outputFile)
}
