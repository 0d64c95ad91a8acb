// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a Go argument struct into the map[string]any
// JSON-schema shape CallableTool.Schema returns, reading `json` tags for
// parameter names and `jsonschema` tags for required/description/enum/
// numeric-range metadata.
//
// Supported tags:
//   - json:"name"                    - parameter name
//   - json:",omitempty"               - optional parameter
//   - jsonschema:"required"           - explicitly mark as required
//   - jsonschema:"description=..."    - parameter description
//   - jsonschema:"enum=val1|val2"     - allowed values
//   - jsonschema:"minimum=N,maximum=M" - numeric constraints
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(T))

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: failed to marshal schema: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("tool: failed to unmarshal schema: %w", err)
	}
	delete(asMap, "$schema")
	delete(asMap, "$id")

	if asMap["type"] != "object" {
		return asMap, nil
	}

	result := map[string]any{
		"type":       "object",
		"properties": asMap["properties"],
	}
	if req := asMap["required"]; req != nil {
		result["required"] = req
	}
	if addl, ok := asMap["additionalProperties"]; ok {
		result["additionalProperties"] = addl
	}
	return result, nil
}

// MustGenerateSchema is GenerateSchema but panics on failure, for use
// in package-level var initializers where T is a fixed, known-good
// struct and an error here means a programming mistake, not bad input.
func MustGenerateSchema[T any]() map[string]any {
	s, err := GenerateSchema[T]()
	if err != nil {
		panic(err)
	}
	return s
}
