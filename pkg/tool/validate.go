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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateArgs checks call args against t.Schema() before invocation,
// enumerating every offending field in one error rather than stopping
// at the first, so the model gets the full picture to retry against.
// A tool with a nil schema (no declared parameters) always passes.
func validateArgs(t Tool, args map[string]any) error {
	raw := t.Schema()
	if raw == nil {
		return nil
	}

	schemaJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("tool %q: invalid schema: %w", t.Name(), err)
	}

	compiler := jsonschema.NewCompiler()
	resource := t.Name() + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", t.Name(), err)
	}

	instance := make(map[string]any, len(args))
	for k, v := range args {
		instance[k] = v
	}

	if err := compiled.Validate(instance); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("tool %q: invalid arguments: %s", t.Name(), describeValidationError(verr))
		}
		return fmt.Errorf("tool %q: invalid arguments: %w", t.Name(), err)
	}
	return nil
}

// describeValidationError walks a ValidationError's cause tree down to
// its leaves and flattens them into a sorted, semicolon-joined list of
// "<field>: <reason>" entries, so every offending field is reported at
// once instead of just the first.
func describeValidationError(verr *jsonschema.ValidationError) string {
	var fields []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "(root)"
			}
			fields = append(fields, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	sort.Strings(fields)
	return strings.Join(fields, "; ")
}
