// File: internal/loader/loader.go
//
// Package loader parses declarative YAML test specifications into validated
// TestStep sequences. The runner consumes only the validated output; it
// never re-checks action names or required parameters.
package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stitchqa/stitch/api/schemas"
)

// TestSpec is a parsed test file.
type TestSpec struct {
	Name  string             `yaml:"name"`
	Vars  map[string]string  `yaml:"vars,omitempty"`
	Steps []schemas.TestStep `yaml:"steps"`
}

// LoadFile reads and validates a YAML test specification.
func LoadFile(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test spec %s: %w", path, err)
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("test spec %s: %w", path, err)
	}
	return spec, nil
}

// Parse unmarshals and validates a YAML test specification.
func Parse(data []byte) (*TestSpec, error) {
	var spec TestSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if spec.Name == "" {
		spec.Name = "unnamed test"
	}
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("test spec has no steps")
	}
	if err := validateSteps(spec.Steps, ""); err != nil {
		return nil, err
	}
	return &spec, nil
}

// validateSteps walks the step tree depth-first. Branch nodes (with a when
// expression) carry no action of their own; leaf nodes must name a known
// action and satisfy its parameter contract.
func validateSteps(steps []schemas.TestStep, path string) error {
	for i, step := range steps {
		where := fmt.Sprintf("%ssteps[%d]", path, i)

		if step.When != "" {
			if step.Action != "" {
				return fmt.Errorf("%s: a branch step (when) cannot also have an action", where)
			}
			if len(step.Then) == 0 && len(step.Else) == 0 {
				return fmt.Errorf("%s: branch step needs a then or else list", where)
			}
			if err := validateSteps(step.Then, where+".then."); err != nil {
				return err
			}
			if err := validateSteps(step.Else, where+".else."); err != nil {
				return err
			}
			continue
		}

		action, err := schemas.ParseAction(string(step.Action))
		if err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if action.RequiresSelector() && step.Selector == "" {
			return fmt.Errorf("%s: action %s requires a selector", where, action)
		}
		if action == schemas.ActionNavigate && step.Param("url") == "" && step.Selector == "" {
			return fmt.Errorf("%s: navigate requires a url param", where)
		}
		if action == schemas.ActionWait && step.Param("ms") == "" {
			return fmt.Errorf("%s: wait requires an ms param", where)
		}
		if step.RetryCount < 0 {
			return fmt.Errorf("%s: retry_count cannot be negative", where)
		}
		if step.RetryDelayMs < 0 {
			return fmt.Errorf("%s: retry_delay_ms cannot be negative", where)
		}
		if step.TimeoutMs < 0 {
			return fmt.Errorf("%s: timeout_ms cannot be negative", where)
		}
		if len(step.Then) > 0 || len(step.Else) > 0 {
			return fmt.Errorf("%s: then/else lists require a when expression", where)
		}
	}
	return nil
}
