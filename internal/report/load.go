package report

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a specification from a YAML file.
func Load(path string) (*Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read specification: %w", err)
	}
	var spec Specification
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse specification: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid specification %s: %w", path, err)
	}
	return &spec, nil
}
