// Package catalog provides a static, config-driven
// executor.ResourceTypeCatalog: a stand-in for a real schema-registry
// lookup.
package catalog

import (
	"context"
	"fmt"
)

// Static returns the configured resource types verbatim on every
// call.
type Static struct {
	resourceTypes []string
}

// New constructs a Static catalog. resourceTypes must be non-empty.
func New(resourceTypes []string) (*Static, error) {
	if len(resourceTypes) == 0 {
		return nil, fmt.Errorf("catalog: resource type list must not be empty")
	}
	return &Static{resourceTypes: append([]string(nil), resourceTypes...)}, nil
}

// GetAll implements executor.ResourceTypeCatalog.
func (s *Static) GetAll(_ context.Context) ([]string, error) {
	return append([]string(nil), s.resourceTypes...), nil
}
