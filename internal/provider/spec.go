package provider

import (
	"fmt"
)

// Kinds of provider that can be built from configuration.
const (
	KindMemory = "memory"
	KindDir    = "dir"
	KindS3     = "s3"
)

// Spec is the configuration of one provider.
type Spec struct {
	ID   string   `yaml:"id"`
	Kind string   `yaml:"kind"`
	Path string   `yaml:"path,omitempty"`
	S3   S3Config `yaml:"s3,omitempty"`
}

// Build constructs the provider described by spec.
func Build(spec Spec) (Provider, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("provider of kind %q has no id", spec.Kind)
	}

	switch spec.Kind {
	case KindMemory:
		return NewMemory(spec.ID), nil
	case KindDir:
		if spec.Path == "" {
			return nil, fmt.Errorf("dir provider %q has no path", spec.ID)
		}
		return NewDir(spec.ID, spec.Path)
	case KindS3:
		return NewS3(spec.ID, spec.S3)
	default:
		return nil, fmt.Errorf("provider %q has unknown kind %q", spec.ID, spec.Kind)
	}
}

// BuildRegistry builds every spec and registers the results in order.
func BuildRegistry(specs []Spec) (*Registry, error) {
	registry := NewRegistry()
	for _, spec := range specs {
		p, err := Build(spec)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
