package config

import (
	"github.com/spf13/pflag"
)

// FlagSource lifts explicitly set command-line flags into config keys.
// Flags left at their default do not override lower layers.
type FlagSource struct {
	flags    *pflag.FlagSet
	bindings map[string]string
	priority int
}

// NewFlagSource maps flag names onto config keys, e.g. "port" to
// "app.port".
func NewFlagSource(flags *pflag.FlagSet, bindings map[string]string, priority int) *FlagSource {
	return &FlagSource{flags: flags, bindings: bindings, priority: priority}
}

func (s *FlagSource) Name() string {
	return "flags"
}

func (s *FlagSource) Priority() int {
	return s.priority
}

func (s *FlagSource) Load() (map[string]any, error) {
	result := make(map[string]any)
	if s.flags == nil {
		return result, nil
	}
	for name, key := range s.bindings {
		f := s.flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			result[key] = sv.GetSlice()
			continue
		}
		result[key] = f.Value.String()
	}
	return result, nil
}
