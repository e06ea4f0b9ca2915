package config

import (
	"fmt"

	"github.com/samber/do/v2"
	"github.com/spf13/pflag"
)

type ProvideLoaderOptions struct {
	ConfigFile   string
	EnvPrefix    string
	KeysOf       any
	Flags        *pflag.FlagSet
	FlagBindings map[string]string
}

// ProvideLoader registers the loader as the root of the injector graph.
//
//	do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{
//	    ConfigFile: "configs/mesh.yaml",
//	    KeysOf:     application.MeshConfig{},
//	}))
func ProvideLoader(opts ProvideLoaderOptions) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		if opts.ConfigFile == "" {
			opts.ConfigFile = DefaultConfigFile
		}
		b := NewLoaderBuilder().WithConfigFile(opts.ConfigFile)
		if opts.EnvPrefix != "" {
			b.WithEnvPrefix(opts.EnvPrefix)
		}
		if opts.KeysOf != nil {
			b.WithKeysOf(opts.KeysOf)
		}
		if opts.Flags != nil {
			b.WithFlags(opts.Flags, opts.FlagBindings)
		}

		loader, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("config loader build failed: %w", err)
		}
		return loader, nil
	}
}
