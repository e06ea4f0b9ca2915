package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
)

const (
	DefaultEnvPrefix  = "MESH"
	DefaultConfigFile = "configs/mesh.yaml"
)

// LoaderBuilder assembles the standard layering: base file, per-environment
// overlay, environment variables, then flags.
type LoaderBuilder struct {
	configFile   string
	envPrefix    string
	keys         []string
	flags        *pflag.FlagSet
	flagBindings map[string]string
}

func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{envPrefix: DefaultEnvPrefix}
}

func (b *LoaderBuilder) WithConfigFile(path string) *LoaderBuilder {
	b.configFile = path
	return b
}

func (b *LoaderBuilder) WithEnvPrefix(prefix string) *LoaderBuilder {
	b.envPrefix = prefix
	return b
}

// WithKeysOf makes env lookups exact for every key of the given struct.
func (b *LoaderBuilder) WithKeysOf(v any) *LoaderBuilder {
	b.keys = append(b.keys, KeysOf(v)...)
	return b
}

func (b *LoaderBuilder) WithFlags(fs *pflag.FlagSet, bindings map[string]string) *LoaderBuilder {
	b.flags = fs
	b.flagBindings = bindings
	return b
}

func (b *LoaderBuilder) Build() (*Loader, error) {
	loader := NewLoader()

	if b.configFile != "" {
		loader.AddSource(NewFileSource(b.configFile, 10))
		if overlay := envOverlay(b.configFile, GetEnv()); overlay != "" {
			loader.AddSource(NewFileSource(overlay, 20))
		}
	}
	if b.envPrefix != "" {
		loader.AddSource(NewEnvSource(b.envPrefix, 50).WithKeys(b.keys...))
	}
	if b.flags != nil {
		loader.AddSource(NewFlagSource(b.flags, b.flagBindings, 100))
	}

	if err := loader.Load(); err != nil {
		return nil, err
	}
	return loader, nil
}

// envOverlay turns configs/mesh.yaml into configs/mesh.prod.yaml.
func envOverlay(path, env string) string {
	if env == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + env + ext
}

// GetEnv returns MESH_ENV, then APP_ENV, then ENV, defaulting to "dev".
func GetEnv() string {
	for _, name := range []string{"MESH_ENV", "APP_ENV", "ENV"} {
		if env := os.Getenv(name); env != "" {
			return env
		}
	}
	return "dev"
}
