package config

import (
	"os"
	"reflect"
	"strings"
)

// EnvSource maps PREFIX_SECTION_FIELD variables onto config keys.
//
// Config keys are snake_case, so "gateway.proxy_timeout" and
// "gateway.proxy.timeout" share an env name. With known keys (WithKeys or
// KeysOf) the source resolves them exactly; without, it falls back to
// scanning the environment and treating every "_" as a separator.
type EnvSource struct {
	prefix   string
	priority int
	bindings map[string]string
}

func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{
		prefix:   strings.ToUpper(prefix),
		priority: priority,
		bindings: make(map[string]string),
	}
}

// AddBinding maps a config key onto an explicit variable name. The prefix
// is added when envKey does not already carry it.
func (s *EnvSource) AddBinding(key, envKey string) {
	s.bindings[key] = envKey
}

// WithKeys binds each key to PREFIX_KEY with dots turned into underscores.
func (s *EnvSource) WithKeys(keys ...string) *EnvSource {
	for _, k := range keys {
		s.bindings[k] = strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
	}
	return s
}

func (s *EnvSource) Name() string {
	return "env:" + s.prefix
}

func (s *EnvSource) Priority() int {
	return s.priority
}

func (s *EnvSource) Load() (map[string]any, error) {
	result := make(map[string]any)

	if len(s.bindings) > 0 {
		for key, envKey := range s.bindings {
			name := envKey
			if s.prefix != "" && !strings.HasPrefix(envKey, s.prefix+"_") {
				name = s.prefix + "_" + envKey
			}
			if value, ok := os.LookupEnv(name); ok && value != "" {
				result[key] = value
			}
		}
		return result, nil
	}

	if s.prefix == "" {
		return result, nil
	}
	prefix := s.prefix + "_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		result[strings.ReplaceAll(key, "_", ".")] = value
	}
	return result, nil
}

// KeysOf lists the dotted keys of a config struct from its mapstructure
// tags. Maps and slices are leaves.
func KeysOf(v any) []string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	collectKeys(t, "", &keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if tag == "-" {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if opts == "squash" && ft.Kind() == reflect.Struct {
			collectKeys(ft, prefix, keys)
			continue
		}
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			collectKeys(ft, key, keys)
			continue
		}
		*keys = append(*keys, key)
	}
}
