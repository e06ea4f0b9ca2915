package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Loader merges its sources into one viper instance.
type Loader struct {
	sources     []ConfigSource
	merged      map[string]any
	v           *viper.Viper
	loadedFiles []string
}

func NewLoader() *Loader {
	return &Loader{
		merged: make(map[string]any),
		v:      viper.New(),
	}
}

func (l *Loader) AddSource(source ConfigSource) {
	l.sources = append(l.sources, source)
}

// Load reads every source in priority order. Later layers replace earlier
// keys one leaf at a time.
func (l *Loader) Load() error {
	sort.SliceStable(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	merged := make(map[string]any)
	var files []string
	for _, source := range l.sources {
		data, err := source.Load()
		if err != nil {
			return fmt.Errorf("load config source %s: %w", source.Name(), err)
		}
		if fs, ok := source.(*FileSource); ok && len(data) > 0 {
			files = append(files, fs.path)
		}
		for k, v := range data {
			merged[strings.ToLower(k)] = v
		}
	}

	v := viper.New()
	for key, value := range unflattenMap(merged) {
		v.Set(key, value)
	}

	l.merged = merged
	l.loadedFiles = files
	l.v = v
	return nil
}

func unflattenMap(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = value
	}
	return out
}

// Unmarshal decodes into v using mapstructure tags. Strings from env and
// flags are weakly converted, durations parse from "30s".
func (l *Loader) Unmarshal(v any) error {
	return l.v.Unmarshal(v)
}

func (l *Loader) UnmarshalKey(key string, v any) error {
	return l.v.UnmarshalKey(key, v)
}

func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

func (l *Loader) GetInt(key string) int {
	return l.v.GetInt(key)
}

func (l *Loader) GetBool(key string) bool {
	return l.v.GetBool(key)
}

func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

func (l *Loader) AllSettings() map[string]any {
	return l.v.AllSettings()
}

// LoadedFiles lists the files that contributed at least one key.
func (l *Loader) LoadedFiles() []string {
	return l.loadedFiles
}

func (l *Loader) Viper() *viper.Viper {
	return l.v
}

func (l *Loader) Reload() error {
	return l.Load()
}
