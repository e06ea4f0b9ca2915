package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
)

// FileSource reads a YAML (or any viper-supported) file. A missing file is
// an empty layer, not an error.
type FileSource struct {
	path     string
	priority int
}

func NewFileSource(path string, priority int) *FileSource {
	return &FileSource{path: path, priority: priority}
}

func (s *FileSource) Name() string {
	return "file:" + s.path
}

func (s *FileSource) Priority() int {
	return s.priority
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) Load() (map[string]any, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("stat config file %s: %w", s.path, err)
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", s.path, err)
	}
	return flattenMap("", v.AllSettings()), nil
}

// flattenMap turns {"gateway": {"proxy_timeout": "30s"}} into
// {"gateway.proxy_timeout": "30s"}.
func flattenMap(prefix string, data map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range data {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			for k, v := range flattenMap(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}
