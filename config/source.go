package config

// ConfigSource is one layer of configuration. Layers are merged by
// ascending priority so a higher number wins.
//
// Conventional priorities:
//   - mesh.yaml: 10
//   - mesh.<env>.yaml: 20
//   - MESH_* environment: 50
//   - command-line flags: 100
type ConfigSource interface {
	Name() string
	Priority() int
	// Load returns dot-separated keys, e.g. "gateway.proxy_timeout".
	Load() (map[string]any, error)
}
