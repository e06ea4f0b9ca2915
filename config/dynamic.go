package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ChangeListener hears about a single key. oldValue is empty for a key
// that did not exist before.
type ChangeListener interface {
	OnConfigChange(key, oldValue, newValue string)
}

type ChangeListenerFunc func(key, oldValue, newValue string)

func (f ChangeListenerFunc) OnConfigChange(key, oldValue, newValue string) {
	f(key, oldValue, newValue)
}

// Dynamic holds string properties that can change at runtime, either
// through Set or by editing the backing file. Keys are case-insensitive
// and dot-separated.
type Dynamic struct {
	path string
	log  *logger.CtxZapLogger

	mu     sync.RWMutex
	values map[string]string

	lmu       sync.RWMutex
	listeners []ChangeListener
}

// NewDynamic loads path when it exists. An empty path keeps properties in
// memory only.
func NewDynamic(path string, log *logger.CtxZapLogger) (*Dynamic, error) {
	if log == nil {
		log = logger.GetLogger("config")
	}
	d := &Dynamic{path: path, log: log, values: make(map[string]string)}
	if path == "" {
		return d, nil
	}
	values, err := readProperties(path)
	if err != nil {
		return nil, err
	}
	d.values = values
	log.Info("dynamic configuration loaded", zap.String("path", path), zap.Int("entries", len(values)))
	return d, nil
}

func (d *Dynamic) Get(key, def string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.values[normalizeKey(key)]; ok {
		return v
	}
	return def
}

// GetInt falls back to def when the key is missing or not an integer.
func (d *Dynamic) GetInt(key string, def int) int {
	v, ok := d.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		d.log.Debug("dynamic property is not an integer", zap.String("key", key), zap.String("value", v))
		return def
	}
	return n
}

// GetBool treats anything other than "true" (any case) as false once the
// key exists.
func (d *Dynamic) GetBool(key string, def bool) bool {
	v, ok := d.lookup(key)
	if !ok {
		return def
	}
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

func (d *Dynamic) lookup(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[normalizeKey(key)]
	return v, ok
}

// Set stores value, notifies listeners when it differs from the previous
// value and writes the file back when one is configured.
func (d *Dynamic) Set(key, value string) error {
	key = normalizeKey(key)

	d.mu.Lock()
	old, existed := d.values[key]
	d.values[key] = value
	snapshot := d.snapshotLocked()
	d.mu.Unlock()

	d.log.Info("dynamic property set", zap.String("key", key), zap.String("old", old), zap.String("new", value))
	if !existed || old != value {
		d.notify(key, old, value)
	}

	if d.path == "" {
		return nil
	}
	if err := writeProperties(d.path, snapshot); err != nil {
		d.log.Error("persist dynamic configuration failed", zap.String("path", d.path), zap.Error(err))
		return err
	}
	return nil
}

// Keys returns every property name in sorted order.
func (d *Dynamic) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Dynamic) AddListener(l ChangeListener) {
	d.lmu.Lock()
	d.listeners = append(d.listeners, l)
	d.lmu.Unlock()
}

// Reload re-reads the file and notifies one change per added, changed or
// removed key. A read failure keeps the current values.
func (d *Dynamic) Reload() error {
	if d.path == "" {
		return nil
	}
	fresh, err := readProperties(d.path)
	if err != nil {
		d.log.Error("reload dynamic configuration failed", zap.String("path", d.path), zap.Error(err))
		return err
	}

	type change struct{ key, old, new string }
	var changes []change

	d.mu.Lock()
	for k, v := range fresh {
		if old, ok := d.values[k]; !ok || old != v {
			changes = append(changes, change{k, old, v})
		}
	}
	for k, old := range d.values {
		if _, ok := fresh[k]; !ok {
			changes = append(changes, change{k, old, ""})
		}
	}
	d.values = fresh
	d.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].key < changes[j].key })
	if len(changes) > 0 {
		d.log.Info("dynamic configuration reloaded", zap.String("path", d.path), zap.Int("changes", len(changes)))
	}
	for _, c := range changes {
		d.notify(c.key, c.old, c.new)
	}
	return nil
}

// Watch reloads on every write to the backing file. The watcher lives as
// long as the process.
func (d *Dynamic) Watch() {
	if d.path == "" {
		return
	}
	v := viper.New()
	v.SetConfigFile(d.path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		_ = d.Reload()
	})
	v.WatchConfig()
	d.log.Debug("dynamic configuration watcher started", zap.String("path", d.path))
}

func (d *Dynamic) notify(key, old, value string) {
	d.lmu.RLock()
	listeners := make([]ChangeListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.lmu.RUnlock()

	for _, l := range listeners {
		d.safeNotify(l, key, old, value)
	}
}

func (d *Dynamic) safeNotify(l ChangeListener, key, old, value string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("config listener panicked",
				zap.String("key", key),
				zap.String("listener", fmt.Sprintf("%T", l)),
				zap.Any("panic", r),
			)
		}
	}()
	l.OnConfigChange(key, old, value)
}

func (d *Dynamic) snapshotLocked() map[string]string {
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func readProperties(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("stat dynamic config %s: %w", path, err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read dynamic config %s: %w", path, err)
	}
	out := make(map[string]string)
	for k, val := range flattenMap("", v.AllSettings()) {
		out[k] = fmt.Sprint(val)
	}
	return out, nil
}

func writeProperties(path string, values map[string]string) error {
	v := viper.New()
	v.SetConfigFile(path)
	for k, val := range values {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write dynamic config %s: %w", path, err)
	}
	return nil
}
