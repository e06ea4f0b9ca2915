// Package flagx registers command line flags from struct tags.
//
//	type serveFlags struct {
//	    Config string `flag:"config,c" usage:"config file" default:"configs/mesh.yaml"`
//	    Port   int    `flag:"port,p" usage:"listen port" config:"server.port"`
//	}
//
// A config tag names the configuration key the flag overrides; Bind returns
// those pairs for config.NewFlagSource.
package flagx

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Bind registers one flag per tagged field on fs and returns the flag to
// configuration key bindings.
func Bind(fs *pflag.FlagSet, target any) (map[string]string, error) {
	t, err := structType(target)
	if err != nil {
		return nil, err
	}

	bindings := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("flag")
		if tag == "" || !field.IsExported() {
			continue
		}
		name, short, _ := strings.Cut(tag, ",")
		if err := register(fs, field, name, short, field.Tag.Get("usage"), field.Tag.Get("default")); err != nil {
			return nil, fmt.Errorf("flag %s: %w", name, err)
		}
		if key := field.Tag.Get("config"); key != "" {
			bindings[name] = key
		}
	}
	return bindings, nil
}

// Parse copies the flag values into target. Fields whose flag was never
// registered keep their value.
func Parse(fs *pflag.FlagSet, target any) error {
	if _, err := structType(target); err != nil {
		return err
	}
	v := reflect.ValueOf(target).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("flag")
		if tag == "" || !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if fs.Lookup(name) == nil {
			continue
		}
		if err := assign(fs, v.Field(i), name); err != nil {
			return fmt.Errorf("parse field %s: %w", field.Name, err)
		}
	}
	return nil
}

func structType(target any) (reflect.Type, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("target must be a pointer to struct")
	}
	return v.Elem().Type(), nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func register(fs *pflag.FlagSet, field reflect.StructField, name, short, usage, def string) error {
	if field.Type == durationType {
		d := time.Duration(0)
		if def != "" {
			parsed, err := time.ParseDuration(def)
			if err != nil {
				return err
			}
			d = parsed
		}
		fs.DurationP(name, short, d, usage)
		return nil
	}

	switch field.Type.Kind() {
	case reflect.String:
		fs.StringP(name, short, def, usage)
	case reflect.Int:
		n := 0
		if def != "" {
			parsed, err := strconv.Atoi(def)
			if err != nil {
				return err
			}
			n = parsed
		}
		fs.IntP(name, short, n, usage)
	case reflect.Bool:
		b := false
		if def != "" {
			parsed, err := strconv.ParseBool(def)
			if err != nil {
				return err
			}
			b = parsed
		}
		fs.BoolP(name, short, b, usage)
	case reflect.Slice:
		if field.Type.Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type: %s", field.Type.Elem().Kind())
		}
		var items []string
		if def != "" {
			items = strings.Split(def, ",")
		}
		fs.StringSliceP(name, short, items, usage)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type.Kind())
	}
	return nil
}

func assign(fs *pflag.FlagSet, field reflect.Value, name string) error {
	if field.Type() == durationType {
		d, err := fs.GetDuration(name)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		s, err := fs.GetString(name)
		if err != nil {
			return err
		}
		field.SetString(s)
	case reflect.Int:
		n, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		items, err := fs.GetStringSlice(name)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}
