package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var durationType = reflect.TypeOf(time.Duration(0))

// taggedField is one leaf of Config carrying flag and env tags
type taggedField struct {
	flag  string
	env   string
	usage string
	index []int
}

// fields walks Config (and nested structs) in declaration order
func fields() []taggedField {
	var out []taggedField
	var walk func(t reflect.Type, prefix []int)
	walk = func(t reflect.Type, prefix []int) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			index := append(append([]int(nil), prefix...), i)
			if f.Type.Kind() == reflect.Struct && f.Type != durationType {
				walk(f.Type, index)
				continue
			}
			if f.Tag.Get("flag") == "" && f.Tag.Get("env") == "" {
				continue
			}
			out = append(out, taggedField{
				flag:  f.Tag.Get("flag"),
				env:   f.Tag.Get("env"),
				usage: f.Tag.Get("usage"),
				index: index,
			})
		}
	}
	walk(reflect.TypeOf(Config{}), nil)
	return out
}

// LoadEnvFile loads KEY=value pairs from path into the process environment.
// Variables already set are not overridden.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	klog.V(4).Infof("Loaded environment from %s", path)
	return nil
}

// ApplyEnv overlays DRAID_BENCH_* variables found by lookup (os.LookupEnv when nil)
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v := reflect.ValueOf(cfg).Elem()
	for _, f := range fields() {
		if f.env == "" {
			continue
		}
		name := EnvPrefix + f.env
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setFromString(v.FieldByIndex(f.index), raw); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, raw, err)
		}
		klog.V(4).Infof("Config %s set from environment", name)
	}
	return nil
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(n)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

// FlagSet holds command-line values until they are overlaid on a Config
type FlagSet struct {
	values Config
	fs     *pflag.FlagSet
}

// BindFlags registers one flag per tagged Config field on fs. Defaults shown in
// help are the built-in defaults; only flags the user sets are overlaid.
func BindFlags(fs *pflag.FlagSet) *FlagSet {
	b := &FlagSet{values: Default(), fs: fs}
	v := reflect.ValueOf(&b.values).Elem()

	for _, f := range fields() {
		if f.flag == "" {
			continue
		}
		field := v.FieldByIndex(f.index)
		ptr := field.Addr().Interface()

		switch p := ptr.(type) {
		case *time.Duration:
			fs.DurationVar(p, f.flag, *p, f.usage)
		case *string:
			fs.StringVar(p, f.flag, *p, f.usage)
		case *bool:
			fs.BoolVar(p, f.flag, *p, f.usage)
		case *int:
			fs.IntVar(p, f.flag, *p, f.usage)
		case *float64:
			fs.Float64Var(p, f.flag, *p, f.usage)
		case *[]string:
			fs.StringSliceVar(p, f.flag, *p, f.usage)
		default:
			panic(fmt.Sprintf("config: field for --%s has unsupported type %T", f.flag, ptr))
		}
	}
	return b
}

// Apply copies every flag that was set on the command line into cfg. Changed
// is checked on the flag itself so this works for cobra persistent flags too.
func (b *FlagSet) Apply(cfg *Config) {
	dst := reflect.ValueOf(cfg).Elem()
	src := reflect.ValueOf(&b.values).Elem()

	for _, f := range fields() {
		if f.flag == "" {
			continue
		}
		fl := b.fs.Lookup(f.flag)
		if fl == nil || !fl.Changed {
			continue
		}
		dst.FieldByIndex(f.index).Set(src.FieldByIndex(f.index))
		klog.V(4).Infof("Config --%s set from command line", f.flag)
	}
}

// Resolve builds the effective configuration: defaults, the YAML file at
// path, the env file, the environment, then flags set on the command line.
func Resolve(path, envFile string, flags *FlagSet) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := LoadEnvFile(envFile); err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, nil); err != nil {
		return cfg, err
	}
	if flags != nil {
		flags.Apply(&cfg)
	}
	return cfg, nil
}
