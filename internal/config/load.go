package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the environment variable consulted by Load.
const ConfigPathEnv = "CHUNKLOG_CONFIG"

var (
	// ErrInvalidConfig is returned when validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Load reads the file named by CHUNKLOG_CONFIG when set, otherwise starts from
// defaults. Environment overrides are applied in both cases.
func Load() (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return LoadFromPath(path)
	}
	cfg := Default()
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file over the defaults and applies environment
// overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants that the scavenger relies on.
func (c *Config) Validate() error {
	s := c.Scavenge
	switch {
	case c.Storage.ChunkSizeBytes <= 0:
		return fmt.Errorf("%w: storage.chunkSizeBytes must be positive", ErrInvalidConfig)
	case s.MinThreads < 1:
		return fmt.Errorf("%w: scavenge.minThreads must be at least 1", ErrInvalidConfig)
	case s.MaxThreads < s.MinThreads:
		return fmt.Errorf("%w: scavenge.maxThreads (%d) below minThreads (%d)", ErrInvalidConfig, s.MaxThreads, s.MinThreads)
	case s.CancellationCheckPeriod < 1:
		return fmt.Errorf("%w: scavenge.cancellationCheckPeriod must be at least 1", ErrInvalidConfig)
	case s.ThrottlePercent < 1 || s.ThrottlePercent > 100:
		return fmt.Errorf("%w: scavenge.throttlePercent must be within [1, 100]", ErrInvalidConfig)
	}
	switch c.Storage.Codec {
	case "", "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("%w: unknown storage.codec %q", ErrInvalidConfig, c.Storage.Codec)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// applyEnv walks the struct tree and overrides fields whose env tag is set
// in the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	return applyEnvValue(reflect.ValueOf(cfg).Elem(), lookup)
}

func applyEnvValue(v reflect.Value, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if field.Kind() == reflect.Struct {
			if err := applyEnvValue(field, lookup); err != nil {
				return err
			}
			continue
		}
		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config: env %s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
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
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
