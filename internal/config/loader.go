package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every configuration environment variable.
	EnvPrefix = "ITSLIVE_"
	// EnvConfigPath names the YAML file loaded when no path is given.
	EnvConfigPath = EnvPrefix + "CONFIG"
)

// Load builds a Config by layering defaults, an optional YAML file and
// environment variables, then validates it.
//
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. YAML file at path, or at $ITSLIVE_CONFIG when path is empty
//  3. env, e.g. ITSLIVE_LANDSAT__MAX_CLOUD_COVER -> landsat.max_cloud_cover
func Load(_ context.Context, path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// A double underscore separates nesting levels so single underscores
	// stay part of the key.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvConfigPath {
			return ""
		}
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		// Lists and maps given by a source replace the defaults instead of
		// being merged element by element.
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			ZeroFields:       true,
		},
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
