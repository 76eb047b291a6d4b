package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix every environment-variable override must carry.
// Nesting uses a double underscore; a single underscore stays within a
// field's own snake_case name, e.g. PREFLIGHT_AST_FILTER__MAX_FUNCTIONS=500
// or PREFLIGHT_RETRIEVER__TOP_K=20.
const EnvPrefix = "PREFLIGHT_"

// Load builds a Config from an optional YAML file plus environment overrides,
// applies defaults for anything left unset, and validates the result.
//
// configPath may be empty, in which case only environment variables and
// defaults apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", envKeyTransformer)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{IGP: IGPConfig{Enabled: true}}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeyTransformer converts PREFLIGHT_RETRIEVER__TOP_K into retriever.top_k,
// matching the koanf tag layout used by Config's nested structs. Double
// underscore marks nesting; single underscore is preserved within a segment.
func envKeyTransformer(raw string) string {
	trimmed := strings.TrimPrefix(raw, EnvPrefix)
	lower := strings.ToLower(trimmed)
	return strings.ReplaceAll(lower, "__", ".")
}
