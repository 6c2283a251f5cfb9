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

const (
	envPrefix         = "ABAQUIZ_"
	maxConfigFileSize = 1024 * 1024
	DefaultPath       = "config.yaml"
)

// Load reads configuration from a YAML file, then overrides it with
// ABAQUIZ_* environment variables, then applies defaults and validates.
//
// Environment variables split on the first underscore after the prefix:
//
//	ABAQUIZ_POOL_THRESHOLD      -> pool.threshold
//	ABAQUIZ_LLM_MAX_OUTPUT_TOKENS -> llm.max_output_tokens
//
// A missing file is not an error when path is the default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if path == "" {
		path = os.Getenv("ABAQUIZ_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applySecrets(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return content, nil
}

// envKey maps ABAQUIZ_SECTION_FIELD_NAME to section.field_name.
// ABAQUIZ_VECTOR_STORE_* is the one two-word section.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if rest, ok := strings.CutPrefix(lower, "vector_store_"); ok {
		return "vector_store." + rest
	}
	if lower == "type_distribution" {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applySecrets fills API keys from the conventional provider variables.
func applySecrets(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	}
	if cfg.Auth.BotAPIKey == "" {
		cfg.Auth.BotAPIKey = os.Getenv("BOT_API_KEY")
	}
}
