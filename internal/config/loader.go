package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultUpstream is used when NIX_UPSTREAM_CACHES is unset; an explicitly
// empty value yields no upstreams (see applyEnv).
const DefaultUpstream = "https://cache.nixos.org"

// EnvSecretKeyFile and EnvUpstreamCaches are the two protocol-mandated
// environment variables (spec.md §6).
const (
	EnvSecretKeyFile   = "NIX_SECRET_KEY_FILE"
	EnvUpstreamCaches  = "NIX_UPSTREAM_CACHES"
	EnvConfigPathOverr = "NIX_SERVE_CONFIG"
)

// Load reads and decodes the TOML config file, applies defaults, validates
// the result, and layers the two spec-mandated environment variables on
// top. path == "" falls back to "config.toml", matching the teacher's
// Load().
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("StoreDir", "/nix/store")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "120s")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
}

func applyDefaults(cfg *Config) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 8080
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = "/nix/store"
	}
	if cfg.UpstreamTimeout.DurationValue() == 0 {
		cfg.UpstreamTimeout = Duration(120 * time.Second)
	}
	if cfg.InitialBackoff.DurationValue() == 0 {
		cfg.InitialBackoff = Duration(time.Second)
	}
}

// applyEnv layers NIX_SECRET_KEY_FILE and NIX_UPSTREAM_CACHES on top of the
// file config. Per spec.md §6 the upstream list defaults to a single
// cache.nixos.org entry when the variable is unset; per spec.md invariant 6
// that default applies only to the unset case — explicitly setting
// NIX_UPSTREAM_CACHES to an empty (or whitespace-only) string disables
// pull-through entirely, so os.LookupEnv is used here rather than
// os.Getenv to tell the two cases apart.
func applyEnv(cfg *Config) {
	cfg.SecretKeyFile = strings.TrimSpace(os.Getenv(EnvSecretKeyFile))

	raw, ok := os.LookupEnv(EnvUpstreamCaches)
	if !ok {
		cfg.UpstreamCaches = []string{DefaultUpstream}
		return
	}
	cfg.UpstreamCaches = ParseUpstreamList(raw)
}

// ParseUpstreamList implements the exact parsing rule of spec.md §6 so it
// can be unit-tested independently of the environment: a comma-separated
// list, with each entry trimmed of surrounding whitespace and any trailing
// slash. It does not apply the unset-variable default (applyEnv does that);
// an empty or whitespace-only raw value parses to an empty list, per
// spec.md invariant 6.
func ParseUpstreamList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, strings.TrimSuffix(trimmed, "/"))
	}
	return result
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
