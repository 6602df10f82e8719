package config

import (
	"strconv"
	"strings"
	"time"
)

// Duration mirrors the teacher's flexible duration type so config files can
// write "30s" as readily as a bare integer number of seconds.
type Duration time.Duration

// UnmarshalText lets Viper decode "30s"-style strings as well as plain
// integer seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if seconds, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	return strconvError(raw)
}

// DurationValue returns the real time.Duration for callers that need it.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

func strconvError(raw string) error {
	return newFieldError("Duration", "无法解析: "+raw)
}

// Config is the TOML-mapped ambient configuration for this process. It
// covers everything the spec leaves to "configuration file parsing" in its
// out-of-scope list (spec.md §1) plus the knobs this server needs to run.
// The two protocol-mandated settings (NIX_SECRET_KEY_FILE,
// NIX_UPSTREAM_CACHES) are never read from the TOML file — Load fills
// SecretKeyFile and UpstreamCaches straight from the environment, per
// spec.md §6.
type Config struct {
	// StoreDir is the Nix store directory this server claims to mirror
	// (e.g. /nix/store). It never changes the filesystem location of the
	// cache itself; see StoragePath for that.
	StoreDir string `mapstructure:"StoreDir"`
	// StoragePath is the on-disk root for the reference Store Gateway:
	// materialized store paths and their PathInfo sidecars.
	StoragePath string `mapstructure:"StoragePath"`
	// ListenPort is the TCP port the Fiber app binds.
	ListenPort int `mapstructure:"ListenPort"`
	// LogLevel/LogFilePath/LogMaxSize/LogMaxBackups/LogCompress configure
	// internal/logging exactly as the teacher's GlobalConfig does.
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	// UpstreamTimeout bounds every upstream HTTP GET (spec.md §4.2: 120s).
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	// MaxRetries/InitialBackoff mirror the teacher's GlobalConfig fields.
	// They are defaulted and validated, but nothing reads them: the
	// upstream client issues each GET once and the fetcher falls through to
	// the next upstream on failure without retrying.
	MaxRetries     int      `mapstructure:"MaxRetries"`
	InitialBackoff Duration `mapstructure:"InitialBackoff"`

	// SecretKeyFile/UpstreamCaches are populated from the environment after
	// Viper decodes the file, never from TOML. They are exported so callers
	// that already have a Config value don't need to re-read the
	// environment, while Load remains the single point that reads it.
	SecretKeyFile  string   `mapstructure:"-"`
	UpstreamCaches []string `mapstructure:"-"`
}
