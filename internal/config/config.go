// Package config loads settings from defaults, an optional YAML file,
// CARDIFY_ environment variables and command-line flags, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable. Nested keys are joined
// with a double underscore: CARDIFY_SYNC__MAX_RETRIES sets sync.max_retries.
const EnvPrefix = "CARDIFY_"

type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Remote   RemoteConfig   `koanf:"remote"`
	Sync     SyncConfig     `koanf:"sync"`
	SRS      SRSConfig      `koanf:"srs"`
	Review   ReviewConfig   `koanf:"review"`
	Import   ImportConfig   `koanf:"import"`
	Log      LogConfig      `koanf:"log"`
	Server   ServerConfig   `koanf:"server"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// RemoteConfig points at the server API. An empty BaseURL disables sync.
type RemoteConfig struct {
	BaseURL    string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	OwnerScope string        `koanf:"owner_scope"`
}

type SyncConfig struct {
	Interval         time.Duration `koanf:"interval" validate:"gt=0"`
	MaxRetries       int           `koanf:"max_retries" validate:"gte=0"`
	AttemptsPerCycle int           `koanf:"attempts_per_cycle" validate:"gte=1"`
	Parallelism      int           `koanf:"parallelism" validate:"gte=1"`
	BackoffBase      time.Duration `koanf:"backoff_base" validate:"gt=0"`
	BackoffMax       time.Duration `koanf:"backoff_max" validate:"gtefield=BackoffBase"`
}

type SRSConfig struct {
	FirstInterval  int           `koanf:"first_interval" validate:"gte=1"`
	SecondInterval int           `koanf:"second_interval" validate:"gte=1"`
	RelearnDelay   time.Duration `koanf:"relearn_delay" validate:"gte=0"`
}

// ReviewConfig shapes review sessions. Limit 0 means no cap.
type ReviewConfig struct {
	Limit   int  `koanf:"limit" validate:"gte=0"`
	Shuffle bool `koanf:"shuffle"`
}

type ImportConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// LogConfig selects the level, format and destination of logs. With an empty
// File, logs go to stderr; otherwise the file is rotated.
type LogConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format" validate:"oneof=json text"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
	Compress   bool   `koanf:"compress"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "cardify.db"},
		Remote:   RemoteConfig{Timeout: 15 * time.Second},
		Sync: SyncConfig{
			Interval:         5 * time.Minute,
			MaxRetries:       3,
			AttemptsPerCycle: 3,
			Parallelism:      4,
			BackoffBase:      500 * time.Millisecond,
			BackoffMax:       10 * time.Second,
		},
		SRS: SRSConfig{
			FirstInterval:  1,
			SecondInterval: 3,
			RelearnDelay:   10 * time.Minute,
		},
		Review: ReviewConfig{Shuffle: true},
		Import: ImportConfig{ReposDir: "repos"},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
	}
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"db":           "database.path",
	"remote":       "remote.base_url",
	"owner":        "remote.owner_scope",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"addr":         "server.addr",
	"repos-dir":    "import.repos_dir",
	"review-limit": "review.limit",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML config file")
	fs.String("db", d.Database.Path, "path to the SQLite database file")
	fs.String("remote", d.Remote.BaseURL, "base URL of the sync server API")
	fs.String("owner", d.Remote.OwnerScope, "owner scope for decks")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("log-file", d.Log.File, "write logs to a rotated file instead of stderr")
	fs.String("addr", d.Server.Addr, "listen address of the local API")
	fs.String("repos-dir", d.Import.ReposDir, "directory for cloned deck repositories")
	fs.Int("review-limit", d.Review.Limit, "maximum cards per review session (0 for no limit)")
}

// Load builds the configuration. fs may be nil; only flags the user set
// override other sources. The config file comes from the --config flag or
// CARDIFY_CONFIG.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv(EnvPrefix + "CONFIG")
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns CARDIFY_SYNC__MAX_RETRIES into sync.max_retries.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and names every invalid key.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
}
