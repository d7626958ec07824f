// Package config loads taintflow settings from taintflow.yaml, TAINTFLOW_*
// environment variables and built-in defaults, in increasing order of
// precedence: defaults < file < environment. Command-line flags are applied
// on top by the caller.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configBaseName = "taintflow"
	envPrefix      = "TAINTFLOW"

	MaxDepthKey  = "analysis.max_depth"
	WorkersKey   = "analysis.workers"
	MaxNodesKey  = "analysis.max_nodes"
	TimeoutKey   = "analysis.timeout"
	UseCFGKey    = "analysis.cfg"
	CatalogKey   = "catalog.path"
	DriverKey    = "store.driver"
	StorePathKey = "store.path"
	DSNKey       = "store.dsn"
	DebugKey     = "debug"

	LogLevelKey      = "log.level"
	LogFormatKey     = "log.format"
	LogFileKey       = "log.file"
	LogMaxSizeKey    = "log.max_size"
	LogMaxBackupsKey = "log.max_backups"
	LogMaxAgeKey     = "log.max_age"
	LogCompressKey   = "log.compress"

	DefaultMaxDepth  = 5
	DefaultStorePath = ".taintflow/facts.db"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the resolved settings for one invocation.
type Config struct {
	Analysis AnalysisConfig
	Catalog  string
	Store    StoreConfig
	Log      LogConfig
	Debug    bool
}

type AnalysisConfig struct {
	MaxDepth int
	// Workers is the seed parallelism; 0 means runtime.NumCPU().
	Workers int
	// MaxNodes caps worklist items per seed; 0 means unlimited.
	MaxNodes int
	// Timeout bounds the whole run; 0 means no deadline.
	Timeout time.Duration
	UseCFG  bool
}

type StoreConfig struct {
	Driver string
	Path   string
	DSN    string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// New returns a viper instance with taintflow defaults and environment
// bindings. configFile overrides the search for taintflow.yaml in the
// working directory.
func New(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(configBaseName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault(MaxDepthKey, DefaultMaxDepth)
	v.SetDefault(WorkersKey, 0)
	v.SetDefault(MaxNodesKey, 0)
	v.SetDefault(TimeoutKey, "0s")
	v.SetDefault(UseCFGKey, true)
	v.SetDefault(CatalogKey, "")
	v.SetDefault(DriverKey, DriverSQLite)
	v.SetDefault(StorePathKey, DefaultStorePath)
	v.SetDefault(DSNKey, "")
	v.SetDefault(DebugKey, false)

	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, "console")
	v.SetDefault(LogFileKey, "")
	v.SetDefault(LogMaxSizeKey, 10)
	v.SetDefault(LogMaxBackupsKey, 3)
	v.SetDefault(LogMaxAgeKey, 28)
	v.SetDefault(LogCompressKey, true)
	return v
}

// Load reads the config file, if any, and decodes the result. A missing
// taintflow.yaml is not an error; a missing explicit configFile is.
func Load(configFile string) (*Config, *viper.Viper, error) {
	v := New(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("config: read: %w", err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode builds a Config from v and validates it.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Analysis: AnalysisConfig{
			MaxDepth: v.GetInt(MaxDepthKey),
			Workers:  v.GetInt(WorkersKey),
			MaxNodes: v.GetInt(MaxNodesKey),
			Timeout:  v.GetDuration(TimeoutKey),
			UseCFG:   v.GetBool(UseCFGKey),
		},
		Catalog: v.GetString(CatalogKey),
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString(DriverKey)),
			Path:   v.GetString(StorePathKey),
			DSN:    v.GetString(DSNKey),
		},
		Log: LogConfig{
			Level:      v.GetString(LogLevelKey),
			Format:     v.GetString(LogFormatKey),
			File:       v.GetString(LogFileKey),
			MaxSize:    v.GetInt(LogMaxSizeKey),
			MaxBackups: v.GetInt(LogMaxBackupsKey),
			MaxAge:     v.GetInt(LogMaxAgeKey),
			Compress:   v.GetBool(LogCompressKey),
		},
		Debug: v.GetBool(DebugKey),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Analysis.MaxDepth < 1 {
		return fmt.Errorf("config: %s must be at least 1, got %d", MaxDepthKey, c.Analysis.MaxDepth)
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("config: %s must not be negative", WorkersKey)
	}
	if c.Analysis.MaxNodes < 0 {
		return fmt.Errorf("config: %s must not be negative", MaxNodesKey)
	}
	if c.Analysis.Timeout < 0 {
		return fmt.Errorf("config: %s must not be negative", TimeoutKey)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: %s is required for the sqlite driver", StorePathKey)
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: %s is required for the postgres driver", DSNKey)
		}
	default:
		return fmt.Errorf("config: unknown %s %q (want %s or %s)", DriverKey, c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config: unknown %s %q (want console or json)", LogFormatKey, c.Log.Format)
	}
	return nil
}
