// Package config provides configuration management for the combination
// framework. Parameter files use the ini format; the conventional file name
// is "ctparam".
package config

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/combigrid/pkg/errors"
	"github.com/combigrid/pkg/model"
)

// DefaultFileName is the parameter file consulted when no path is given on
// the command line.
const DefaultFileName = "ctparam"

// Config holds all configuration for one framework instance.
type Config struct {
	Manager    ManagerConfig    `mapstructure:"manager"`
	CT         CTConfig         `mapstructure:"ct"`
	ThirdLevel ThirdLevelConfig `mapstructure:"third_level"`
	Log        LogConfig        `mapstructure:"log"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// ManagerConfig describes the process layout: ngroup groups of nprocs
// workers each, plus the dedicated manager process.
type ManagerConfig struct {
	NGroup int `mapstructure:"ngroup"`
	NProcs int `mapstructure:"nprocs"`
}

// CTConfig holds the combination technique parameters.
type CTConfig struct {
	Dim      int    `mapstructure:"dim"`
	LMin     string `mapstructure:"lmin"`     // space-separated levels, e.g. "2 2"
	LMax     string `mapstructure:"lmax"`     // space-separated levels
	Boundary string `mapstructure:"boundary"` // space-separated flags 0/1/2
	NCombi   int    `mapstructure:"ncombi"`
	Scheme   string `mapstructure:"scheme"` // adaptive or classical
}

// ThirdLevelConfig configures the wide-area bridge. Presence of a host
// enables the bridge.
type ThirdLevelConfig struct {
	Host       string `mapstructure:"host"`
	DataPort   int    `mapstructure:"data_port"`
	BrokerPort int    `mapstructure:"broker_port"`
	SystemName string `mapstructure:"system_name"`
	Reduce     string `mapstructure:"reduce"`    // sum (default) or replace
	TimeoutSec int    `mapstructure:"timeout_s"` // socket and control timeout
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StatsConfig controls per-iteration statistics and checkpoint output.
type StatsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	Checkpoint bool   `mapstructure:"checkpoint"`
}

// StorageConfig selects the backend for stats and checkpoint artifacts.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local or cos
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	LocalPath string `mapstructure:"local_path"`
}

// DatabaseConfig configures the run-duration history store backing the
// learning load model. An empty type disables the store.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, mysql or postgres
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Load reads configuration from the specified ini file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = DefaultFileName
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("ini")

	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read parameter file", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal parameter file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw ini content (useful for
// testing).
func LoadFromReader(content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("ini")
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read parameters", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal parameters", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("manager.ngroup", 1)
	v.SetDefault("manager.nprocs", 1)

	v.SetDefault("ct.ncombi", 1)
	v.SetDefault("ct.scheme", "adaptive")

	v.SetDefault("third_level.reduce", "sum")
	v.SetDefault("third_level.timeout_s", 60)

	v.SetDefault("log.level", "info")

	v.SetDefault("stats.enabled", true)
	v.SetDefault("stats.dir", "stats")
	v.SetDefault("stats.checkpoint", false)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./out")

	v.SetDefault("database.path", "durations.db")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Manager.NGroup < 1 {
		return apperrors.New(apperrors.CodeConfigError, "ngroup must be at least 1")
	}
	if c.Manager.NProcs < 1 {
		return apperrors.New(apperrors.CodeConfigError, "nprocs must be at least 1")
	}
	if c.CT.Dim < 1 {
		return apperrors.New(apperrors.CodeConfigError, "dim must be at least 1")
	}
	if c.CT.NCombi < 1 {
		return apperrors.New(apperrors.CodeConfigError, "ncombi must be at least 1")
	}
	if c.CT.Scheme != "adaptive" && c.CT.Scheme != "classical" {
		return apperrors.Newf(apperrors.CodeConfigError, "unknown scheme: %s", c.CT.Scheme)
	}
	if c.ThirdLevel.Reduce != "sum" && c.ThirdLevel.Reduce != "replace" {
		return apperrors.Newf(apperrors.CodeConfigError, "unknown third-level reduce: %s", c.ThirdLevel.Reduce)
	}

	if _, err := c.LevelMin(); err != nil {
		return err
	}
	if _, err := c.LevelMax(); err != nil {
		return err
	}
	if _, err := c.BoundaryFlags(); err != nil {
		return err
	}

	return nil
}

// ThirdLevelEnabled reports whether the third-level bridge is configured.
func (c *Config) ThirdLevelEnabled() bool {
	return c.ThirdLevel.Host != ""
}

// LevelMin parses the lmin level vector.
func (c *Config) LevelMin() (model.LevelVector, error) {
	return parseLevelVector(c.CT.LMin, c.CT.Dim, "lmin")
}

// LevelMax parses the lmax level vector.
func (c *Config) LevelMax() (model.LevelVector, error) {
	return parseLevelVector(c.CT.LMax, c.CT.Dim, "lmax")
}

// BoundaryFlags parses the per-dimension boundary flags. An empty setting
// means two-sided boundaries everywhere.
func (c *Config) BoundaryFlags() ([]model.BoundaryFlag, error) {
	if strings.TrimSpace(c.CT.Boundary) == "" {
		return model.UniformBoundary(c.CT.Dim, model.BoundaryTwoSided), nil
	}

	parts := strings.Fields(c.CT.Boundary)
	if len(parts) != c.CT.Dim {
		return nil, apperrors.Newf(apperrors.CodeConfigError,
			"boundary needs %d entries, got %d", c.CT.Dim, len(parts))
	}

	flags := make([]model.BoundaryFlag, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 2 {
			return nil, apperrors.Newf(apperrors.CodeConfigError, "invalid boundary flag: %s", p)
		}
		flags[i] = model.BoundaryFlag(n)
	}
	return flags, nil
}

func parseLevelVector(s string, dim int, name string) (model.LevelVector, error) {
	parts := strings.Fields(s)
	if len(parts) != dim {
		return nil, apperrors.Newf(apperrors.CodeConfigError,
			"%s needs %d entries, got %d", name, dim, len(parts))
	}

	l := make(model.LevelVector, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, apperrors.Newf(apperrors.CodeConfigError, "invalid %s entry: %s", name, p)
		}
		l[i] = n
	}
	return l, nil
}
