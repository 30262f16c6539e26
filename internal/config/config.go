// Package config loads dispensecore settings from defaults, an optional YAML
// file and DISPENSECORE_* environment variables.
package config

import (
	"dispensecore/internal/archive"
	"dispensecore/internal/labware"
	"dispensecore/internal/planner"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DISPENSECORE_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "DISPENSECORE"

// Config represents the complete dispensecore configuration
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Pipette    PipetteConfig    `mapstructure:"pipette"`
	Distribute DistributeConfig `mapstructure:"distribute"`
	Deck       DeckConfig       `mapstructure:"deck"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error, dpanic, panic or fatal.
	Level string `mapstructure:"level"`
	// JSON switches from the console encoder to JSON lines
	JSON bool `mapstructure:"json"`
	// Trace writes operation spans as JSON lines to stderr
	Trace bool `mapstructure:"trace"`
}

// PipetteConfig selects the pipette mounted for distributions
type PipetteConfig struct {
	Model string `mapstructure:"model"`
}

// DistributeConfig mirrors planner.Options
type DistributeConfig struct {
	DisposalVolume   float64 `mapstructure:"disposal_volume"`
	Policy           string  `mapstructure:"policy"`
	MixRepetitions   int     `mapstructure:"mix_repetitions"`
	MixVolume        float64 `mapstructure:"mix_volume"`
	TouchTip         bool    `mapstructure:"touch_tip"`
	BlowOut          string  `mapstructure:"blow_out"`
	AspirateOffset   float64 `mapstructure:"aspirate_offset"`
	DispenseOffset   float64 `mapstructure:"dispense_offset"`
	FlowRateFraction float64 `mapstructure:"flow_rate_fraction"`
}

// DeckConfig points at a YAML deck layout; empty uses the built-in cherry-pick deck
type DeckConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects the run ledger backend
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres
	Driver string `mapstructure:"driver"`
	// DSN is the sqlite file path or the postgres connection string
	DSN string `mapstructure:"dsn"`
}

// ArchiveConfig selects the artifact archive backend
type ArchiveConfig struct {
	// Driver is one of fs, memory, s3
	Driver string   `mapstructure:"driver"`
	Root   string   `mapstructure:"root"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config configures the s3 archive driver
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// MetricsConfig controls the prometheus recorder
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Default returns the built-in configuration
func Default() *Config {
	opts := planner.DefaultOptions()
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Pipette: PipetteConfig{Model: opts.Pipette.Model},
		Distribute: DistributeConfig{
			DisposalVolume:   opts.DisposalVolume,
			Policy:           string(opts.Policy),
			MixRepetitions:   opts.MixBefore.Repetitions,
			MixVolume:        opts.MixBefore.Volume,
			TouchTip:         opts.TouchTip,
			BlowOut:          string(opts.BlowOut),
			AspirateOffset:   opts.AspirateOffset,
			DispenseOffset:   opts.DispenseOffset,
			FlowRateFraction: opts.FlowRateFraction,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: filepath.Join(DataDir(), "runs.db")},
		Archive: ArchiveConfig{Driver: "fs", Root: filepath.Join(DataDir(), "archive")},
		Metrics: MetricsConfig{Enabled: true, Namespace: "dispensecore"},
	}
}

// SetDefaults registers every key on v so environment overrides and
// Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.json", defaults.Logging.JSON)
	v.SetDefault("logging.trace", defaults.Logging.Trace)

	v.SetDefault("pipette.model", defaults.Pipette.Model)

	v.SetDefault("distribute.disposal_volume", defaults.Distribute.DisposalVolume)
	v.SetDefault("distribute.policy", defaults.Distribute.Policy)
	v.SetDefault("distribute.mix_repetitions", defaults.Distribute.MixRepetitions)
	v.SetDefault("distribute.mix_volume", defaults.Distribute.MixVolume)
	v.SetDefault("distribute.touch_tip", defaults.Distribute.TouchTip)
	v.SetDefault("distribute.blow_out", defaults.Distribute.BlowOut)
	v.SetDefault("distribute.aspirate_offset", defaults.Distribute.AspirateOffset)
	v.SetDefault("distribute.dispense_offset", defaults.Distribute.DispenseOffset)
	v.SetDefault("distribute.flow_rate_fraction", defaults.Distribute.FlowRateFraction)

	v.SetDefault("deck.path", defaults.Deck.Path)

	v.SetDefault("storage.driver", defaults.Storage.Driver)
	v.SetDefault("storage.dsn", defaults.Storage.DSN)

	v.SetDefault("archive.driver", defaults.Archive.Driver)
	v.SetDefault("archive.root", defaults.Archive.Root)
	v.SetDefault("archive.s3.bucket", defaults.Archive.S3.Bucket)
	v.SetDefault("archive.s3.region", defaults.Archive.S3.Region)
	v.SetDefault("archive.s3.endpoint", defaults.Archive.S3.Endpoint)
	v.SetDefault("archive.s3.path_style", defaults.Archive.S3.PathStyle)
	v.SetDefault("archive.s3.access_key_id", defaults.Archive.S3.AccessKeyID)
	v.SetDefault("archive.s3.secret_access_key", defaults.Archive.S3.SecretAccessKey)
	v.SetDefault("archive.s3.session_token", defaults.Archive.S3.SessionToken)

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.namespace", defaults.Metrics.Namespace)
}

// NewViper returns a viper instance with defaults, env overrides and the
// config file read in. With an empty cfgFile the file is looked up as
// dispensecore.yaml in the working directory and ConfigDir; a missing file
// is not an error. An explicit cfgFile must exist.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("dispensecore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dispensecore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dispensecore"
	}
	return filepath.Join(home, ".config", "dispensecore")
}

// DataDir returns the directory holding the default ledger and archive
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dispensecore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dispensecore"
	}
	return filepath.Join(home, ".local", "share", "dispensecore")
}

// PlannerOptions converts the distribute and pipette sections.
func (c *Config) PlannerOptions() (planner.Options, error) {
	pip, err := labware.LookupPipette(c.Pipette.Model)
	if err != nil {
		return planner.Options{}, err
	}
	policy, err := planner.ParsePolicy(c.Distribute.Policy)
	if err != nil {
		return planner.Options{}, err
	}
	blowOut, err := planner.ParseBlowOut(c.Distribute.BlowOut)
	if err != nil {
		return planner.Options{}, err
	}
	return planner.Options{
		Pipette:          pip,
		DisposalVolume:   c.Distribute.DisposalVolume,
		Policy:           policy,
		MixBefore:        planner.Mix{Repetitions: c.Distribute.MixRepetitions, Volume: c.Distribute.MixVolume},
		TouchTip:         c.Distribute.TouchTip,
		BlowOut:          blowOut,
		AspirateOffset:   c.Distribute.AspirateOffset,
		DispenseOffset:   c.Distribute.DispenseOffset,
		FlowRateFraction: c.Distribute.FlowRateFraction,
	}, nil
}

// LoadDeck returns the configured deck layout.
func (c *Config) LoadDeck() (*labware.Deck, error) {
	if c.Deck.Path == "" {
		return labware.DefaultCherrypickDeck(), nil
	}
	return labware.LoadDeckFile(c.Deck.Path)
}

// ArchiveOptions converts the archive section for archive.Open.
func (c *Config) ArchiveOptions() archive.Config {
	return archive.Config{
		Driver: c.Archive.Driver,
		Root:   c.Archive.Root,
		S3: archive.S3Config{
			Bucket:          c.Archive.S3.Bucket,
			Region:          c.Archive.S3.Region,
			Endpoint:        c.Archive.S3.Endpoint,
			AccessKeyID:     c.Archive.S3.AccessKeyID,
			SecretAccessKey: c.Archive.S3.SecretAccessKey,
			SessionToken:    c.Archive.S3.SessionToken,
			PathStyle:       c.Archive.S3.PathStyle,
		},
	}
}
