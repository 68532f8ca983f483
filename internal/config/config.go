// Package config provides configuration management for the clipforge editor.
// Values come from defaults, an optional .env file, an optional YAML file and
// CLIPFORGE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	// Default values
	DefaultPort              = 8788
	DefaultLogLevel          = "info"
	DefaultDataDir           = ".clipforge"
	DefaultReconcileInterval = 5 * time.Second
	DefaultTickInterval      = 33 * time.Millisecond
	DefaultMockDelay         = 5 * time.Second
	DefaultProviderMode      = ProviderMock
	DefaultLogMaxSizeMB      = 50
	DefaultLogMaxBackups     = 3
	DefaultLogMaxAgeDays     = 28

	ProviderMock = "mock"
	ProviderHTTP = "http"

	// Environment variable names
	EnvConfigFile        = "CLIPFORGE_CONFIG"
	EnvPort              = "CLIPFORGE_PORT"
	EnvLogLevel          = "CLIPFORGE_LOG_LEVEL"
	EnvDataDir           = "CLIPFORGE_DATA_DIR"
	EnvDBPath            = "CLIPFORGE_DB_PATH"
	EnvMediaDir          = "CLIPFORGE_MEDIA_DIR"
	EnvLogFile           = "CLIPFORGE_LOG_FILE"
	EnvLogMaxSizeMB      = "CLIPFORGE_LOG_MAX_SIZE_MB"
	EnvLogMaxBackups     = "CLIPFORGE_LOG_MAX_BACKUPS"
	EnvLogMaxAgeDays     = "CLIPFORGE_LOG_MAX_AGE_DAYS"
	EnvLogCompress       = "CLIPFORGE_LOG_COMPRESS"
	EnvReconcileInterval = "CLIPFORGE_RECONCILE_INTERVAL"
	EnvTickInterval      = "CLIPFORGE_TICK_INTERVAL"
	EnvProviderMode      = "CLIPFORGE_PROVIDER_MODE"
	EnvProviderURL       = "CLIPFORGE_PROVIDER_URL"
	EnvProviderToken     = "CLIPFORGE_PROVIDER_TOKEN"
	EnvMockDelay         = "CLIPFORGE_MOCK_DELAY"
	EnvAutoInsert        = "CLIPFORGE_AUTO_INSERT"
	EnvHeadless          = "CLIPFORGE_HEADLESS"
	EnvFFmpegPath        = "CLIPFORGE_FFMPEG"
	EnvFFprobePath       = "CLIPFORGE_FFPROBE"

	// Database filename
	DBFilename = "clipforge.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	LogFile() string
	LogRotation() Rotation
	ReconcileInterval() time.Duration
	TickInterval() time.Duration
	ProviderMode() string
	ProviderURL() string
	ProviderToken() string
	MockDelay() time.Duration
	AutoInsert() bool
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
}

// Rotation describes log file rotation limits.
type Rotation struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// fileConfig mirrors the YAML file layout. Zero values leave defaults alone.
type fileConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		Headless *bool  `yaml:"headless"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Storage struct {
		DataDir  string `yaml:"data_dir"`
		DBPath   string `yaml:"db_path"`
		MediaDir string `yaml:"media_dir"`
	} `yaml:"storage"`
	Log struct {
		File     string    `yaml:"file"`
		Rotation *Rotation `yaml:"rotation"`
	} `yaml:"log"`
	Playback struct {
		TickInterval string `yaml:"tick_interval"`
	} `yaml:"playback"`
	Generation struct {
		Mode              string `yaml:"mode"`
		URL               string `yaml:"url"`
		Token             string `yaml:"token"`
		MockDelay         string `yaml:"mock_delay"`
		ReconcileInterval string `yaml:"reconcile_interval"`
		AutoInsert        *bool  `yaml:"auto_insert"`
	} `yaml:"generation"`
	Tools struct {
		FFmpeg  string `yaml:"ffmpeg"`
		FFprobe string `yaml:"ffprobe"`
	} `yaml:"tools"`
}

// EnvConfig reads configuration from the layered sources.
type EnvConfig struct {
	port              int
	logLevel          string
	dataDir           string
	dbPath            string
	mediaDir          string
	logFile           string
	rotation          Rotation
	reconcileInterval time.Duration
	tickInterval      time.Duration
	providerMode      string
	providerURL       string
	providerToken     string
	mockDelay         time.Duration
	autoInsert        bool
	headless          bool
	ffmpegPath        string
	ffprobePath       string
}

// New creates a new EnvConfig with defaults, file values and environment
// variable overrides.
func New() (*EnvConfig, error) {
	// .env never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		reconcileInterval: DefaultReconcileInterval,
		tickInterval:      DefaultTickInterval,
		providerMode:      DefaultProviderMode,
		mockDelay:         DefaultMockDelay,
		rotation: Rotation{
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Server.Port != 0 {
		c.port = fc.Server.Port
	}
	if fc.Server.LogLevel != "" {
		c.logLevel = fc.Server.LogLevel
	}
	if fc.Server.Headless != nil {
		c.headless = *fc.Server.Headless
	}
	setString(&c.dataDir, fc.Storage.DataDir)
	setString(&c.dbPath, fc.Storage.DBPath)
	setString(&c.mediaDir, fc.Storage.MediaDir)
	setString(&c.logFile, fc.Log.File)
	if fc.Log.Rotation != nil {
		c.rotation = *fc.Log.Rotation
	}
	setString(&c.providerMode, fc.Generation.Mode)
	setString(&c.providerURL, fc.Generation.URL)
	setString(&c.providerToken, fc.Generation.Token)
	if fc.Generation.AutoInsert != nil {
		c.autoInsert = *fc.Generation.AutoInsert
	}
	setString(&c.ffmpegPath, fc.Tools.FFmpeg)
	setString(&c.ffprobePath, fc.Tools.FFprobe)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"playback.tick_interval", fc.Playback.TickInterval, &c.tickInterval},
		{"generation.mock_delay", fc.Generation.MockDelay, &c.mockDelay},
		{"generation.reconcile_interval", fc.Generation.ReconcileInterval, &c.reconcileInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.dbPath, os.Getenv(EnvDBPath))
	setString(&c.mediaDir, os.Getenv(EnvMediaDir))
	setString(&c.logFile, os.Getenv(EnvLogFile))
	setString(&c.providerMode, strings.ToLower(os.Getenv(EnvProviderMode)))
	setString(&c.providerURL, os.Getenv(EnvProviderURL))
	setString(&c.providerToken, os.Getenv(EnvProviderToken))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobePath))

	ints := map[string]*int{
		EnvLogMaxSizeMB:  &c.rotation.MaxSizeMB,
		EnvLogMaxBackups: &c.rotation.MaxBackups,
		EnvLogMaxAgeDays: &c.rotation.MaxAgeDays,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		EnvLogCompress: &c.rotation.Compress,
		EnvAutoInsert:  &c.autoInsert,
		EnvHeadless:    &c.headless,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		EnvReconcileInterval: &c.reconcileInterval,
		EnvTickInterval:      &c.tickInterval,
		EnvMockDelay:         &c.mockDelay,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.reconcileInterval <= 0 {
		return fmt.Errorf("invalid reconcile interval %s: must be positive", c.reconcileInterval)
	}
	if c.tickInterval <= 0 {
		return fmt.Errorf("invalid tick interval %s: must be positive", c.tickInterval)
	}
	if c.mockDelay < 0 {
		return fmt.Errorf("invalid mock delay %s", c.mockDelay)
	}
	switch c.providerMode {
	case ProviderMock:
	case ProviderHTTP:
		if c.providerURL == "" {
			return fmt.Errorf("%s is required when provider mode is %q", EnvProviderURL, ProviderHTTP)
		}
	default:
		return fmt.Errorf("invalid provider mode %q: want %q or %q", c.providerMode, ProviderMock, ProviderHTTP)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	if c.dbPath != "" {
		return c.dbPath
	}
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir returns the directory that locally stored assets are served from
func (c *EnvConfig) MediaDir() string {
	if c.mediaDir != "" {
		return c.mediaDir
	}
	return filepath.Join(c.dataDir, "media")
}

// LogFile returns the rotated log file path, or "" for stdout only
func (c *EnvConfig) LogFile() string {
	return c.logFile
}

func (c *EnvConfig) LogRotation() Rotation {
	return c.rotation
}

func (c *EnvConfig) ReconcileInterval() time.Duration {
	return c.reconcileInterval
}

func (c *EnvConfig) TickInterval() time.Duration {
	return c.tickInterval
}

func (c *EnvConfig) ProviderMode() string {
	return c.providerMode
}

func (c *EnvConfig) ProviderURL() string {
	return c.providerURL
}

func (c *EnvConfig) ProviderToken() string {
	return c.providerToken
}

func (c *EnvConfig) MockDelay() time.Duration {
	return c.mockDelay
}

// AutoInsert reports whether completed generations are appended to the
// project's open session.
func (c *EnvConfig) AutoInsert() bool {
	return c.autoInsert
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
