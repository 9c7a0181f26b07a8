// Package config provides configuration management for hlsrec using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultBufferingThreshold  = 5
	defaultMaxFailedPlaylists  = 5
	defaultMaxEmptyPlaylists   = 10
	defaultMaxFailedSegments   = 5
	defaultPollSleepFloor      = 1 * time.Second
	defaultPollSleepCeiling    = 3 * time.Second
	defaultSegmentMaxRetries   = 10

	defaultPlaylistTimeout = 10 * time.Second
	defaultKeyTimeout      = 10 * time.Second
	defaultSegmentTimeout  = 30 * time.Second
	defaultProbeTimeout    = 15 * time.Second
	defaultGenericTimeout  = 15 * time.Second
	defaultHTTPRetries     = 3

	defaultEventBusMaxFrameBytes = 100 * 1024 * 1024 // 100MB
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	DRM        DRMConfig        `mapstructure:"drm"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`
}

// ServerConfig holds control-plane HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds recording-history ledger database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite only, kept for forward compatibility with the ledger schema
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds recording output storage configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	BumperPath string `mapstructure:"bumper_path"`
	TempDir    string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RecorderConfig holds the C8 control-loop thresholds and buffering depth.
type RecorderConfig struct {
	BufferingThreshold int           `mapstructure:"buffering_threshold"`
	MaxFailedPlaylists int           `mapstructure:"max_failed_playlists"`
	MaxEmptyPlaylists  int           `mapstructure:"max_empty_playlists"`
	MaxFailedSegments  int           `mapstructure:"max_failed_segments"`
	SegmentMaxRetries  int           `mapstructure:"segment_max_retries"`
	PollSleepFloor     time.Duration `mapstructure:"poll_sleep_floor"`
	PollSleepCeiling   time.Duration `mapstructure:"poll_sleep_ceiling"`
}

// HTTPClientConfig holds named timeout/retry profiles for the distinct
// classes of outbound request a recording makes.
type HTTPClientConfig struct {
	PlaylistTimeout time.Duration `mapstructure:"playlist_timeout"`
	KeyTimeout      time.Duration `mapstructure:"key_timeout"`
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	GenericTimeout  time.Duration `mapstructure:"generic_timeout"`
	Retries         int           `mapstructure:"retries"`
}

// FFmpegConfig holds FFmpeg/ffprobe binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // path to ffmpeg binary (empty = auto-detect via internal/util.FindBinary)
	ProbePath  string `mapstructure:"probe_path"`  // path to ffprobe binary (empty = auto-detect)
}

// DRMConfig holds DRM-detection configuration.
type DRMConfig struct {
	// PublicServices extends the built-in default list of hostnames known
	// to serve AES-128 encrypted-but-not-DRM-protected content.
	PublicServices []string `mapstructure:"public_services"`
}

// EventBusConfig holds C9 event bus configuration.
type EventBusConfig struct {
	// MaxFrameBytes holds the configured frame payload cap. Supports
	// human-readable values like "100MB" or raw byte counts. WriteFramed and
	// ReadFramed do not read it; they use the fixed eventbus.MaxFrameSize.
	MaxFrameBytes ByteSize `mapstructure:"max_frame_bytes"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HLSREC_ and use underscores for nesting.
// Example: HLSREC_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hlsrec")
		v.AddConfigPath("$HOME/.hlsrec")
	}

	// Environment variable settings
	v.SetEnvPrefix("HLSREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "hlsrec.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./recordings")
	v.SetDefault("storage.bumper_path", "")
	v.SetDefault("storage.temp_dir", "temp")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Recorder defaults, matching the C8 control-loop contract values.
	v.SetDefault("recorder.buffering_threshold", defaultBufferingThreshold)
	v.SetDefault("recorder.max_failed_playlists", defaultMaxFailedPlaylists)
	v.SetDefault("recorder.max_empty_playlists", defaultMaxEmptyPlaylists)
	v.SetDefault("recorder.max_failed_segments", defaultMaxFailedSegments)
	v.SetDefault("recorder.segment_max_retries", defaultSegmentMaxRetries)
	v.SetDefault("recorder.poll_sleep_floor", defaultPollSleepFloor)
	v.SetDefault("recorder.poll_sleep_ceiling", defaultPollSleepCeiling)

	// HTTP client defaults
	v.SetDefault("http_client.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("http_client.key_timeout", defaultKeyTimeout)
	v.SetDefault("http_client.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("http_client.probe_timeout", defaultProbeTimeout)
	v.SetDefault("http_client.generic_timeout", defaultGenericTimeout)
	v.SetDefault("http_client.retries", defaultHTTPRetries)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// DRM defaults
	v.SetDefault("drm.public_services", []string{})

	// Event bus defaults
	v.SetDefault("event_bus.max_frame_bytes", defaultEventBusMaxFrameBytes)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be sqlite")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Recorder validation
	if c.Recorder.BufferingThreshold < 1 {
		return fmt.Errorf("recorder.buffering_threshold must be at least 1")
	}
	if c.Recorder.MaxFailedPlaylists < 1 {
		return fmt.Errorf("recorder.max_failed_playlists must be at least 1")
	}
	if c.Recorder.MaxEmptyPlaylists < 1 {
		return fmt.Errorf("recorder.max_empty_playlists must be at least 1")
	}
	if c.Recorder.MaxFailedSegments < 1 {
		return fmt.Errorf("recorder.max_failed_segments must be at least 1")
	}

	return nil
}

// Address returns the control-plane server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
