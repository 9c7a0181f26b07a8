package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "hlsrec.db", cfg.Database.DSN)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)

	// Storage defaults
	assert.Equal(t, "./recordings", cfg.Storage.BaseDir)
	assert.Equal(t, "temp", cfg.Storage.TempDir)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Recorder defaults, matching the C8 control-loop contract.
	assert.Equal(t, 5, cfg.Recorder.BufferingThreshold)
	assert.Equal(t, 5, cfg.Recorder.MaxFailedPlaylists)
	assert.Equal(t, 10, cfg.Recorder.MaxEmptyPlaylists)
	assert.Equal(t, 5, cfg.Recorder.MaxFailedSegments)

	// HTTP client defaults
	assert.Equal(t, 3, cfg.HTTPClient.Retries)

	// Event bus defaults
	assert.EqualValues(t, 100*1024*1024, cfg.EventBus.MaxFrameBytes)
}

func TestLoad_FromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 60s

database:
  dsn: "/var/lib/hlsrec/hlsrec.db"
  max_open_conns: 20

storage:
  base_dir: "/var/lib/hlsrec/recordings"

logging:
  level: "debug"
  format: "text"

recorder:
  buffering_threshold: 8
  max_failed_playlists: 3
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check file values were loaded
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/hlsrec/hlsrec.db", cfg.Database.DSN)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, "/var/lib/hlsrec/recordings", cfg.Storage.BaseDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 8, cfg.Recorder.BufferingThreshold)
	assert.Equal(t, 3, cfg.Recorder.MaxFailedPlaylists)
}

func TestLoad_EnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("HLSREC_SERVER_PORT", "3000")
	t.Setenv("HLSREC_DATABASE_DSN", "override.db")
	t.Setenv("HLSREC_LOGGING_LEVEL", "warn")
	t.Setenv("HLSREC_RECORDER_BUFFERING_THRESHOLD", "12")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check env overrides
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "override.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 12, cfg.Recorder.BufferingThreshold)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
database:
  dsn: "test.db"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	// Set env var to override file
	t.Setenv("HLSREC_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, 9000, cfg.Server.Port)
	// File value should be preserved
	assert.Equal(t, "test.db", cfg.Database.DSN)
}

func validTestConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "test.db"},
		Storage:  StorageConfig{BaseDir: "./recordings"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Recorder: RecorderConfig{
			BufferingThreshold: 5,
			MaxFailedPlaylists: 5,
			MaxEmptyPlaylists:  10,
			MaxFailedSegments:  5,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	err := validTestConfig().Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_InvalidDriver(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Driver = "postgres"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestValidate_EmptyDSN(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.DSN = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_InvalidRecorderThresholds(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{"zero buffering", func(c *Config) { c.Recorder.BufferingThreshold = 0 }, "buffering_threshold"},
		{"zero failed playlists", func(c *Config) { c.Recorder.MaxFailedPlaylists = 0 }, "max_failed_playlists"},
		{"zero empty playlists", func(c *Config) { c.Recorder.MaxEmptyPlaylists = 0 }, "max_empty_playlists"},
		{"zero failed segments", func(c *Config) { c.Recorder.MaxFailedSegments = 0 }, "max_failed_segments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestStorageConfig_TempPath(t *testing.T) {
	cfg := &StorageConfig{
		BaseDir: "/var/lib/hlsrec/recordings",
		TempDir: "temp",
	}

	assert.Equal(t, "/var/lib/hlsrec/recordings/temp", cfg.TempPath())
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	// Create an invalid YAML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Specifying a non-existent file should fail
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
