package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	// Import godotenv for loading .env files
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Paths     PathsConfig     `envconfig:"PATHS"`
	Transcode TranscodeConfig `envconfig:"TRANSCODE"`
	Recording RecordingConfig `envconfig:"RECORDING"`
	Database  DatabaseConfig  `envconfig:"DB"`
	Security  SecurityConfig  `envconfig:"SECURITY"`
	LogLevel  string          `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

type ServerConfig struct {
	Port         int           `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	Host         string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"10s"`
}

// PathsConfig locates the camera configuration file and the archive
// directory. Relative paths are resolved against BaseDir.
type PathsConfig struct {
	BaseDir    string `envconfig:"BASE_DIR"`
	ConfigPath string `envconfig:"CONFIG_PATH" default:"config.json" validate:"required"`
	RecordsDir string `envconfig:"RECORDS_DIR" default:"records" validate:"required"`
}

type TranscodeConfig struct {
	FFmpegPath          string        `envconfig:"FFMPEG_PATH" default:"ffmpeg" validate:"required"`
	StopTimeout         time.Duration `envconfig:"TRANSCODE_STOP_TIMEOUT" default:"5s" validate:"gt=0"`
	ManifestReadyWithin time.Duration `envconfig:"MANIFEST_READY_TIMEOUT" default:"30s"`
}

type RecordingConfig struct {
	Extension    string        `envconfig:"RECORD_EXT" default:"mp4" validate:"required,alphanum"`
	StopTimeout  time.Duration `envconfig:"RECORDING_STOP_TIMEOUT" default:"10s" validate:"gt=0"`
	FlushSlack   time.Duration `envconfig:"RECORDING_FLUSH_SLACK" default:"30s" validate:"gte=0"`
	FixedSeconds int           `envconfig:"FIXED_RECORDING_SECONDS" default:"600" validate:"min=1"`
}

// DatabaseConfig is optional. An empty URI disables recording history.
type DatabaseConfig struct {
	URI  string `envconfig:"DB_URI"`
	Name string `envconfig:"DB_NAME" default:"camstream" validate:"required"`
}

type SecurityConfig struct {
	CORSOrigins []string      `envconfig:"CORS_ORIGINS" default:"*"`
	RateLimit   int           `envconfig:"RATE_LIMIT" default:"100" validate:"min=1"`
	RateWindow  time.Duration `envconfig:"RATE_WINDOW" default:"1m" validate:"gt=0"`
}

// Load reads configuration from environment variables and the .env file.
func Load() (*Config, error) {
	config := &Config{}
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	return config, nil
}

func (c *Config) resolvePaths() error {
	if c.Paths.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		c.Paths.BaseDir = wd
	}
	base, err := filepath.Abs(c.Paths.BaseDir)
	if err != nil {
		return err
	}
	c.Paths.BaseDir = base
	c.Paths.ConfigPath = resolve(base, c.Paths.ConfigPath)
	c.Paths.RecordsDir = resolve(base, c.Paths.RecordsDir)
	return nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
