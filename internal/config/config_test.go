package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	t.Setenv("BASE_DIR", base)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, filepath.Join(base, "config.json"), cfg.Paths.ConfigPath)
	assert.Equal(t, filepath.Join(base, "records"), cfg.Paths.RecordsDir)
	assert.Equal(t, "ffmpeg", cfg.Transcode.FFmpegPath)
	assert.Equal(t, 5*time.Second, cfg.Transcode.StopTimeout)
	assert.Equal(t, 10*time.Second, cfg.Recording.StopTimeout)
	assert.Equal(t, 30*time.Second, cfg.Recording.FlushSlack)
	assert.Equal(t, 600, cfg.Recording.FixedSeconds)
	assert.Equal(t, "mp4", cfg.Recording.Extension)
	assert.Equal(t, []string{"*"}, cfg.Security.CORSOrigins)
	assert.Empty(t, cfg.Database.URI)
	assert.Equal(t, "camstream", cfg.Database.Name)
}

func TestLoadOverrides(t *testing.T) {
	base := t.TempDir()
	t.Setenv("BASE_DIR", base)
	t.Setenv("PORT", "9090")
	t.Setenv("RECORDS_DIR", "/srv/records")
	t.Setenv("RECORDING_STOP_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGINS", "http://a.example,http://b.example")
	t.Setenv("DB_URI", "mongodb://localhost:27017")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/records", cfg.Paths.RecordsDir)
	assert.Equal(t, 3*time.Second, cfg.Recording.StopTimeout)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Security.CORSOrigins)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Database.URI)
}

func TestValidate(t *testing.T) {
	t.Setenv("BASE_DIR", t.TempDir())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "zero stop timeout", mutate: func(c *Config) { c.Transcode.StopTimeout = 0 }, wantErr: true},
		{name: "bad extension", mutate: func(c *Config) { c.Recording.Extension = "../mp4" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
