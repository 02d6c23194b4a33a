package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Data:   DataConfig{BasePath: "/some/path"},
		Import: ImportConfig{
			DefaultResolution:  "skip",
			RateLimitPerMinute: 12,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	err := validConfig().Validate()
	assert.NoError(t, err)
}

func TestValidate_AllEnvironments(t *testing.T) {
	tests := []struct {
		env   string
		valid bool
	}{
		{"development", true},
		{"staging", true},
		{"production", true},
		{"test", false},
		{"", false},
		{"DEVELOPMENT", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := validConfig()
			cfg.App.Environment = tt.env

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_LogLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"WARN", true}, // normalized lowercase
		{"trace", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logger.Level = tt.level

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_ImportResolution(t *testing.T) {
	tests := []struct {
		resolution string
		valid      bool
	}{
		{"skip", true},
		{"overwrite", true},
		{"keep_both", true},
		{"merge", true},
		{"keepBoth", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.resolution, func(t *testing.T) {
			cfg := validConfig()
			cfg.Import.DefaultResolution = tt.resolution

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Import.RateLimitPerMinute = 0
	assert.Error(t, cfg.Validate())

	cfg.Import.RateLimitPerMinute = -5
	assert.Error(t, cfg.Validate())
}

func TestExpandPath(t *testing.T) {
	t.Run("empty uses default", func(t *testing.T) {
		got, err := expandPath("", "/default/path")
		require.NoError(t, err)
		assert.Equal(t, "/default/path", got)
	})

	t.Run("tilde expands to home", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)

		got, err := expandPath("~/carbon", "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "carbon"), got)
	})

	t.Run("absolute stays absolute", func(t *testing.T) {
		got, err := expandPath("/var/lib/carbonstep", "")
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/carbonstep", got)
	})
}

func TestGetConfigValue(t *testing.T) {
	t.Setenv("CARBONSTEP_TEST_KEY", "from-env")

	assert.Equal(t, "from-flag", getConfigValue("from-flag", "CARBONSTEP_TEST_KEY", "fallback"))
	assert.Equal(t, "from-env", getConfigValue("", "CARBONSTEP_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getConfigValue("", "CARBONSTEP_TEST_MISSING", "fallback"))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# comment\nCARBONSTEP_ENVFILE_KEY=hello\nQUOTED=\"world\"\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	t.Cleanup(func() {
		os.Unsetenv("CARBONSTEP_ENVFILE_KEY")
		os.Unsetenv("QUOTED")
	})

	require.NoError(t, loadEnvFile(envPath))
	assert.Equal(t, "hello", os.Getenv("CARBONSTEP_ENVFILE_KEY"))
	assert.Equal(t, "world", os.Getenv("QUOTED"))
}
