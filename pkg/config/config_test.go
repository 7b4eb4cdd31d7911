package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api/v1", cfg.Backend.BaseURL)
	assert.Equal(t, 30, cfg.Backend.TimeoutSec)
	assert.Equal(t, 3, cfg.Backend.Retry.MaxAttempts)
	assert.Equal(t, "keyring", cfg.Session.Store)
	assert.Equal(t, "sqlite", cfg.Content.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10, cfg.Analytics.TopQuestions)
	assert.Equal(t, 30, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "http://localhost:3000", cfg.Server.AllowedOrigins)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FAQBOT_BACKEND_BASEURL", "https://faq.example.com/api/v1")
	t.Setenv("FAQBOT_SESSION_STORE", "memory")
	t.Setenv("FAQBOT_CONTENT_DRIVER", "memory")

	cfg, err := LoadFrom(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://faq.example.com/api/v1", cfg.Backend.BaseURL)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, "memory", cfg.Content.Driver)
}

func TestLoadDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FAQBOT_QUERY_MAXQUESTIONLENGTH=64\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FAQBOT_QUERY_MAXQUESTIONLENGTH") })

	cfg, err := LoadFrom(viper.New(), envFile)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Query.MaxQuestionLength)
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	_, err := LoadFrom(viper.New(), filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"FAQBOT_BACKEND_BASEURL":    "not a url",
		"FAQBOT_SESSION_STORE":      "vault",
		"FAQBOT_CONTENT_DRIVER":     "postgres",
		"FAQBOT_BACKEND_TIMEOUTSEC": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadFrom(viper.New(), "")
			assert.Error(t, err)
		})
	}
}
