package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every recognized variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range settingKeys {
		t.Setenv(key, "")
	}
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.VectorBackend)
	assert.Equal(t, "emotions", cfg.EmotionsNamespace)
	assert.Equal(t, 100, cfg.TopK)
	assert.InDelta(t, 1.0, cfg.DecayLambda, 1e-12)
	assert.InDelta(t, 10.0, cfg.ScoreScale, 1e-12)
	assert.Equal(t, 1000, cfg.MaxTicketVectors)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.True(t, cfg.AuthEnabled)
	assert.False(t, cfg.RedisConfigured())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeSettings(t, `
SENTIMENT_PORT: 9090
SENTIMENT_VECTOR_BACKEND: PGVECTOR
DATABASE_URL: postgres://u:p@localhost/sentiment
SENTIMENT_TOP_K: 50
SENTIMENT_PRUNE_DUPLICATES: true
SENTIMENT_DECAY_LAMBDA: 0.5
SENTIMENT_CALL_TIMEOUT: 5s
SENTIMENT_CACHE_TTL: 3600
REDIS_HOST: cache.internal
REDIS_SSL: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendPGVector, cfg.VectorBackend)
	assert.Equal(t, "postgres://u:p@localhost/sentiment", cfg.DatabaseURL)
	assert.Equal(t, 50, cfg.TopK)
	assert.True(t, cfg.PruneDuplicates)
	assert.InDelta(t, 0.5, cfg.DecayLambda, 1e-12)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "cache.internal", cfg.RedisHost)
	assert.True(t, cfg.RedisSSL)
	assert.True(t, cfg.RedisConfigured())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeSettings(t, "SENTIMENT_PORT: 9090\nSENTIMENT_TOP_K: 50\n")
	t.Setenv("SENTIMENT_PORT", "7000")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SENTIMENT_AUTH_ENABLED", "false")
	t.Setenv("SENTIMENT_WARM_INTERVAL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 50, cfg.TopK)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, 15*time.Minute, cfg.WarmInterval)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SENTIMENT_TOP_K", "many")
	t.Setenv("REDIS_SSL", "perhaps")

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorContains(t, err, "SENTIMENT_TOP_K")
	assert.ErrorContains(t, err, "REDIS_SSL")
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	clearEnv(t)
	path := writeSettings(t, "SENTIMENT_PORT: [unterminated\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.AuthPublicKey = "-----BEGIN PUBLIC KEY-----"
		return cfg
	}

	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Port = 0 },
		"backend":        func(c *Config) { c.VectorBackend = "chroma" },
		"pgvector dsn":   func(c *Config) { c.VectorBackend = BackendPGVector },
		"top_k":          func(c *Config) { c.TopK = 0 },
		"score_scale":    func(c *Config) { c.ScoreScale = 0 },
		"decay":          func(c *Config) { c.DecayLambda = -1 },
		"concurrency":    func(c *Config) { c.Concurrency = 0 },
		"auth key":       func(c *Config) { c.AuthPublicKey = "" },
		"namespace":      func(c *Config) { c.EmotionsNamespace = "" },
		"warm interval":  func(c *Config) { c.WarmInterval = -time.Second },
		"rate limit":     func(c *Config) { c.RateLimitRPS = -1 },
		"max vectors":    func(c *Config) { c.MaxTicketVectors = 0 },
		"embedding dims": func(c *Config) { c.EmbeddingDimensions = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	noAuth := valid()
	noAuth.AuthEnabled = false
	noAuth.AuthPublicKey = ""
	assert.NoError(t, noAuth.Validate())
}
