// Package config provides configuration management for sentiment-checker.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the default HTTP port for the worker service.
	DefaultPort = 8080

	// Vector store backends.
	BackendPGVector = "pgvector"
	BackendSQLite   = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	Port         int    `json:"port"`
	LogLevel     string `json:"log_level"`
	MaxBodyBytes int64  `json:"max_body_bytes"`

	// Vector store settings
	VectorBackend string `json:"vector_backend"` // "pgvector" or "sqlite"
	DatabaseURL   string `json:"-"`
	DBMaxConns    int    `json:"db_max_conns"`
	SQLitePath    string `json:"sqlite_path"`

	// Embedding settings
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	OpenAIAPIKey        string `json:"-"`
	OpenAIBaseURL       string `json:"openai_base_url"`

	// Scoring settings
	EmotionsNamespace string  `json:"emotions_namespace"`
	TopK              int     `json:"top_k"`
	PruneDuplicates   bool    `json:"prune_duplicates"`
	DecayLambda       float64 `json:"decay_lambda"`
	ScoreScale        float64 `json:"score_scale"`
	MaxTicketVectors  int     `json:"max_ticket_vectors"`

	// Pipeline settings
	Concurrency  int           `json:"concurrency"`
	CallTimeout  time.Duration `json:"call_timeout"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	WarmInterval time.Duration `json:"warm_interval"` // 0 disables the warmer

	// Redis settings: either URL or host/port/password.
	RedisURL      string `json:"-"`
	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"-"`
	RedisSSL      bool   `json:"redis_ssl"`

	// Auth settings
	AuthEnabled   bool   `json:"auth_enabled"`
	AuthPublicKey string `json:"-"` // PEM encoded RSA public key of the helpdesk app
	AuthAudience  string `json:"auth_audience"`

	// Rate limiting (per tenant)
	RateLimitRPS   float64 `json:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:                DefaultPort,
		LogLevel:            "info",
		MaxBodyBytes:        10 * 1024 * 1024,
		VectorBackend:       BackendSQLite,
		DBMaxConns:          10,
		SQLitePath:          "sentiment.db",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		EmotionsNamespace:   "emotions",
		TopK:                100,
		PruneDuplicates:     false,
		DecayLambda:         1.0,
		ScoreScale:          10,
		MaxTicketVectors:    1000,
		Concurrency:         4,
		CallTimeout:         15 * time.Second,
		CacheTTL:            24 * time.Hour,
		WarmInterval:        0,
		RedisPort:           6379,
		AuthEnabled:         true,
		RateLimitRPS:        20,
		RateLimitBurst:      40,
	}
}

// Load builds the configuration: defaults, then the optional YAML settings
// file at path, then non-empty environment variables. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	settings := make(map[string]any)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &settings); err != nil {
				return nil, fmt.Errorf("parse settings %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	for _, key := range settingKeys {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			settings[key] = v
		}
	}

	cfg := Default()
	if err := cfg.apply(settings); err != nil {
		return nil, err
	}
	return cfg, nil
}

// settingKeys lists every recognized key. File keys and environment
// variable names are the same.
var settingKeys = []string{
	"SENTIMENT_PORT", "SENTIMENT_LOG_LEVEL", "SENTIMENT_MAX_BODY_BYTES",
	"SENTIMENT_VECTOR_BACKEND", "DATABASE_URL", "SENTIMENT_DB_MAX_CONNS", "SENTIMENT_SQLITE_PATH",
	"SENTIMENT_EMBEDDING_MODEL", "SENTIMENT_EMBEDDING_DIMENSIONS", "OPENAI_API_KEY", "OPENAI_BASE_URL",
	"SENTIMENT_EMOTIONS_NAMESPACE", "SENTIMENT_TOP_K", "SENTIMENT_PRUNE_DUPLICATES",
	"SENTIMENT_DECAY_LAMBDA", "SENTIMENT_SCORE_SCALE", "SENTIMENT_MAX_TICKET_VECTORS",
	"SENTIMENT_CONCURRENCY", "SENTIMENT_CALL_TIMEOUT", "SENTIMENT_CACHE_TTL", "SENTIMENT_WARM_INTERVAL",
	"REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_SSL",
	"SENTIMENT_AUTH_ENABLED", "ZENDESK_APP_PUBLIC_KEY", "ZENDESK_APP_AUD",
	"SENTIMENT_RATE_LIMIT_RPS", "SENTIMENT_RATE_LIMIT_BURST",
}

func (c *Config) apply(s map[string]any) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := s[key]; ok && v != nil {
			*dst = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	num := func(key string, dst *int) {
		if v, ok := s[key]; ok && v != nil {
			n, err := toInt(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := s[key]; ok && v != nil {
			f, err := toFloat(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := s[key]; ok && v != nil {
			b, err := toBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := s[key]; ok && v != nil {
			d, err := toDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("SENTIMENT_PORT", &c.Port)
	str("SENTIMENT_LOG_LEVEL", &c.LogLevel)
	maxBody := int(c.MaxBodyBytes)
	num("SENTIMENT_MAX_BODY_BYTES", &maxBody)
	c.MaxBodyBytes = int64(maxBody)

	str("SENTIMENT_VECTOR_BACKEND", &c.VectorBackend)
	c.VectorBackend = strings.ToLower(c.VectorBackend)
	str("DATABASE_URL", &c.DatabaseURL)
	num("SENTIMENT_DB_MAX_CONNS", &c.DBMaxConns)
	str("SENTIMENT_SQLITE_PATH", &c.SQLitePath)

	str("SENTIMENT_EMBEDDING_MODEL", &c.EmbeddingModel)
	num("SENTIMENT_EMBEDDING_DIMENSIONS", &c.EmbeddingDimensions)
	str("OPENAI_API_KEY", &c.OpenAIAPIKey)
	str("OPENAI_BASE_URL", &c.OpenAIBaseURL)

	str("SENTIMENT_EMOTIONS_NAMESPACE", &c.EmotionsNamespace)
	num("SENTIMENT_TOP_K", &c.TopK)
	boolean("SENTIMENT_PRUNE_DUPLICATES", &c.PruneDuplicates)
	float("SENTIMENT_DECAY_LAMBDA", &c.DecayLambda)
	float("SENTIMENT_SCORE_SCALE", &c.ScoreScale)
	num("SENTIMENT_MAX_TICKET_VECTORS", &c.MaxTicketVectors)

	num("SENTIMENT_CONCURRENCY", &c.Concurrency)
	duration("SENTIMENT_CALL_TIMEOUT", &c.CallTimeout)
	duration("SENTIMENT_CACHE_TTL", &c.CacheTTL)
	duration("SENTIMENT_WARM_INTERVAL", &c.WarmInterval)

	str("REDIS_URL", &c.RedisURL)
	str("REDIS_HOST", &c.RedisHost)
	num("REDIS_PORT", &c.RedisPort)
	str("REDIS_PASSWORD", &c.RedisPassword)
	boolean("REDIS_SSL", &c.RedisSSL)

	boolean("SENTIMENT_AUTH_ENABLED", &c.AuthEnabled)
	str("ZENDESK_APP_PUBLIC_KEY", &c.AuthPublicKey)
	str("ZENDESK_APP_AUD", &c.AuthAudience)

	float("SENTIMENT_RATE_LIMIT_RPS", &c.RateLimitRPS)
	num("SENTIMENT_RATE_LIMIT_BURST", &c.RateLimitBurst)

	return errors.Join(errs...)
}

// Validate rejects out-of-range or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.VectorBackend {
	case BackendPGVector:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the pgvector backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.VectorBackend))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimensions must be positive"))
	}
	if c.EmotionsNamespace == "" {
		errs = append(errs, fmt.Errorf("emotions namespace is required"))
	}
	if c.TopK <= 0 || c.TopK > 10000 {
		errs = append(errs, fmt.Errorf("top_k %d out of range (1..10000)", c.TopK))
	}
	if c.DecayLambda < 0 {
		errs = append(errs, fmt.Errorf("decay_lambda must not be negative"))
	}
	if c.ScoreScale <= 0 {
		errs = append(errs, fmt.Errorf("score_scale must be positive"))
	}
	if c.MaxTicketVectors <= 0 {
		errs = append(errs, fmt.Errorf("max_ticket_vectors must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be positive"))
	}
	if c.WarmInterval < 0 {
		errs = append(errs, fmt.Errorf("warm_interval must not be negative"))
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		errs = append(errs, fmt.Errorf("redis port %d out of range", c.RedisPort))
	}
	if c.AuthEnabled && c.AuthPublicKey == "" {
		errs = append(errs, fmt.Errorf("ZENDESK_APP_PUBLIC_KEY is required when auth is enabled"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, fmt.Errorf("rate limit settings must not be negative"))
	}
	return errors.Join(errs...)
}

// RedisConfigured reports whether a Redis cache should be connected.
func (c *Config) RedisConfigured() bool {
	return c.RedisURL != "" || c.RedisHost != ""
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

// toDuration accepts Go duration strings ("30s") or plain seconds.
func toDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		t = strings.TrimSpace(t)
		if secs, err := strconv.ParseFloat(t, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(t)
	}
	return 0, fmt.Errorf("not a duration: %v", v)
}
