// Package redis provides a Redis-backed cache.Cache using a redigo pool.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"

	"github.com/silverstream/sentiment-checker/internal/cache"
)

// Config selects the Redis endpoint. URL takes precedence over Host/Port.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	SSL      bool

	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
	DialTimeout time.Duration
}

// Configured reports whether enough settings are present to connect.
func (c Config) Configured() bool {
	return c.URL != "" || c.Host != ""
}

// Client implements cache.Cache on a redigo connection pool.
type Client struct {
	pool *redis.Pool
}

var _ cache.Cache = (*Client)(nil)

// New builds a pool and verifies connectivity with PING.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, errors.New("redis: URL or host is required")
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 8
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 64
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: cfg.IdleTimeout,
		Wait:        true,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return dial(ctx, cfg)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	c := &Client{pool: pool}
	if err := c.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	log.Info().Bool("url", cfg.URL != "").Str("host", cfg.Host).Bool("ssl", cfg.SSL).Msg("Connected to Redis")
	return c, nil
}

func dial(ctx context.Context, cfg Config) (redis.Conn, error) {
	opts := []redis.DialOption{
		redis.DialConnectTimeout(cfg.DialTimeout),
		redis.DialReadTimeout(cfg.DialTimeout),
		redis.DialWriteTimeout(cfg.DialTimeout),
	}
	if cfg.URL != "" {
		return redis.DialURLContext(ctx, cfg.URL, opts...)
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}
	if cfg.SSL {
		opts = append(opts, redis.DialUseTLS(true))
	}
	return redis.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), opts...)
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.pool.Close()
}

func (c *Client) do(ctx context.Context, cmd string, args ...any) (any, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return redis.DoContext(conn, ctx, cmd, args...)
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := redis.Bytes(c.do(ctx, "GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *Client) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return redis.ByteSlices(c.do(ctx, "MGET", redis.Args{}.AddFlat(keys)...))
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := redis.Args{}.Add(key, value)
	if ttl > 0 {
		args = args.Add("PX", ttl.Milliseconds())
	}
	_, err := c.do(ctx, "SET", args...)
	return err
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.do(ctx, "DEL", redis.Args{}.AddFlat(keys)...)
	return err
}

func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := c.do(ctx, "SADD", redis.Args{}.Add(key).AddFlat(members)...)
	return err
}

func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	_, err := c.do(ctx, "SREM", redis.Args{}.Add(key).AddFlat(members)...)
	return err
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return redis.Strings(c.do(ctx, "SMEMBERS", key))
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := redis.String(c.do(ctx, "PING"))
	return err
}
