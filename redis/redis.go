package redis

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/quantum-dapp-core/log"
	"github.com/quantumauth-io/quantum-dapp-core/retry"
)

type Config struct {
	Host         string        // "localhost"
	Port         string        // "6379"
	Username     string        // optional
	Password     string        // optional
	DB           int           // default 0
	TLS          bool          // enable TLS
	DialTimeout  time.Duration // default 5s
	ReadTimeout  time.Duration // default 3s
	WriteTimeout time.Duration // default 3s
	// PingRetries bounds the startup ping; zero pings once.
	PingRetries int32
}

// NewClient creates and pings a Redis client.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	opts := &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxNumRetries = cfg.PingRetries
	retryCfg.MaxDelayBeforeRetrying = time.Second
	_, err := retry.Do(ctx, retryCfg, func(ctx context.Context) (string, error) {
		return rdb.Ping(ctx).Result()
	}, nil, "Redis Ping")
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	log.Info("redis connected", "addr", opts.Addr, "db", cfg.DB)
	return rdb, nil
}

const DefaultSessionKey = "dapp-core:wallet:connector"

// SessionCache keeps the "remember this wallet" marker in redis so that it
// survives restarts. A zero TTL keeps the marker until Forget.
type SessionCache struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

func NewSessionCache(rdb redis.Cmdable, key string, ttl time.Duration) *SessionCache {
	if key == "" {
		key = DefaultSessionKey
	}
	return &SessionCache{rdb: rdb, key: key, ttl: ttl}
}

func (c *SessionCache) Remember(ctx context.Context, connectorID string) error {
	if connectorID == "" {
		return errors.New("redis: empty connector id")
	}
	return errors.Wrap(c.rdb.Set(ctx, c.key, connectorID, c.ttl).Err(), "remember wallet connector")
}

// Cached returns the remembered connector id; ok is false when there is none.
func (c *SessionCache) Cached(ctx context.Context) (string, bool, error) {
	id, err := c.rdb.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "read wallet connector marker")
	}
	return id, true, nil
}

func (c *SessionCache) Forget(ctx context.Context) error {
	return errors.Wrap(c.rdb.Del(ctx, c.key).Err(), "forget wallet connector")
}
