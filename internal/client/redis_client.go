package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

// ErrRedisKeyNotFound wraps redis.Nil for callers that should not import
// go-redis.
var ErrRedisKeyNotFound = errors.New("redis key not found")

// compareAndDeleteScript removes KEYS[1] only when it still holds ARGV[1].
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisClient struct {
	Client *redis.Client
}

// NewRedisClient dials Redis from config. rediss:// URLs get mutual TLS with
// the certificate paths from REDIS_TLS_* variables.
func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	redisConfig := cfg.Redis

	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.Password == "" && redisConfig.Password != "" {
		opts.Password = redisConfig.Password
	}
	if redisConfig.DB != 0 {
		opts.DB = redisConfig.DB
	}
	if redisConfig.PoolSize > 0 {
		opts.PoolSize = redisConfig.PoolSize
		opts.MinIdleConns = max(redisConfig.PoolSize/2, 2)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	if strings.HasPrefix(redisConfig.URL, "rediss://") {
		tlsConfig, err := loadRedisTLS()
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsConfig
	}

	client, err := NewRedisClientFromOptions(opts)
	if err != nil {
		return nil, err
	}

	util.Info("Redis client initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int("pool_size", opts.PoolSize))

	return client, nil
}

// NewRedisClientFromOptions connects with prepared options and pings once.
func NewRedisClientFromOptions(opts *redis.Options) (*RedisClient, error) {
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisClient{Client: client}, nil
}

func loadRedisTLS() (*tls.Config, error) {
	caFile := util.GetEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt")
	certFile := util.GetEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt")
	keyFile := util.GetEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key")

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append Redis CA cert")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load Redis TLS certificate/key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (r *RedisClient) Close() error {
	if r.Client == nil {
		return nil
	}
	if err := r.Client.Close(); err != nil {
		util.Error("failed to close Redis client", zap.Error(err))
		return err
	}
	util.Info("Redis client closed")
	return nil
}

// HealthCheck pings and round-trips a short-lived key.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	testKey := "healthcheck"
	testValue := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := r.Client.Set(ctx, testKey, testValue, 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set operation failed: %w", err)
	}

	val, err := r.Client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis get operation failed: %w", err)
	}
	if val != testValue {
		return fmt.Errorf("redis data integrity failed")
	}

	_ = r.Client.Del(ctx, testKey)
	return nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.Client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrRedisKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

// IncrWithExpire runs INCR and EXPIRE in one MULTI so the counter never
// outlives a crash without a TTL.
func (r *RedisClient) IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := r.Client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incrCmd.Val(), nil
}

// CompareAndDelete deletes key iff its value equals expected.
func (r *RedisClient) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, r.Client, []string{key}, expected).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

