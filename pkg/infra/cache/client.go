package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Client is the shared counter store behind the distributed rate limit tier.
//
//go:generate mockery --name=Client --dir=. --output=./mocks --filename=client_mock.go --case=underscore --with-expecter
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	RedisClient() *redis.Client
	Close() error
}

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TLS      bool
}

type client struct {
	redisClient *redis.Client
}

func NewClient(config Config, logger *logrus.Logger) (Client, error) {
	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	}
	if config.TLS {
		options.TLSConfig = &tls.Config{
			InsecureSkipVerify: true, // #nosec G402
		}
	}
	redisClient := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithFields(logrus.Fields{
			"host":  config.Host,
			"port":  config.Port,
			"error": err.Error(),
		}).Error("failed to connect to redis")
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"host": config.Host,
		"port": config.Port,
	}).Info("redis connected successfully")

	return &client{redisClient: redisClient}, nil
}

func (c *client) Get(ctx context.Context, key string) (string, error) {
	return c.redisClient.Get(ctx, key).Result()
}

func (c *client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.redisClient.Set(ctx, key, value, expiration).Err()
}

func (c *client) Delete(ctx context.Context, key string) error {
	return c.redisClient.Del(ctx, key).Err()
}

func (c *client) RedisClient() *redis.Client {
	return c.redisClient
}

func (c *client) Close() error {
	return c.redisClient.Close()
}
