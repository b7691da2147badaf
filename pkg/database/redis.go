package database

import (
	"context"

	"github.com/Abraxas-365/convo/pkg/config"
	"github.com/Abraxas-365/craftable/errx"
	"github.com/go-redis/redis/v8"
)

// NewRedisClient conecta a Redis, usado para estado y locks de conversación
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := PingRedis(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func PingRedis(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return errx.Wrap(err, "failed to connect to redis", errx.TypeInternal).
			WithDetail("addr", client.Options().Addr)
	}
	return nil
}

func CloseRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
