// Package redis builds the shared go-redis client.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// Options are the connection settings read from the environment.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings Redis. The client is closed again when the
// ping fails.
func NewClient(ctx context.Context, o Options) (*goredis.Client, error) {
	if o.Addr == "" {
		return nil, errors.New("redis address must be provided")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", o.Addr, err)
	}
	return client, nil
}
