package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"contentflow/internal/ordering"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/redis"
	"contentflow/internal/upload"
)

// openRepository selects the item repository from ORDER_STORE.
func openRepository(ctx context.Context) (ordering.Repository, func(), error) {
	switch backend := config.GetEnv("ORDER_STORE", "memory"); backend {
	case "memory":
		return ordering.NewInMemoryRepository(), func() {}, nil
	case "sqlite":
		db, err := ordering.OpenSQLite(config.GetEnv("SQLITE_DSN", "file:contentflow.db?_txlock=immediate"))
		if err != nil {
			return nil, nil, err
		}
		if err := ordering.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return ordering.NewSQLRepository(db), func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ORDER_STORE %q", backend)
	}
}

// openSessionStore selects the session store from SESSION_STORE. The
// in-memory store is swept in the background until ctx is done.
func openSessionStore(ctx context.Context, log *slog.Logger) (upload.SessionStore, func(), error) {
	retention := upload.Retention{
		Finished: config.GetEnvDuration("SESSION_RETENTION", upload.DefaultRetention.Finished),
		MaxAge:   config.GetEnvDuration("SESSION_MAX_AGE", upload.DefaultRetention.MaxAge),
	}

	switch backend := config.GetEnv("SESSION_STORE", "memory"); backend {
	case "memory":
		store := upload.NewInMemoryStore(retention)
		go store.Run(ctx, config.GetEnvDuration("SWEEP_INTERVAL", time.Minute))
		return store, func() {}, nil
	case "redis":
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     config.GetEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetEnvInt("REDIS_DB", 0),
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("session store connected", "backend", "redis")
		return upload.NewRedisStore(client, retention), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_STORE %q", backend)
	}
}

// openStorage selects where finished uploads go from STORAGE_BACKEND.
func openStorage(ctx context.Context) (upload.Storage, error) {
	switch backend := config.GetEnv("STORAGE_BACKEND", "file"); backend {
	case "file":
		return upload.NewFileStorage(config.GetEnv("STORAGE_DIR", "data/objects"))
	case "s3":
		return upload.NewS3StorageFromEnv(ctx, config.GetEnv("S3_BUCKET", ""))
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", backend)
	}
}

// collectionSink appends finished uploads to their ordered collection.
func collectionSink(coll *ordering.Collection) upload.ItemSink {
	return upload.ItemSinkFunc(func(ctx context.Context, p upload.Produced) (string, error) {
		resource, err := ordering.ParseResource(p.Resource)
		if err != nil {
			return "", err
		}
		item, err := coll.Append(ctx, ordering.Draft{
			Resource: resource,
			ScopeID:  ordering.ScopeID(p.ScopeID),
			Title:    p.Title,
			Location: p.Location,
			Metadata: p.Metadata,
		})
		if err != nil {
			return "", err
		}
		return string(item.ID), nil
	})
}
