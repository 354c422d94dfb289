package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"

	"github.com/JakeFAU/webmention-gatherer/internal/cache"
	"github.com/JakeFAU/webmention-gatherer/internal/config"
	"github.com/JakeFAU/webmention-gatherer/internal/mention"
	pubsubpublisher "github.com/JakeFAU/webmention-gatherer/internal/publisher/pubsub"
	gcsstore "github.com/JakeFAU/webmention-gatherer/internal/storage/gcs"
	localstore "github.com/JakeFAU/webmention-gatherer/internal/storage/local"
	memorystore "github.com/JakeFAU/webmention-gatherer/internal/storage/memory"
)

func nop() {}

// buildStore returns the configured cache store and a func releasing its clients.
func buildStore(ctx context.Context, cfg config.Config) (cache.Store, func(), error) {
	switch cfg.Cache.Backend {
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{Path: cfg.Cache.Path})
		if err != nil {
			return nil, nop, fmt.Errorf("open local cache: %w", err)
		}
		return store, nop, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nop, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Cache.GCSBucket, Object: cfg.Cache.GCSObject})
		if err != nil {
			_ = client.Close()
			return nil, nop, fmt.Errorf("open gcs cache: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	case config.BackendMemory:
		return memorystore.NewStore(), nop, nil
	default:
		return nil, nop, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// buildPublisher returns a Pub/Sub publisher when a topic is configured, nil otherwise.
func buildPublisher(ctx context.Context, cfg config.Config) (mention.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return nil, nop, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nop, fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	return pub, func() {
		pub.Stop()
		_ = client.Close()
	}, nil
}
