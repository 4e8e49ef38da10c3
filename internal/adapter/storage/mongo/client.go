package mongo

import (
	"context"
	"fmt"
	"time"

	"timebank-escrow/config"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const pingTimeout = 5 * time.Second

// Connect opens a MongoDB client and verifies connectivity.
func Connect(ctx context.Context, cfg config.MongoConfig, log zerolog.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	log.Info().
		Str("database", cfg.Database).
		Str("collection", cfg.Collection).
		Msg("MongoDB connection established")

	return client, nil
}

// HealthCheck implements ports.HealthChecker for MongoDB.
type HealthCheck struct {
	client *mongo.Client
}

// NewHealthCheck creates a MongoDB health checker.
func NewHealthCheck(client *mongo.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

// Ping checks MongoDB connectivity.
func (h *HealthCheck) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "mongodb"
}
