// Package database holds the audit sink's Mongo connection bootstrap. The
// zone store's own MySQL connection lives in internal/zonestore, which owns
// the query surface that consumes it.
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect initializes the MongoDB client backing internal/audit, retrying
// with a fixed backoff since the audit database commonly starts after the
// proxy process in a compose/k8s deployment.
func Connect(uri string) (*mongo.Client, error) {
	const maxRetries = 10
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			if err = client.Ping(ctx, nil); err == nil {
				cancel()
				return client, nil
			}
		}
		cancel()
		lastErr = err
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to audit database after %d attempts: %w", maxRetries, lastErr)
}
