// Package mongodb is the primary durable backend: a FlowRepository and a
// reference CredentialVault over MongoDB.
package mongodb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	// FlowsCollection holds AuthorizationFlow records.
	FlowsCollection = "device_link_flows"
	// CredentialsCollection holds linked provider credentials.
	CredentialsCollection = "linked_credentials"
)

// Connect establishes the MongoDB connection, verifies it with a ping, and
// returns the database handle. Call once at startup.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	log.Info().Str("db", dbName).Msg("Connecting to MongoDB")

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return client.Database(dbName), nil
}
