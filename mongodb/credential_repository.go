package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sandboxhq/devicelink/domain"
)

// linkedCredential is the stored shape of a provider credential. Token
// encryption at rest is deliberately not handled here; production vaults
// wrap this repository or replace it entirely.
type linkedCredential struct {
	UserID      string    `bson:"user_id"`
	ProviderID  string    `bson:"provider_id"`
	AccessToken string    `bson:"access_token"`
	Scopes      []string  `bson:"scopes"`
	LinkedAt    time.Time `bson:"linked_at"`
}

// CredentialRepository is the reference CredentialVault: one credential per
// (user, provider), last write wins.
type CredentialRepository struct {
	credentials *mongo.Collection
}

func NewCredentialRepository(ctx context.Context, db *mongo.Database) (*CredentialRepository, error) {
	repo := &CredentialRepository{credentials: db.Collection(CredentialsCollection)}

	indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := repo.credentials.Indexes().CreateOne(indexCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *CredentialRepository) StoreCredential(ctx context.Context, userID, providerID, accessToken string, scopes []string) error {
	filter := bson.M{"user_id": userID, "provider_id": providerID}
	update := bson.M{"$set": linkedCredential{
		UserID:      userID,
		ProviderID:  providerID,
		AccessToken: accessToken,
		Scopes:      scopes,
		LinkedAt:    time.Now().UTC(),
	}}

	_, err := r.credentials.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))

	return err
}

var _ domain.CredentialVault = (*CredentialRepository)(nil)
