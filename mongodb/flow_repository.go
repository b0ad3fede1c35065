package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

type FlowRepository struct {
	flows *mongo.Collection
}

// NewFlowRepository builds the Mongo-backed flow store and ensures its
// indexes: _id is the unique flow id, (status, created_at) supports the
// reaper sweep, expires_at the forced-expiry scan.
func NewFlowRepository(ctx context.Context, db *mongo.Database) (*FlowRepository, error) {
	repo := &FlowRepository{flows: db.Collection(FlowsCollection)}

	indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := repo.flows.Indexes().CreateMany(indexCtx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *FlowRepository) Create(ctx context.Context, flow *domain.AuthorizationFlow) error {
	_, err := r.flows.InsertOne(ctx, flow)
	return err
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*domain.AuthorizationFlow, error) {
	var flow domain.AuthorizationFlow

	err := r.flows.FindOne(ctx, bson.M{"_id": id}).Decode(&flow)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrFlowNotFound
		}
		return nil, err
	}

	return &flow, nil
}

// UpdateStatus is a compare-and-set write: the filter includes the expected
// source status, so a late pending write can never overwrite a terminal
// state that another poller or the reaper already recorded.
func (r *FlowRepository) UpdateStatus(ctx context.Context, id string, from, to domain.FlowStatus, errMsg string) error {
	filter := bson.M{"_id": id, "status": from}
	update := bson.M{"$set": bson.M{"status": to, "error_message": errMsg}}

	result, err := r.flows.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		// Distinguish a missing record from a status mismatch.
		if count, countErr := r.flows.CountDocuments(ctx, bson.M{"_id": id}); countErr == nil && count == 0 {
			return serrors.ErrFlowNotFound
		}
		return serrors.ErrFlowStateConflict
	}

	return nil
}

func (r *FlowRepository) UpdateInterval(ctx context.Context, id string, seconds int) error {
	// $max keeps the invariant that the interval never decreases.
	update := bson.M{"$max": bson.M{"interval_seconds": seconds}}

	result, err := r.flows.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrFlowNotFound
	}

	return nil
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.flows.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *FlowRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.AuthorizationFlow, error) {
	filter := bson.M{
		"status":     domain.FlowStatusPending,
		"expires_at": bson.M{"$lt": now},
	}

	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cursor, err := r.flows.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var flows []*domain.AuthorizationFlow
	if err := cursor.All(ctx, &flows); err != nil {
		return nil, err
	}

	return flows, nil
}

func (r *FlowRepository) DeleteTerminalCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status": bson.M{"$in": []domain.FlowStatus{
			domain.FlowStatusCompleted,
			domain.FlowStatusExpired,
			domain.FlowStatusError,
		}},
		"created_at": bson.M{"$lt": cutoff},
	}

	result, err := r.flows.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}

	return result.DeletedCount, nil
}

var _ domain.FlowRepository = (*FlowRepository)(nil)
