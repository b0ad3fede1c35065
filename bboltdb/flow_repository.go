// Package bboltdb implements the FlowRepository on an embedded bbolt
// database, for single-node deployments that need flow state to survive
// restarts without an external store.
package bboltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

var flowsBucket = []byte("flows")

type FlowRepository struct {
	db *bbolt.DB
}

// NewFlowRepository opens (creating if necessary) the bbolt database at
// dbPath and ensures the flows bucket exists.
func NewFlowRepository(dbPath string) (*FlowRepository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(flowsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating flows bucket: %w", err)
	}

	return &FlowRepository{db: db}, nil
}

// Close releases the underlying database file.
func (r *FlowRepository) Close() error {
	return r.db.Close()
}

func (r *FlowRepository) Create(_ context.Context, flow *domain.AuthorizationFlow) error {
	payload, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshaling flow: %w", err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(flowsBucket).Put([]byte(flow.ID), payload)
	})
}

func (r *FlowRepository) GetByID(_ context.Context, id string) (*domain.AuthorizationFlow, error) {
	var flow *domain.AuthorizationFlow

	err := r.db.View(func(tx *bbolt.Tx) error {
		payload := tx.Bucket(flowsBucket).Get([]byte(id))
		if payload == nil {
			return serrors.ErrFlowNotFound
		}

		flow = new(domain.AuthorizationFlow)
		return json.Unmarshal(payload, flow)
	})
	if err != nil {
		return nil, err
	}

	return flow, nil
}

// mutate rewrites one record inside a single bbolt write transaction, which
// serializes all writers and so gives the compare-and-set contract for free.
func (r *FlowRepository) mutate(id string, fn func(*domain.AuthorizationFlow) error) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(flowsBucket)

		payload := bucket.Get([]byte(id))
		if payload == nil {
			return serrors.ErrFlowNotFound
		}

		var flow domain.AuthorizationFlow
		if err := json.Unmarshal(payload, &flow); err != nil {
			return fmt.Errorf("unmarshaling flow %s: %w", id, err)
		}

		if err := fn(&flow); err != nil {
			return err
		}

		updated, err := json.Marshal(&flow)
		if err != nil {
			return fmt.Errorf("marshaling flow %s: %w", id, err)
		}

		return bucket.Put([]byte(id), updated)
	})
}

func (r *FlowRepository) UpdateStatus(_ context.Context, id string, from, to domain.FlowStatus, errMsg string) error {
	return r.mutate(id, func(flow *domain.AuthorizationFlow) error {
		if flow.Status != from {
			return serrors.ErrFlowStateConflict
		}
		flow.Status = to
		flow.ErrorMessage = errMsg
		return nil
	})
}

func (r *FlowRepository) UpdateInterval(_ context.Context, id string, seconds int) error {
	return r.mutate(id, func(flow *domain.AuthorizationFlow) error {
		if seconds > flow.IntervalSeconds {
			flow.IntervalSeconds = seconds
		}
		return nil
	})
}

func (r *FlowRepository) Delete(_ context.Context, id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(flowsBucket).Delete([]byte(id))
	})
}

func (r *FlowRepository) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*domain.AuthorizationFlow, error) {
	var out []*domain.AuthorizationFlow

	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(flowsBucket).ForEach(func(_, payload []byte) error {
			var flow domain.AuthorizationFlow
			if err := json.Unmarshal(payload, &flow); err != nil {
				return err
			}
			if flow.Status == domain.FlowStatusPending && flow.Expired(now) {
				cp := flow
				out = append(out, &cp)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *FlowRepository) DeleteTerminalCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(flowsBucket)

		var stale [][]byte
		err := bucket.ForEach(func(key, payload []byte) error {
			var flow domain.AuthorizationFlow
			if err := json.Unmarshal(payload, &flow); err != nil {
				return err
			}
			if flow.Status.Terminal() && flow.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

var _ domain.FlowRepository = (*FlowRepository)(nil)
