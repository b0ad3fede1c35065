// Package redisdb implements the FlowRepository on Redis. Flow records are
// JSON values under a key prefix; the reaper sweeps them with SCAN. Updates
// take a per-flow lock on the Redis side via WATCH so the compare-and-set
// contract holds under concurrent pollers.
package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

const defaultPrefix = "devicelink"

// maxTxRetries bounds optimistic-lock retries on contended flow keys.
const maxTxRetries = 5

type FlowRepository struct {
	client *redis.Client
	prefix string
}

func NewFlowRepository(client *redis.Client, prefix string) *FlowRepository {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FlowRepository{client: client, prefix: prefix}
}

func (r *FlowRepository) key(id string) string {
	return fmt.Sprintf("%s:flow:%s", r.prefix, id)
}

func (r *FlowRepository) Create(ctx context.Context, flow *domain.AuthorizationFlow) error {
	payload, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("marshaling flow: %w", err)
	}

	// No Redis TTL: expiry is a status transition the reaper must observe,
	// not a silent eviction. Retention is also the reaper's job.
	return r.client.Set(ctx, r.key(flow.ID), payload, 0).Err()
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*domain.AuthorizationFlow, error) {
	payload, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, serrors.ErrFlowNotFound
		}
		return nil, err
	}

	var flow domain.AuthorizationFlow
	if err := json.Unmarshal(payload, &flow); err != nil {
		return nil, fmt.Errorf("unmarshaling flow %s: %w", id, err)
	}

	return &flow, nil
}

// mutate runs fn against the current record inside a WATCH/MULTI/EXEC
// transaction, retrying on contention.
func (r *FlowRepository) mutate(ctx context.Context, id string, fn func(*domain.AuthorizationFlow) error) error {
	key := r.key(id)

	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return serrors.ErrFlowNotFound
			}
			return err
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return fmt.Errorf("flow %s: too many transaction conflicts", id)
}

func (r *FlowRepository) UpdateStatus(ctx context.Context, id string, from, to domain.FlowStatus, errMsg string) error {
	return r.mutate(ctx, id, func(flow *domain.AuthorizationFlow) error {
		if flow.Status != from {
			return serrors.ErrFlowStateConflict
		}
		flow.Status = to
		flow.ErrorMessage = errMsg
		return nil
	})
}

func (r *FlowRepository) UpdateInterval(ctx context.Context, id string, seconds int) error {
	return r.mutate(ctx, id, func(flow *domain.AuthorizationFlow) error {
		if seconds > flow.IntervalSeconds {
			flow.IntervalSeconds = seconds
		}
		return nil
	})
}

func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

func (r *FlowRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.AuthorizationFlow, error) {
	var out []*domain.AuthorizationFlow

	err := r.scanFlows(ctx, func(flow *domain.AuthorizationFlow) bool {
		if flow.Status == domain.FlowStatusPending && flow.Expired(now) {
			out = append(out, flow)
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (r *FlowRepository) DeleteTerminalCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var stale []string

	err := r.scanFlows(ctx, func(flow *domain.AuthorizationFlow) bool {
		if flow.Status.Terminal() && flow.CreatedAt.Before(cutoff) {
			stale = append(stale, r.key(flow.ID))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, stale...).Result()
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// scanFlows iterates every flow record, calling visit until it returns
// false. Records deleted mid-scan are skipped.
func (r *FlowRepository) scanFlows(ctx context.Context, visit func(*domain.AuthorizationFlow) bool) error {
	iter := r.client.Scan(ctx, 0, fmt.Sprintf("%s:flow:*", r.prefix), 100).Iterator()

	for iter.Next(ctx) {
		payload, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return err
		}

		var flow domain.AuthorizationFlow
		if err := json.Unmarshal(payload, &flow); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", iter.Val(), err)
		}

		if !visit(&flow) {
			break
		}
	}

	return iter.Err()
}

var _ domain.FlowRepository = (*FlowRepository)(nil)
