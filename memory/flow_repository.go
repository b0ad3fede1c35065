// Package memory provides the reference in-process FlowRepository. It is
// used by tests and single-process deployments that can afford to lose flow
// state on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
)

type FlowRepository struct {
	mu    sync.RWMutex
	flows map[string]*domain.AuthorizationFlow
}

func NewFlowRepository() *FlowRepository {
	return &FlowRepository{flows: make(map[string]*domain.AuthorizationFlow)}
}

func (r *FlowRepository) Create(_ context.Context, flow *domain.AuthorizationFlow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *flow
	r.flows[flow.ID] = &cp

	return nil
}

func (r *FlowRepository) GetByID(_ context.Context, id string) (*domain.AuthorizationFlow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, ok := r.flows[id]
	if !ok {
		return nil, serrors.ErrFlowNotFound
	}

	cp := *flow

	return &cp, nil
}

func (r *FlowRepository) UpdateStatus(_ context.Context, id string, from, to domain.FlowStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, ok := r.flows[id]
	if !ok {
		return serrors.ErrFlowNotFound
	}
	if flow.Status != from {
		return serrors.ErrFlowStateConflict
	}

	flow.Status = to
	flow.ErrorMessage = errMsg

	return nil
}

func (r *FlowRepository) UpdateInterval(_ context.Context, id string, seconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	flow, ok := r.flows[id]
	if !ok {
		return serrors.ErrFlowNotFound
	}
	// The poll interval may only grow.
	if seconds > flow.IntervalSeconds {
		flow.IntervalSeconds = seconds
	}

	return nil
}

func (r *FlowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.flows, id)

	return nil
}

func (r *FlowRepository) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*domain.AuthorizationFlow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.AuthorizationFlow
	for _, flow := range r.flows {
		if flow.Status == domain.FlowStatusPending && flow.Expired(now) {
			cp := *flow
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}

	return out, nil
}

func (r *FlowRepository) DeleteTerminalCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, flow := range r.flows {
		if flow.Status.Terminal() && flow.CreatedAt.Before(cutoff) {
			delete(r.flows, id)
			deleted++
		}
	}

	return deleted, nil
}

var _ domain.FlowRepository = (*FlowRepository)(nil)
