package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxhq/devicelink/domain"
	serrors "github.com/sandboxhq/devicelink/errors"
	"github.com/sandboxhq/devicelink/internal/metrics"
	applog "github.com/sandboxhq/devicelink/log"
	"github.com/sandboxhq/devicelink/upstream"
)

const (
	// defaultPollInterval applies when the upstream omits interval
	// (RFC 8628 §3.2).
	defaultPollInterval = 5
	// slowDownIncrement is the interval bump applied on slow_down
	// (RFC 8628 §3.5).
	slowDownIncrement = 5

	deniedMessage       = "User denied access"
	networkFailureMsg   = "temporary failure reaching the authorization server, retry after the poll interval"
	vaultFailureMessage = "failed to store linked credential"
)

// DeviceAuthorizer is the upstream surface the orchestrator depends on,
// implemented by *upstream.Client.
type DeviceAuthorizer interface {
	RequestDeviceCode(ctx context.Context, provider *domain.Provider) (*upstream.DeviceCodeResponse, error)
	ExchangeToken(ctx context.Context, provider *domain.Provider, deviceCode string) (*upstream.TokenResult, error)
}

// InitiateResult is what the caller needs to drive the out-of-band
// authorization: the flow handle plus the human-facing code and URI. The
// device code never leaves the service.
type InitiateResult struct {
	FlowID          string
	UserCode        string
	VerificationURI string
	ExpiresAt       time.Time
	IntervalSeconds int
}

// FlowStatusResult reports the caller-visible state of a flow. ErrorMessage
// is diagnostic text, set only for the error status.
type FlowStatusResult struct {
	Status       domain.FlowStatus
	ErrorMessage string
}

// FlowService owns the device authorization state machine: initiation,
// polling, status inspection and cancellation.
type FlowService struct {
	store      domain.FlowRepository
	authorizer DeviceAuthorizer
	vault      domain.CredentialVault
	notifier   domain.Notifier
	providers  *ProviderRegistry
	throttle   *PollThrottle
	logger     applog.Logger
	now        func() time.Time
}

// FlowServiceOption customizes a FlowService.
type FlowServiceOption func(*FlowService)

// WithPollThrottle enables upstream poll damping.
func WithPollThrottle(t *PollThrottle) FlowServiceOption {
	return func(s *FlowService) { s.throttle = t }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) FlowServiceOption {
	return func(s *FlowService) { s.now = now }
}

func NewFlowService(
	store domain.FlowRepository,
	authorizer DeviceAuthorizer,
	vault domain.CredentialVault,
	notifier domain.Notifier,
	providers *ProviderRegistry,
	logger applog.Logger,
	opts ...FlowServiceOption,
) *FlowService {
	s := &FlowService{
		store:      store,
		authorizer: authorizer,
		vault:      vault,
		notifier:   notifier,
		providers:  providers,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiate starts a device authorization flow for the user against the
// given provider. No record is created when the upstream device-code
// request fails.
func (s *FlowService) Initiate(ctx context.Context, userID, providerID string) (*InitiateResult, error) {
	provider, err := s.providers.Get(providerID)
	if err != nil {
		return nil, err
	}

	resp, err := s.authorizer.RequestDeviceCode(ctx, provider)
	if err != nil {
		s.logger.Error(ctx, "Device code request failed", err, map[string]any{
			"provider_id": providerID,
			"user_id":     userID,
		})
		inc(metrics.FlowInitiateFailuresTotal)
		return nil, fmt.Errorf("%w: %v", serrors.ErrUpstreamUnavailable, err)
	}

	now := s.now()
	interval := resp.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	flow := &domain.AuthorizationFlow{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProviderID:      providerID,
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Scopes:          provider.Scopes,
		IntervalSeconds: interval,
		ExpiresAt:       now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		Status:          domain.FlowStatusPending,
		CreatedAt:       now,
	}

	if err := s.store.Create(ctx, flow); err != nil {
		return nil, fmt.Errorf("persisting flow: %w", err)
	}

	inc(metrics.FlowsInitiatedTotal)
	s.logger.Info(ctx, "Device link flow initiated", map[string]any{
		"flow_id":     flow.ID,
		"provider_id": providerID,
		"user_id":     userID,
		"expires_at":  flow.ExpiresAt,
	})

	return &InitiateResult{
		FlowID:          flow.ID,
		UserCode:        flow.UserCode,
		VerificationURI: flow.VerificationURI,
		ExpiresAt:       flow.ExpiresAt,
		IntervalSeconds: flow.IntervalSeconds,
	}, nil
}

// Poll advances the flow by one upstream token exchange and reports its
// state. Unknown ids and flows owned by someone else are both answered with
// serrors.ErrInvalidFlow so that flow ids cannot be probed.
func (s *FlowService) Poll(ctx context.Context, id, userID string) (*FlowStatusResult, error) {
	flow, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	// Repeat polls after resolution are idempotent reads.
	if flow.Status.Terminal() {
		incPoll(string(flow.Status))
		return &FlowStatusResult{Status: flow.Status, ErrorMessage: flow.ErrorMessage}, nil
	}

	if flow.Expired(s.now()) {
		return s.expire(ctx, flow)
	}

	if s.throttle != nil && !s.throttle.Allow(flow.ID, flow.IntervalSeconds) {
		incPoll("throttled")
		return &FlowStatusResult{Status: domain.FlowStatusPending}, nil
	}

	provider, err := s.providers.Get(flow.ProviderID)
	if err != nil {
		return nil, err
	}

	result, err := s.authorizer.ExchangeToken(ctx, provider, flow.DeviceCode)
	if err != nil {
		// Transient transport failure: the record stays pending so the
		// caller can retry, but the caller sees an error status. This is
		// the one place where the reported and persisted status diverge.
		s.logger.Warn(ctx, "Token exchange transport failure", map[string]any{
			"flow_id": flow.ID,
			"error":   err.Error(),
		})
		incPoll("network_error")
		return &FlowStatusResult{Status: domain.FlowStatusError, ErrorMessage: networkFailureMsg}, nil
	}

	switch result.Outcome {
	case upstream.OutcomePending:
		incPoll("pending")
		return &FlowStatusResult{Status: domain.FlowStatusPending}, nil

	case upstream.OutcomeSlowDown:
		// Persist the raised interval so later polls honor the slower
		// cadence, across restarts and concurrent pollers included.
		if err := s.store.UpdateInterval(ctx, flow.ID, flow.IntervalSeconds+slowDownIncrement); err != nil {
			s.logger.Warn(ctx, "Failed to persist raised poll interval", map[string]any{
				"flow_id": flow.ID,
				"error":   err.Error(),
			})
		}
		incPoll("slow_down")
		return &FlowStatusResult{Status: domain.FlowStatusPending}, nil

	case upstream.OutcomeExpired:
		return s.expire(ctx, flow)

	case upstream.OutcomeDenied:
		incPoll("denied")
		return s.fail(ctx, flow, deniedMessage)

	case upstream.OutcomeError:
		msg := result.ErrorDescription
		if msg == "" {
			msg = result.ErrorCode
		}
		incPoll("upstream_error")
		return s.fail(ctx, flow, msg)

	case upstream.OutcomeSuccess:
		return s.complete(ctx, flow, result)

	default:
		return nil, fmt.Errorf("flow %s: unexpected token exchange outcome %q", flow.ID, result.Outcome)
	}
}

// GetStatus reports the flow state without touching the upstream, for UI
// polls that must not burn the upstream rate budget. An expired pending flow
// is lazily transitioned, exactly as Poll would.
func (s *FlowService) GetStatus(ctx context.Context, id, userID string) (*FlowStatusResult, error) {
	flow, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if flow.Status.Terminal() {
		return &FlowStatusResult{Status: flow.Status, ErrorMessage: flow.ErrorMessage}, nil
	}

	if flow.Expired(s.now()) {
		return s.expire(ctx, flow)
	}

	return &FlowStatusResult{Status: domain.FlowStatusPending}, nil
}

// Cancel deletes the flow record unconditionally. The upstream protocol has
// no cancel primitive; an in-flight authorization may still succeed upstream
// with no observer, which is fine. Cancelling an absent flow is a no-op.
func (s *FlowService) Cancel(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting flow %s: %w", id, err)
	}
	if s.throttle != nil {
		s.throttle.Forget(id)
	}

	s.logger.Info(ctx, "Device link flow cancelled", map[string]any{"flow_id": id})

	return nil
}

func (s *FlowService) loadOwned(ctx context.Context, id, userID string) (*domain.AuthorizationFlow, error) {
	flow, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, serrors.ErrFlowNotFound) {
			return nil, serrors.ErrInvalidFlow
		}
		return nil, fmt.Errorf("loading flow %s: %w", id, err)
	}
	if flow.UserID != userID {
		return nil, serrors.ErrInvalidFlow
	}

	return flow, nil
}

func (s *FlowService) expire(ctx context.Context, flow *domain.AuthorizationFlow) (*FlowStatusResult, error) {
	incPoll("expired")
	return s.transition(ctx, flow, domain.FlowStatusExpired, "")
}

func (s *FlowService) fail(ctx context.Context, flow *domain.AuthorizationFlow, msg string) (*FlowStatusResult, error) {
	return s.transition(ctx, flow, domain.FlowStatusError, msg)
}

// transition performs the compare-and-set terminal write. Losing the race
// means another poller or the reaper already resolved the flow; the stored
// terminal state wins and is what the caller sees.
func (s *FlowService) transition(ctx context.Context, flow *domain.AuthorizationFlow, to domain.FlowStatus, msg string) (*FlowStatusResult, error) {
	if !flow.Status.CanTransition(to) {
		return nil, fmt.Errorf("flow %s: illegal transition %s -> %s", flow.ID, flow.Status, to)
	}

	err := s.store.UpdateStatus(ctx, flow.ID, flow.Status, to, msg)
	if err != nil {
		if errors.Is(err, serrors.ErrFlowStateConflict) {
			stored, loadErr := s.store.GetByID(ctx, flow.ID)
			if loadErr != nil {
				return nil, fmt.Errorf("reloading flow %s after conflict: %w", flow.ID, loadErr)
			}
			return &FlowStatusResult{Status: stored.Status, ErrorMessage: stored.ErrorMessage}, nil
		}
		return nil, fmt.Errorf("updating flow %s: %w", flow.ID, err)
	}

	if s.throttle != nil {
		s.throttle.Forget(flow.ID)
	}

	return &FlowStatusResult{Status: to, ErrorMessage: msg}, nil
}

// complete stores the credential, marks the flow completed and fires the
// notifier. The vault write precedes the status write: a flow must never
// read as completed while the token was lost.
func (s *FlowService) complete(ctx context.Context, flow *domain.AuthorizationFlow, result *upstream.TokenResult) (*FlowStatusResult, error) {
	scopes := result.Scopes
	if len(scopes) == 0 {
		scopes = flow.Scopes
	}

	if err := s.vault.StoreCredential(ctx, flow.UserID, flow.ProviderID, result.AccessToken, scopes); err != nil {
		s.logger.Error(ctx, "Credential vault write failed", err, map[string]any{
			"flow_id":     flow.ID,
			"provider_id": flow.ProviderID,
		})
		inc(metrics.VaultWriteFailuresTotal)
		incPoll("vault_error")
		// The device code is spent upstream; retrying can never succeed.
		return s.fail(ctx, flow, vaultFailureMessage)
	}

	statusResult, err := s.transition(ctx, flow, domain.FlowStatusCompleted, "")
	if err != nil {
		return nil, err
	}

	inc(metrics.FlowsCompletedTotal)
	incPoll("completed")
	s.logger.Info(ctx, "Device link flow completed", map[string]any{
		"flow_id":     flow.ID,
		"provider_id": flow.ProviderID,
		"user_id":     flow.UserID,
	})

	// Best-effort hook, detached from the caller's result path. The context
	// is decoupled from the request so a finished request cannot cancel it.
	notifyCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.notifier.Notify(notifyCtx, flow.UserID, flow.ProviderID); err != nil {
			inc(metrics.NotifierFailuresTotal)
			s.logger.Warn(notifyCtx, "Post-link notifier failed", map[string]any{
				"flow_id":     flow.ID,
				"provider_id": flow.ProviderID,
				"error":       err.Error(),
			})
		}
	}()

	return statusResult, nil
}

// Metrics are optional: Init may not have run in library or test use.
func inc(c interface{ Inc() }) {
	if c != nil {
		c.Inc()
	}
}

func incPoll(outcome string) {
	if metrics.PollsTotal != nil {
		metrics.PollsTotal.WithLabelValues(outcome).Inc()
	}
}
