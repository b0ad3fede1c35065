package domain

import (
	"context"
	"time"
)

// FlowRepository is durable CRUD over AuthorizationFlow records. It holds no
// business logic; status legality is the orchestrator's concern, except that
// UpdateStatus is compare-and-set so a stale pending write can never clobber
// a terminal state.
type FlowRepository interface {
	// Create persists a new flow record. The caller supplies the id.
	Create(ctx context.Context, flow *AuthorizationFlow) error

	// GetByID returns the flow or serrors.ErrFlowNotFound.
	GetByID(ctx context.Context, id string) (*AuthorizationFlow, error)

	// UpdateStatus transitions the flow from the expected source status to
	// the new one, recording errMsg (used only for FlowStatusError).
	// Returns serrors.ErrFlowStateConflict when the stored status is not
	// `from`, and serrors.ErrFlowNotFound when the record is absent.
	UpdateStatus(ctx context.Context, id string, from, to FlowStatus, errMsg string) error

	// UpdateInterval raises the stored poll interval. Implementations must
	// never lower it.
	UpdateInterval(ctx context.Context, id string, seconds int) error

	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// ListExpiredPending returns up to limit pending flows whose deadline
	// passed before now. Used by the reaper.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*AuthorizationFlow, error)

	// DeleteTerminalCreatedBefore removes terminal-state records created
	// before the cutoff, returning how many were deleted.
	DeleteTerminalCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CredentialVault persists a linked access token for a user. Storage and
// encryption are the vault's concern.
type CredentialVault interface {
	StoreCredential(ctx context.Context, userID, providerID, accessToken string, scopes []string) error
}

// Notifier is the best-effort post-link hook, e.g. refreshing live sandbox
// containers with the new credential. Failures are logged by the caller and
// never affect flow completion.
type Notifier interface {
	Notify(ctx context.Context, userID, providerID string) error
}
