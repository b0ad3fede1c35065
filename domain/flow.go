package domain

import "time"

// FlowStatus represents the state of a device authorization flow.
type FlowStatus string

const (
	FlowStatusPending   FlowStatus = "pending"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusExpired   FlowStatus = "expired"
	FlowStatusError     FlowStatus = "error"
)

// Terminal reports whether no further status transition is permitted.
func (s FlowStatus) Terminal() bool {
	switch s {
	case FlowStatusCompleted, FlowStatusExpired, FlowStatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is allowed by the
// status lattice. The only legal moves are pending -> {completed, expired,
// error}; terminal states admit no exit.
func (s FlowStatus) CanTransition(next FlowStatus) bool {
	if s != FlowStatusPending {
		return false
	}
	return next.Terminal()
}

// AuthorizationFlow is one device authorization attempt against an upstream
// provider, owned by a single user. The DeviceCode field is the upstream
// polling secret and must never be returned to callers.
type AuthorizationFlow struct {
	ID              string     `bson:"_id" json:"id"`
	UserID          string     `bson:"user_id" json:"user_id"`
	ProviderID      string     `bson:"provider_id" json:"provider_id"`
	DeviceCode      string     `bson:"device_code" json:"device_code"`
	UserCode        string     `bson:"user_code" json:"user_code"`
	VerificationURI string     `bson:"verification_uri" json:"verification_uri"`
	Scopes          []string   `bson:"scopes" json:"scopes"`
	IntervalSeconds int        `bson:"interval_seconds" json:"interval_seconds"`
	ExpiresAt       time.Time  `bson:"expires_at" json:"expires_at"`
	Status          FlowStatus `bson:"status" json:"status"`
	ErrorMessage    string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
}

// Expired reports whether the flow deadline has passed at the given instant.
func (f *AuthorizationFlow) Expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}
