// Package api defines the transport DTOs of the device link surface. Flow
// responses deliberately have no field for the upstream device code.
package api

import "time"

// InitiateLinkRequest starts a flow for the authenticated user.
type InitiateLinkRequest struct {
	Provider string `json:"provider"`
}

// InitiateLinkResponse carries what the user needs to authorize
// out-of-band, plus the poll cadence the client must respect.
type InitiateLinkResponse struct {
	FlowID          string    `json:"flow_id"`
	UserCode        string    `json:"user_code"`
	VerificationURI string    `json:"verification_uri"`
	ExpiresAt       time.Time `json:"expires_at"`
	IntervalSeconds int       `json:"interval_seconds"`
}

// FlowStatusResponse reports the caller-visible flow state.
type FlowStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
