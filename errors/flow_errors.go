package errors

import (
	"errors"
	"fmt"
)

// Caller-facing flow errors. ErrInvalidFlow deliberately covers both an
// unknown flow id and a flow owned by a different user, so that flow ids
// cannot be enumerated through error responses.
var (
	ErrInvalidFlow         = errors.New("device link flow not found")
	ErrUpstreamUnavailable = errors.New("upstream authorization server unavailable")
	ErrUnknownProvider     = errors.New("unknown provider")
)

// Store-level errors. These never cross the HTTP boundary directly; the
// orchestrator maps ErrFlowNotFound to ErrInvalidFlow.
var (
	ErrFlowNotFound      = errors.New("flow record not found")
	ErrFlowStateConflict = errors.New("flow status does not match expected state")
)

// UpstreamError is an OAuth 2.0 error response from the upstream token or
// device-code endpoint, as defined by RFC 6749 §5.2 and RFC 8628 §3.5.
type UpstreamError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *UpstreamError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Device flow error codes the orchestrator dispatches on. Any other code is
// folded into a terminal flow error with the raw code preserved.
const (
	AuthorizationPending = "authorization_pending"
	SlowDown             = "slow_down"
	ExpiredToken         = "expired_token"
	AccessDenied         = "access_denied"
)

func NewUpstreamError(code, description string) *UpstreamError {
	return &UpstreamError{Code: code, Description: description}
}
