package domain

// Provider describes an upstream integration that supports the OAuth 2.0
// Device Authorization Grant (RFC 8628). Providers are static configuration;
// nothing here mutates at runtime.
type Provider struct {
	// ID is the handle callers use to select the integration, e.g. "ghcp".
	ID string `mapstructure:"id" json:"id"`
	// ClientID is this system's client identifier at the upstream server.
	ClientID string `mapstructure:"client_id" json:"client_id"`
	// Scopes requested when a flow is initiated.
	Scopes []string `mapstructure:"scopes" json:"scopes"`
	// DeviceAuthURL is the upstream device authorization endpoint.
	DeviceAuthURL string `mapstructure:"device_auth_url" json:"device_auth_url"`
	// TokenURL is the upstream token endpoint polled during the flow.
	TokenURL string `mapstructure:"token_url" json:"token_url"`
}
