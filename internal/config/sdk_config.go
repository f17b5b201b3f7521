// Package config provides configuration management for the desktop login coordinator.
// It handles loading and parsing YAML configuration files, applies environment overrides,
// and provides structured access to identity-provider, token-store, session and logging settings.
package config

// SDKConfig holds the outbound HTTP settings shared by every component that talks to
// the identity provider or the token store.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	// Supported schemes are socks5, http and https.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestTimeoutSeconds bounds a single outbound request (code exchange, profile fetch, poll).
	// <= 0 uses the default of 15 seconds.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`
}

// BridgeConfig configures the websocket bridge used by an embedded UI.
type BridgeConfig struct {
	// Port is the local port the bridge listens on.
	Port int `yaml:"port" json:"port"`

	// Path is the HTTP path that upgrades to a websocket.
	Path string `yaml:"path" json:"path"`

	// AllowedOrigins lists browser origins, such as a UI dev server, that may connect in
	// addition to file:// pages and clients that send no Origin header.
	AllowedOrigins []string `yaml:"allowed-origins,omitempty" json:"allowed-origins,omitempty"`
}
