package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Placeholder values shipped in example configuration files. They are treated as missing.
const (
	PlaceholderClientID     = "YOUR_GOOGLE_CLIENT_ID"
	PlaceholderClientSecret = "YOUR_GOOGLE_CLIENT_SECRET"
)

// Defaults used when the configuration file and environment leave a value unset.
const (
	DefaultCallbackPort       = 14500
	DefaultCallbackPath       = "/oauth"
	DefaultBridgePort         = 14501
	DefaultBridgePath         = "/ws"
	DefaultLoginPageURL       = "https://money-moves-fe56b.web.app/login"
	DefaultAuthEndpoint       = "https://accounts.google.com/o/oauth2/auth"
	DefaultTokenEndpoint      = "https://oauth2.googleapis.com/token"
	DefaultUserinfoEndpoint   = "https://www.googleapis.com/oauth2/v3/userinfo"
	DefaultTimeoutSeconds     = 300
	DefaultPollIntervalMillis = 1000
	DefaultMaxPolls           = 300
	DefaultKeyPrefix          = "sessions"
	DefaultRequestTimeout     = 15 * time.Second
)

// Fallback policies.
const (
	FallbackStrict = "strict"
	FallbackMock   = "mock"
)

// Token store backends.
const (
	StoreNone     = "none"
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreFirebase = "firebase"
	StorePostgres = "postgres"
	StoreObject   = "object"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile switches log output from stdout to a rotating file.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the log directory size. <= 0 disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// NoBrowser prints login URLs instead of launching the system browser.
	NoBrowser bool `yaml:"no-browser" json:"no-browser"`

	// CallbackPort is the fixed local port the OAuth redirect lands on.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// CallbackPath is the path of the OAuth redirect on the callback port.
	CallbackPath string `yaml:"callback-path" json:"callback-path"`

	// LoginPageURL is the companion web page that writes the session record.
	LoginPageURL string `yaml:"login-page-url" json:"login-page-url"`

	// FallbackPolicy is "strict" or "mock".
	FallbackPolicy string `yaml:"fallback-policy" json:"fallback-policy"`

	// Launch selects which URL the browser opens: "redirect", "handoff" or "both".
	Launch string `yaml:"launch" json:"launch"`

	Google   GoogleOAuth    `yaml:"google" json:"google"`
	Firebase FirebaseConfig `yaml:"firebase" json:"firebase"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Bridge   BridgeConfig   `yaml:"bridge" json:"bridge"`
}

// GoogleOAuth holds the identity provider client configuration.
type GoogleOAuth struct {
	ClientID         string   `yaml:"client-id" json:"client-id"`
	ClientSecret     string   `yaml:"client-secret" json:"client-secret"`
	AuthEndpoint     string   `yaml:"auth-endpoint" json:"auth-endpoint"`
	TokenEndpoint    string   `yaml:"token-endpoint" json:"token-endpoint"`
	UserinfoEndpoint string   `yaml:"userinfo-endpoint" json:"userinfo-endpoint"`
	RedirectURI      string   `yaml:"redirect-uri" json:"redirect-uri"`
	Scopes           []string `yaml:"scopes" json:"scopes"`
}

// FirebaseConfig holds the Firebase project settings used for credential minting and the
// realtime database token store.
type FirebaseConfig struct {
	ProjectID       string `yaml:"project-id" json:"project-id"`
	DatabaseURL     string `yaml:"database-url" json:"database-url"`
	CredentialsFile string `yaml:"credentials-file" json:"credentials-file"`
}

// SessionConfig tunes the session lifecycle.
type SessionConfig struct {
	TimeoutSeconds     int    `yaml:"timeout-seconds" json:"timeout-seconds"`
	PollIntervalMillis int    `yaml:"poll-interval-ms" json:"poll-interval-ms"`
	MaxPolls           int    `yaml:"max-polls" json:"max-polls"`
	KeyPrefix          string `yaml:"key-prefix" json:"key-prefix"`
	DeleteOnResolve    *bool  `yaml:"delete-on-resolve,omitempty" json:"delete-on-resolve,omitempty"`
}

// StoreConfig selects and configures the token store backend.
type StoreConfig struct {
	Type     string              `yaml:"type" json:"type"`
	Dir      string              `yaml:"dir" json:"dir"`
	Postgres PostgresStoreConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectStoreConfig   `yaml:"object" json:"object"`
}

// PostgresStoreConfig configures the Postgres-backed token store.
type PostgresStoreConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema" json:"schema"`
}

// ObjectStoreConfig configures the S3-compatible token store.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"access-key"`
	SecretKey string `yaml:"secret-key" json:"secret-key"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
}

// LoadConfig reads and parses the configuration file, then applies environment overrides and defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig but returns a default configuration when the
// file does not exist and optional is true.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(configFile) != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if len(strings.TrimSpace(string(data))) > 0 {
				if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
					return nil, fmt.Errorf("failed to parse config file: %w", errUnmarshal)
				}
			}
		case errors.Is(err, os.ErrNotExist) && optional:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration values from the environment. Both upper and lower case
// variable names are accepted.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if c == nil || lookup == nil {
		return
	}
	get := func(keys ...string) (string, bool) {
		for _, key := range keys {
			for _, variant := range []string{key, strings.ToLower(key)} {
				if value, ok := lookup(variant); ok {
					if trimmed := strings.TrimSpace(value); trimmed != "" {
						return trimmed, true
					}
				}
			}
		}
		return "", false
	}

	if v, ok := get("GOOGLE_CLIENT_ID"); ok {
		c.Google.ClientID = v
	}
	if v, ok := get("GOOGLE_CLIENT_SECRET"); ok {
		c.Google.ClientSecret = v
	}
	if v, ok := get("GOOGLE_REDIRECT_URI"); ok {
		c.Google.RedirectURI = v
	}
	if v, ok := get("AUTH_BASE_URL"); ok {
		c.LoginPageURL = v
	}
	if v, ok := get("OAUTH_CALLBACK_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.CallbackPort = port
		}
	}
	if v, ok := get("FALLBACK_POLICY"); ok {
		c.FallbackPolicy = v
	}
	if v, ok := get("FIREBASE_PROJECT_ID"); ok {
		c.Firebase.ProjectID = v
	}
	if v, ok := get("FIREBASE_DATABASE_URL"); ok {
		c.Firebase.DatabaseURL = v
	}
	if v, ok := get("FIREBASE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS"); ok {
		c.Firebase.CredentialsFile = v
	}
	if v, ok := get("STORE_TYPE"); ok {
		c.Store.Type = v
	}
	if v, ok := get("FILESTORE_DIR"); ok {
		c.Store.Dir = v
	}
	if v, ok := get("PGSTORE_DSN"); ok {
		c.Store.Postgres.DSN = v
		if c.Store.Type == "" {
			c.Store.Type = StorePostgres
		}
	}
	if v, ok := get("PGSTORE_SCHEMA"); ok {
		c.Store.Postgres.Schema = v
	}
	if v, ok := get("OBJECTSTORE_ENDPOINT"); ok {
		c.Store.Object.Endpoint = v
		if c.Store.Type == "" {
			c.Store.Type = StoreObject
		}
	}
	if v, ok := get("OBJECTSTORE_BUCKET"); ok {
		c.Store.Object.Bucket = v
	}
	if v, ok := get("OBJECTSTORE_ACCESS_KEY"); ok {
		c.Store.Object.AccessKey = v
	}
	if v, ok := get("OBJECTSTORE_SECRET_KEY"); ok {
		c.Store.Object.SecretKey = v
	}
	if v, ok := get("PROXY_URL"); ok {
		c.ProxyURL = v
	}
	if v, ok := get("BRIDGE_ALLOWED_ORIGINS"); ok {
		c.Bridge.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.Bridge.AllowedOrigins = append(c.Bridge.AllowedOrigins, origin)
			}
		}
	}
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.CallbackPort <= 0 {
		c.CallbackPort = DefaultCallbackPort
	}
	if strings.TrimSpace(c.CallbackPath) == "" {
		c.CallbackPath = DefaultCallbackPath
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		c.CallbackPath = "/" + c.CallbackPath
	}
	if strings.TrimSpace(c.LoginPageURL) == "" {
		c.LoginPageURL = DefaultLoginPageURL
	}
	c.FallbackPolicy = strings.ToLower(strings.TrimSpace(c.FallbackPolicy))
	if c.FallbackPolicy == "" {
		c.FallbackPolicy = FallbackStrict
	}
	c.Launch = strings.ToLower(strings.TrimSpace(c.Launch))

	if c.Google.AuthEndpoint == "" {
		c.Google.AuthEndpoint = DefaultAuthEndpoint
	}
	if c.Google.TokenEndpoint == "" {
		c.Google.TokenEndpoint = DefaultTokenEndpoint
	}
	if c.Google.UserinfoEndpoint == "" {
		c.Google.UserinfoEndpoint = DefaultUserinfoEndpoint
	}
	if c.Google.RedirectURI == "" {
		c.Google.RedirectURI = fmt.Sprintf("http://localhost:%d%s", c.CallbackPort, c.CallbackPath)
	}
	if len(c.Google.Scopes) == 0 {
		c.Google.Scopes = []string{"profile", "email"}
	}

	if c.Session.TimeoutSeconds <= 0 {
		c.Session.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Session.PollIntervalMillis <= 0 {
		c.Session.PollIntervalMillis = DefaultPollIntervalMillis
	}
	if c.Session.MaxPolls <= 0 {
		c.Session.MaxPolls = DefaultMaxPolls
	}
	c.Session.KeyPrefix = strings.Trim(strings.TrimSpace(c.Session.KeyPrefix), "/")
	if c.Session.KeyPrefix == "" {
		c.Session.KeyPrefix = DefaultKeyPrefix
	}
	if c.Session.DeleteOnResolve == nil {
		enabled := true
		c.Session.DeleteOnResolve = &enabled
	}

	c.Store.Type = strings.ToLower(strings.TrimSpace(c.Store.Type))
	if c.Store.Type == "" {
		if c.Firebase.DatabaseURL != "" {
			c.Store.Type = StoreFirebase
		} else {
			c.Store.Type = StoreNone
		}
	}
	if c.Store.Postgres.Schema == "" {
		c.Store.Postgres.Schema = "public"
	}

	if c.Bridge.Port <= 0 {
		c.Bridge.Port = DefaultBridgePort
	}
	if strings.TrimSpace(c.Bridge.Path) == "" {
		c.Bridge.Path = DefaultBridgePath
	}
}

// Validate reports structural configuration problems. Missing identity-provider credentials
// are not checked here; they are reported when a session starts.
func (c *Config) Validate() error {
	switch c.FallbackPolicy {
	case FallbackStrict, FallbackMock:
	default:
		return fmt.Errorf("config: unknown fallback-policy %q (want %s or %s)", c.FallbackPolicy, FallbackStrict, FallbackMock)
	}
	switch c.Launch {
	case "", "redirect", "handoff", "both":
	default:
		return fmt.Errorf("config: unknown launch %q (want redirect, handoff or both)", c.Launch)
	}
	switch c.Store.Type {
	case StoreNone, StoreMemory:
	case StoreFile:
		if strings.TrimSpace(c.Store.Dir) == "" {
			return fmt.Errorf("config: store.dir is required for the file store")
		}
	case StoreFirebase:
		if strings.TrimSpace(c.Firebase.DatabaseURL) == "" {
			return fmt.Errorf("config: firebase.database-url is required for the firebase store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.Postgres.DSN) == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres store")
		}
	case StoreObject:
		if strings.TrimSpace(c.Store.Object.Endpoint) == "" || strings.TrimSpace(c.Store.Object.Bucket) == "" {
			return fmt.Errorf("config: store.object.endpoint and store.object.bucket are required for the object store")
		}
	default:
		return fmt.Errorf("config: unknown store.type %q", c.Store.Type)
	}
	if c.CallbackPort > 65535 || c.Bridge.Port > 65535 {
		return fmt.Errorf("config: port out of range")
	}
	return nil
}

// Timeout returns the overall session deadline.
func (c SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the store polling interval.
func (c SessionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// RequestTimeout returns the per-request timeout for outbound HTTP calls.
func (c SDKConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
