// Package config provides the typed configuration for fgapool.
// It defines a single Config structure covering the connection pool,
// the authorization client, and the credential methods the client
// factory understands.
//
// Configuration is organized into logical sections:
//   - Pool sizing: min/max connections, idle limits, admission timeout
//   - Client: endpoint URL, store ID, request timeout, retries
//   - Credentials: the authentication scheme used by the client factory
//
// Example usage:
//
//	cfg := config.NewConfig("default")
//	cfg.URL = "https://fga.example.com"
//	cfg.MaxConnections = 20
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"net/url"
	"time"
)

// CredentialMethod identifies the authentication scheme used when the
// client factory constructs a client. The set is closed; Validate rejects
// anything else.
type CredentialMethod string

const (
	// CredentialsNone disables authentication.
	CredentialsNone CredentialMethod = "none"
	// CredentialsAPIToken sends a pre-shared bearer token on every request.
	CredentialsAPIToken CredentialMethod = "api_token"
	// CredentialsClientCredentials obtains tokens via the OAuth2
	// client_credentials grant.
	CredentialsClientCredentials CredentialMethod = "client_credentials"
)

// Credentials selects the authentication scheme and carries the fields the
// chosen method requires. Unused fields stay empty.
type Credentials struct {
	// Method is one of none, api_token, client_credentials
	Method CredentialMethod `yaml:"method" json:"method"`
	// Token is the pre-shared API token (api_token method)
	Token string `yaml:"token" json:"token,omitempty"`
	// ClientID for the client_credentials grant
	ClientID string `yaml:"client_id" json:"client_id,omitempty"`
	// ClientSecret for the client_credentials grant
	ClientSecret string `yaml:"client_secret" json:"client_secret,omitempty"`
	// Audience requested in the token exchange
	Audience string `yaml:"audience" json:"audience,omitempty"`
	// Issuer is the token endpoint base URL
	Issuer string `yaml:"issuer" json:"issuer,omitempty"`
	// Scopes requested in the token exchange
	Scopes []string `yaml:"scopes" json:"scopes,omitempty"`
}

// Validate checks that the fields required by the selected method are set.
func (c *Credentials) Validate() error {
	switch c.Method {
	case CredentialsNone, "":
		return nil
	case CredentialsAPIToken:
		if c.Token == "" {
			return fmt.Errorf("credentials: api_token method requires token")
		}
		return nil
	case CredentialsClientCredentials:
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("credentials: client_credentials method requires client_id and client_secret")
		}
		if c.Issuer == "" {
			return fmt.Errorf("credentials: client_credentials method requires issuer")
		}
		return nil
	default:
		return fmt.Errorf("credentials: unsupported method %q", c.Method)
	}
}

// RetryConfig is passed through to the client; the pool never interprets it.
type RetryConfig struct {
	// Max is the maximum number of retry attempts for a failed remote call
	Max int `yaml:"max" json:"max"`
	// Delay is the initial delay between retries, grown linearly per attempt
	Delay time.Duration `yaml:"delay" json:"delay"`
}

// Config is the configuration for one logical remote endpoint: the
// connection pool around it plus the client factory settings.
type Config struct {
	// Name identifies the pool instance in logs and metrics
	Name string `yaml:"name" json:"name"`

	// URL is the endpoint address used by the client factory
	URL string `yaml:"url" json:"url"`
	// StoreID selects the authorization store on the remote service
	StoreID string `yaml:"store_id" json:"store_id"`

	// Credentials selects the authentication scheme
	Credentials Credentials `yaml:"credentials" json:"credentials"`

	// MinConnections are created eagerly at pool construction
	MinConnections int `yaml:"min_connections" json:"min_connections"`
	// MaxConnections is the hard cap on total connections
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// MaxIdleTime is the idle duration after which a connection is expired
	MaxIdleTime time.Duration `yaml:"max_idle_time" json:"max_idle_time"`
	// ConnectionTimeout bounds how long Acquire blocks on a saturated pool
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	// IdleSweepInterval enables the background idle reaper when positive
	IdleSweepInterval time.Duration `yaml:"idle_sweep_interval" json:"idle_sweep_interval"`

	// RequestTimeout bounds individual remote calls made by the client
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Retries is forwarded to the client factory
	Retries RetryConfig `yaml:"retries" json:"retries"`
}

// NewConfig creates a Config with production-ready defaults for the named
// pool. Callers override individual fields as needed.
func NewConfig(name string) *Config {
	return &Config{
		Name:              name,
		MinConnections:    2,
		MaxConnections:    10,
		MaxIdleTime:       300 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		IdleSweepInterval: 0, // reaper disabled unless asked for
		RequestTimeout:    30 * time.Second,
		Retries: RetryConfig{
			Max:   3,
			Delay: time.Second,
		},
	}
}

// ApplyDefaults fills zero-valued sizing and timeout fields with the same
// defaults NewConfig uses. Loading a partial YAML file goes through here.
func (c *Config) ApplyDefaults() {
	def := NewConfig(c.Name)
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MinConnections == 0 {
		c.MinConnections = def.MinConnections
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxIdleTime == 0 {
		c.MaxIdleTime = def.MaxIdleTime
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = def.ConnectionTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.Retries.Max == 0 {
		c.Retries.Max = def.Retries.Max
	}
	if c.Retries.Delay == 0 {
		c.Retries.Delay = def.Retries.Delay
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("url is invalid: %w", err)
	}
	if c.MinConnections < 0 {
		return fmt.Errorf("min_connections cannot be negative")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.MaxConnections < c.MinConnections {
		return fmt.Errorf("max_connections (%d) must be >= min_connections (%d)",
			c.MaxConnections, c.MinConnections)
	}
	if c.MaxIdleTime < 0 {
		return fmt.Errorf("max_idle_time cannot be negative")
	}
	if c.ConnectionTimeout < 0 {
		return fmt.Errorf("connection_timeout cannot be negative")
	}
	if c.Retries.Max < 0 {
		return fmt.Errorf("retries.max cannot be negative")
	}
	return c.Credentials.Validate()
}

// HasCredentials reports whether an authentication scheme is configured.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Method != "" && c.Credentials.Method != CredentialsNone
}
