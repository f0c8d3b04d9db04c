// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for office365-go. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	App     AppConfig     `toml:"app"`
	Graph   GraphConfig   `toml:"graph"`
	Auth    AuthConfig    `toml:"auth"`
	Network NetworkConfig `toml:"network"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

// AppConfig identifies the registered Azure AD application. Resource is used
// with the v1 token endpoint, Scopes with v2. TokenURL wins over Tenant; with
// neither set the common v1 endpoint is used.
type AppConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	Resource     string   `toml:"resource"`
	TokenURL     string   `toml:"token_url"`
	Tenant       string   `toml:"tenant"`
	Scopes       []string `toml:"scopes"`
}

// GraphConfig controls the API endpoint and paging.
type GraphConfig struct {
	BaseURL          string `toml:"base_url"`
	APIVersion       string `toml:"api_version"`
	User             string `toml:"user"`
	CalendarPageSize int    `toml:"calendar_page_size"`
	MaxPages         int    `toml:"max_pages"`
}

// APIRoot returns the versioned API root, e.g. https://graph.microsoft.com/v1.0.
func (g GraphConfig) APIRoot() string {
	return strings.TrimRight(g.BaseURL, "/") + "/" + g.APIVersion
}

// AuthConfig controls token refresh retries.
type AuthConfig struct {
	RefreshRetries int    `toml:"refresh_retries"`
	BackoffBase    string `toml:"backoff_base"`
	BackoffMax     string `toml:"backoff_max"`
}

// Backoff returns the parsed backoff bounds. Call only on a validated config.
func (a AuthConfig) Backoff() (base, maxDelay time.Duration) {
	return mustDuration(a.BackoffBase), mustDuration(a.BackoffMax)
}

// NetworkConfig controls HTTP behavior.
type NetworkConfig struct {
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	UserAgent         string  `toml:"user_agent"`
}

// TimeoutDuration returns the parsed HTTP timeout. Call only on a validated
// config.
func (n NetworkConfig) TimeoutDuration() time.Duration {
	return mustDuration(n.Timeout)
}

// Credential backends.
const (
	CredentialBackendFile = "file"
	CredentialBackendDB   = "db"
)

// StorageConfig locates the token file and the state database. Empty paths
// resolve to files under DefaultDataDir.
type StorageConfig struct {
	TokenFile         string `toml:"token_file"`
	StateDB           string `toml:"state_db"`
	CredentialBackend string `toml:"credential_backend"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// mustDuration parses a duration that Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
