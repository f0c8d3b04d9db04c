package config

import (
	"fmt"
	"io"
	"strings"
)

// secretMask replaces the client secret in rendered output.
const secretMask = "********"

// RenderEffective writes the resolved configuration to w as annotated TOML.
// This powers "config show": the values after all override layers have
// been applied. The client secret is masked.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	ew.section("app")
	ew.kv("client_id", fmt.Sprintf("%q", cfg.App.ClientID))

	if cfg.App.ClientSecret != "" {
		ew.kv("client_secret", fmt.Sprintf("%q", secretMask))
	}

	ew.kv("redirect_uri", fmt.Sprintf("%q", cfg.App.RedirectURI))
	ew.kv("resource", fmt.Sprintf("%q", cfg.App.Resource))
	ew.kv("token_url", fmt.Sprintf("%q", cfg.App.TokenURL))
	ew.kv("tenant", fmt.Sprintf("%q", cfg.App.Tenant))

	if len(cfg.App.Scopes) > 0 {
		ew.kv("scopes", "["+joinQuoted(cfg.App.Scopes)+"]")
	}

	ew.section("graph")
	ew.kv("base_url", fmt.Sprintf("%q", cfg.Graph.BaseURL))
	ew.kv("api_version", fmt.Sprintf("%q", cfg.Graph.APIVersion))
	ew.kv("user", fmt.Sprintf("%q", cfg.Graph.User))
	ew.kv("calendar_page_size", fmt.Sprintf("%d", cfg.Graph.CalendarPageSize))
	ew.kv("max_pages", fmt.Sprintf("%d", cfg.Graph.MaxPages))

	ew.section("auth")
	ew.kv("refresh_retries", fmt.Sprintf("%d", cfg.Auth.RefreshRetries))
	ew.kv("backoff_base", fmt.Sprintf("%q", cfg.Auth.BackoffBase))
	ew.kv("backoff_max", fmt.Sprintf("%q", cfg.Auth.BackoffMax))

	ew.section("network")
	ew.kv("timeout", fmt.Sprintf("%q", cfg.Network.Timeout))
	ew.kv("requests_per_second", fmt.Sprintf("%g", cfg.Network.RequestsPerSecond))
	ew.kv("burst", fmt.Sprintf("%d", cfg.Network.Burst))
	ew.kv("user_agent", fmt.Sprintf("%q", cfg.Network.UserAgent))

	ew.section("storage")
	ew.kv("token_file", fmt.Sprintf("%q", cfg.Storage.TokenFile))
	ew.kv("state_db", fmt.Sprintf("%q", cfg.Storage.StateDB))
	ew.kv("credential_backend", fmt.Sprintf("%q", cfg.Storage.CredentialBackend))

	ew.section("logging")
	ew.kv("log_level", fmt.Sprintf("%q", cfg.Logging.LogLevel))
	ew.kv("log_format", fmt.Sprintf("%q", cfg.Logging.LogFormat))

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w       io.Writer
	err     error
	started bool
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) section(name string) {
	if ew.started {
		ew.printf("\n")
	}

	ew.started = true
	ew.printf("[%s]\n", name)
}

func (ew *errWriter) kv(key, value string) {
	ew.printf("%-20s = %s\n", key, value)
}

func joinQuoted(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}
