package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	maxCalendarPageSize = 1000
	maxRefreshRetries   = 10
	minTimeout          = 1 * time.Second
	minBackoffBase      = 1 * time.Millisecond
)

var validAPIVersions = map[string]bool{
	"v1.0": true,
	"beta": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

var validCredentialBackends = map[string]bool{
	CredentialBackendFile: true,
	CredentialBackendDB:   true,
}

// Validate checks all configuration values and returns every error found
// joined together, so one run reports everything that needs fixing.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateApp(&cfg.App)...)
	errs = append(errs, validateGraph(&cfg.Graph)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateApp(a *AppConfig) []error {
	var errs []error

	if a.TokenURL != "" {
		errs = append(errs, validateAbsoluteURL("app.token_url", a.TokenURL)...)
	}

	if a.RedirectURI != "" {
		errs = append(errs, validateAbsoluteURL("app.redirect_uri", a.RedirectURI)...)
	}

	for i, s := range a.Scopes {
		if s == "" {
			errs = append(errs, fmt.Errorf("app.scopes[%d]: must not be empty", i))
		}
	}

	return errs
}

func validateGraph(g *GraphConfig) []error {
	var errs []error

	errs = append(errs, validateAbsoluteURL("graph.base_url", g.BaseURL)...)

	if !validAPIVersions[g.APIVersion] {
		errs = append(errs, fmt.Errorf("graph.api_version: must be one of v1.0, beta; got %q", g.APIVersion))
	}

	if g.User == "" {
		errs = append(errs, errors.New("graph.user: must not be empty (use \"me\" for the signed-in user)"))
	}

	if g.CalendarPageSize < 1 || g.CalendarPageSize > maxCalendarPageSize {
		errs = append(errs, fmt.Errorf("graph.calendar_page_size: must be between 1 and %d, got %d",
			maxCalendarPageSize, g.CalendarPageSize))
	}

	if g.MaxPages < 1 {
		errs = append(errs, fmt.Errorf("graph.max_pages: must be >= 1, got %d", g.MaxPages))
	}

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.RefreshRetries < 1 || a.RefreshRetries > maxRefreshRetries {
		errs = append(errs, fmt.Errorf("auth.refresh_retries: must be between 1 and %d, got %d",
			maxRefreshRetries, a.RefreshRetries))
	}

	base, baseErrs := validateDurationMin("auth.backoff_base", a.BackoffBase, minBackoffBase)
	errs = append(errs, baseErrs...)

	maxDelay, maxErrs := validateDurationMin("auth.backoff_max", a.BackoffMax, minBackoffBase)
	errs = append(errs, maxErrs...)

	if len(baseErrs) == 0 && len(maxErrs) == 0 && maxDelay < base {
		errs = append(errs, fmt.Errorf("auth.backoff_max: must be >= backoff_base (%s), got %s", base, maxDelay))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	_, timeoutErrs := validateDurationMin("network.timeout", n.Timeout, minTimeout)
	errs = append(errs, timeoutErrs...)

	if n.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("network.requests_per_second: must be >= 0, got %g", n.RequestsPerSecond))
	}

	if n.RequestsPerSecond > 0 && n.Burst < 1 {
		errs = append(errs, fmt.Errorf("network.burst: must be >= 1 when rate limiting, got %d", n.Burst))
	}

	if n.UserAgent == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}

func validateStorage(s *StorageConfig) []error {
	if !validCredentialBackends[s.CredentialBackend] {
		return []error{fmt.Errorf("storage.credential_backend: must be one of file, db; got %q",
			s.CredentialBackend)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

func validateDurationMin(field, value string, minDur time.Duration) (time.Duration, []error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minDur {
		return d, []error{fmt.Errorf("%s: must be >= %s, got %s", field, minDur, d)}
	}

	return d, nil
}

func validateAbsoluteURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute URL, got %q", field, value)}
	}

	return nil
}
