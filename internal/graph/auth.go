package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"
)

// LegacyTokenURL is the Azure AD v1 token endpoint the refresh flow was
// designed against. It requires the "resource" parameter.
const LegacyTokenURL = "https://login.microsoftonline.com/common/oauth2/token"

// DefaultResource is the v1 resource identifier for Microsoft Graph.
const DefaultResource = "https://graph.microsoft.com/"

// V2TokenURL returns the Azure AD v2.0 token endpoint for a tenant.
func V2TokenURL(tenant string) string {
	return microsoft.AzureADEndpoint(tenant).TokenURL
}

// maxTokenErrorBody bounds how much of a failed token response is kept.
const maxTokenErrorBody = 4096

// Credentials is the token triple owned by an Authority. It is always
// replaced as a unit.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry. A zero
// ExpiresAt is treated as unknown, not expired.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// LogValue implements slog.LogValuer. Tokens never reach the logs; only
// their presence and the expiry do.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("access_token", c.AccessToken != ""),
		slog.Bool("refresh_token", c.RefreshToken != ""),
		slog.Time("expires_at", c.ExpiresAt),
	)
}

// CredentialSink persists credentials after every successful refresh.
// Defined at the consumer; tokenfile and store provide implementations.
type CredentialSink interface {
	SaveCredentials(ctx context.Context, creds Credentials) error
}

// CredentialSinkFunc adapts a function to CredentialSink.
type CredentialSinkFunc func(ctx context.Context, creds Credentials) error

func (f CredentialSinkFunc) SaveCredentials(ctx context.Context, creds Credentials) error {
	return f(ctx, creds)
}

// AppCredentials identifies the registered application to the token endpoint.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Resource is sent for the v1 endpoint. Leave empty for v2.
	Resource string
	// Scopes are sent space-joined for the v2 endpoint. Leave empty for v1.
	Scopes   []string
	TokenURL string
}

// AuthState is the refresh state machine: Valid or Refreshing.
type AuthState int

const (
	AuthValid AuthState = iota
	AuthRefreshing
)

func (s AuthState) String() string {
	if s == AuthRefreshing {
		return "refreshing"
	}

	return "valid"
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(hc *http.Client) AuthorityOption {
	return func(a *Authority) {
		if hc != nil {
			a.httpClient = hc
		}
	}
}

// WithCredentialSink sets the sink notified after each successful refresh.
func WithCredentialSink(sink CredentialSink) AuthorityOption {
	return func(a *Authority) {
		a.sink = sink
	}
}

// WithRefreshPolicy overrides the attempt budget and backoff used by Refresh.
func WithRefreshPolicy(p RetryPolicy) AuthorityOption {
	return func(a *Authority) {
		a.policy = p
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(logger *slog.Logger) AuthorityOption {
	return func(a *Authority) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Authority owns the current Credentials and renews the access token with the
// refresh token. It is safe for concurrent use: the credentials sit behind a
// RWMutex and concurrent refreshes collapse into a single token request.
type Authority struct {
	app        AppCredentials
	httpClient *http.Client
	sink       CredentialSink
	policy     RetryPolicy
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu    sync.RWMutex
	creds Credentials
	state AuthState

	flight singleflight.Group
}

// NewAuthority creates an Authority holding the given initial credentials.
func NewAuthority(app AppCredentials, creds Credentials, opts ...AuthorityOption) *Authority {
	if app.TokenURL == "" {
		app.TokenURL = LegacyTokenURL
	}

	a := &Authority{
		app:        app,
		httpClient: http.DefaultClient,
		policy:     defaultRefreshPolicy(),
		logger:     slog.Default(),
		nowFunc:    time.Now,
		creds:      creds,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Credentials returns a snapshot of the held credentials.
func (a *Authority) Credentials() Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.creds
}

// AccessToken returns the current access token.
func (a *Authority) AccessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.creds.AccessToken
}

// State reports whether a refresh is in flight.
func (a *Authority) State() AuthState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.state
}

// Replace swaps in credentials obtained elsewhere, e.g. a token file updated
// by another process. The sink is not called.
func (a *Authority) Replace(creds Credentials) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.creds = creds
}

// Refresh renews the access token using the configured retry budget.
func (a *Authority) Refresh(ctx context.Context) error {
	return a.RefreshWithRetries(ctx, a.policy.MaxAttempts)
}

// RefreshWithRetries renews the access token, making at most maxRetries
// token requests. Callers arriving while a refresh is in flight wait for and
// share its outcome. A failure wraps ErrAuthExpired: the refresh token is no
// longer usable and the user must re-authenticate out of band.
//
// The shared refresh is detached from the first caller's cancellation so one
// abandoned request cannot fail the others waiting on it. It also runs with
// the first caller's maxRetries: a joining caller's budget is ignored, so a
// refresh token is never redeemed by two requests at once.
func (a *Authority) RefreshWithRetries(ctx context.Context, maxRetries int) error {
	refreshCtx := context.WithoutCancel(ctx)

	ch := a.flight.DoChan("refresh", func() (any, error) {
		return nil, a.refresh(refreshCtx, maxRetries)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// refresh runs one deduplicated refresh cycle.
func (a *Authority) refresh(ctx context.Context, maxRetries int) error {
	a.mu.Lock()
	refreshToken := a.creds.RefreshToken
	if refreshToken == "" {
		a.mu.Unlock()
		return fmt.Errorf("%w: no refresh token held", ErrAuthExpired)
	}

	a.state = AuthRefreshing
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.state = AuthValid
		a.mu.Unlock()
	}()

	a.logger.Info("refreshing access token",
		slog.String("token_url", a.app.TokenURL),
		slog.Int("max_attempts", maxRetries),
	)

	policy := a.policy
	policy.MaxAttempts = maxRetries

	var (
		attempt int
		newTok  Credentials
	)

	err := policy.Do(ctx, func(ctx context.Context) error {
		attempt++

		creds, reqErr := a.requestToken(ctx, refreshToken)
		if reqErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			a.logger.Warn("token refresh attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", reqErr.Error()),
			)

			return retry.RetryableError(reqErr)
		}

		newTok = creds

		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		a.logger.Error("token refresh failed, retry budget exhausted",
			slog.Int("attempts", attempt),
		)

		return fmt.Errorf("%w: %w", ErrAuthExpired, err)
	}

	if newTok.RefreshToken == "" {
		newTok.RefreshToken = refreshToken
	}

	a.mu.Lock()
	a.creds = newTok
	a.mu.Unlock()

	a.logger.Info("access token refreshed",
		slog.Int("attempts", attempt),
		slog.Time("expiry", newTok.ExpiresAt),
	)

	if a.sink != nil {
		if sinkErr := a.sink.SaveCredentials(ctx, newTok); sinkErr != nil {
			a.logger.Warn("failed to persist refreshed credentials",
				slog.String("error", sinkErr.Error()),
			)
		}
	}

	return nil
}

// tokenResponse mirrors the token endpoint's success body. expires_on is an
// epoch timestamp that v1 sends as a string and some proxies as a number.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresOn    json.Number `json:"expires_on"`
	ExpiresIn    json.Number `json:"expires_in"`
}

// tokenStatusError is a non-200 answer from the token endpoint.
type tokenStatusError struct {
	StatusCode int
	Body       string
}

func (e *tokenStatusError) Error() string {
	return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// requestToken performs a single refresh_token grant.
func (a *Authority) requestToken(ctx context.Context, refreshToken string) (Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {a.app.ClientID},
		"refresh_token": {refreshToken},
	}

	if a.app.ClientSecret != "" {
		form.Set("client_secret", a.app.ClientSecret)
	}

	if a.app.RedirectURI != "" {
		form.Set("redirect_uri", a.app.RedirectURI)
	}

	if a.app.Resource != "" {
		form.Set("resource", a.app.Resource)
	}

	if len(a.app.Scopes) > 0 {
		form.Set("scope", strings.Join(a.app.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.app.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Credentials{}, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("sending token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxTokenErrorBody))
		return Credentials{}, &tokenStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Credentials{}, fmt.Errorf("decoding token response: %w", err)
	}

	if tr.AccessToken == "" {
		return Credentials{}, errors.New("token response missing access_token")
	}

	return Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    a.expiry(tr),
	}, nil
}

// expiry converts expires_on (absolute) or expires_in (relative) to a time.
func (a *Authority) expiry(tr tokenResponse) time.Time {
	if secs, err := strconv.ParseInt(tr.ExpiresOn.String(), 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}

	if secs, err := strconv.ParseInt(tr.ExpiresIn.String(), 10, 64); err == nil && secs > 0 {
		return a.nowFunc().Add(time.Duration(secs) * time.Second)
	}

	return time.Time{}
}
