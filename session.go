package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/office365-go/internal/config"
	"github.com/tonimelisma/office365-go/internal/graph"
	"github.com/tonimelisma/office365-go/internal/store"
	"github.com/tonimelisma/office365-go/internal/tokenfile"
)

// errNoCredentials points the user at token import.
var errNoCredentials = errors.New("no stored credentials, run 'o365 token import' first")

// Session holds the authenticated client for the configured mailbox and,
// when opened, the state database.
type Session struct {
	Client    *graph.Client
	Authority *graph.Authority
	Scope     *graph.UserScope
	// Store is nil unless the session was opened with a state database.
	Store *store.Store

	account string
	cc      *CLIContext
}

// newSession loads credentials from the configured backend and wires the
// authority, client, and user scope. withStore opens the state database even
// when credentials live in the token file.
func newSession(ctx context.Context, cc *CLIContext, withStore bool) (*Session, error) {
	cfg := cc.Cfg

	s := &Session{account: cfg.Graph.User, cc: cc}

	if withStore || cfg.Storage.CredentialBackend == config.CredentialBackendDB {
		st, err := store.Open(ctx, cfg.Storage.StateDB, cc.Logger)
		if err != nil {
			return nil, err
		}

		s.Store = st
	}

	creds, sink, err := s.loadCredentials(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Network.TimeoutDuration()}
	base, maxDelay := cfg.Auth.Backoff()

	s.Authority = graph.NewAuthority(appCredentials(cfg), creds,
		graph.WithHTTPClient(httpClient),
		graph.WithCredentialSink(sink),
		graph.WithRefreshPolicy(graph.RetryPolicy{
			MaxAttempts: cfg.Auth.RefreshRetries,
			Backoff:     graph.ExponentialBackoff(base, maxDelay),
		}),
		graph.WithAuthLogger(cc.Logger),
	)

	opts := []graph.ClientOption{
		graph.WithUserAgent(cfg.Network.UserAgent),
		graph.WithMaxPages(cfg.Graph.MaxPages),
	}

	if cfg.Network.RequestsPerSecond > 0 {
		opts = append(opts, graph.WithRateLimit(cfg.Network.RequestsPerSecond, cfg.Network.Burst))
	}

	s.Client = graph.NewClient(cfg.Graph.APIRoot(), httpClient, s.Authority, cc.Logger, opts...)
	s.Scope = s.Client.User(cfg.Graph.User)

	cc.Logger.Debug("session ready",
		slog.String("scope", s.Scope.Prefix()),
		slog.String("credential_backend", cfg.Storage.CredentialBackend),
	)

	return s, nil
}

func (s *Session) loadCredentials(ctx context.Context) (graph.Credentials, graph.CredentialSink, error) {
	if s.cc.Cfg.Storage.CredentialBackend == config.CredentialBackendDB {
		creds, err := s.Store.LoadCredentials(ctx, s.account)
		if errors.Is(err, store.ErrNoCredentials) {
			return graph.Credentials{}, nil, errNoCredentials
		}

		if err != nil {
			return graph.Credentials{}, nil, err
		}

		return creds, s.Store.CredentialSink(s.account), nil
	}

	path := s.cc.Cfg.Storage.TokenFile

	creds, _, err := tokenfile.Load(path)
	if errors.Is(err, tokenfile.ErrNotFound) {
		return graph.Credentials{}, nil, errNoCredentials
	}

	if err != nil {
		return graph.Credentials{}, nil, err
	}

	return creds, tokenfile.NewSink(path), nil
}

// WatchCredentials feeds token file rewrites by other processes into the
// authority until ctx ends. No-op for the database backend.
func (s *Session) WatchCredentials(ctx context.Context) {
	if s.cc.Cfg.Storage.CredentialBackend != config.CredentialBackendFile {
		return
	}

	go func() {
		if err := tokenfile.Watch(ctx, s.cc.Cfg.Storage.TokenFile, s.cc.Logger, s.Authority.Replace); err != nil {
			s.cc.Logger.Warn("token file watch stopped", slog.String("error", err.Error()))
		}
	}()
}

// Close releases the state database, if open.
func (s *Session) Close() {
	if s.Store == nil {
		return
	}

	if err := s.Store.Close(); err != nil {
		s.cc.Logger.Warn("closing state database", slog.String("error", err.Error()))
	}
}

// appCredentials maps the [app] section onto the token endpoint settings:
// an explicit token_url wins, then a tenant selects the v2 endpoint, else the
// common v1 endpoint. Resource is only sent to v1, scopes only to v2.
func appCredentials(cfg *config.Config) graph.AppCredentials {
	app := graph.AppCredentials{
		ClientID:     cfg.App.ClientID,
		ClientSecret: cfg.App.ClientSecret,
		RedirectURI:  cfg.App.RedirectURI,
		Resource:     cfg.App.Resource,
		Scopes:       cfg.App.Scopes,
		TokenURL:     cfg.App.TokenURL,
	}

	if app.TokenURL == "" {
		app.TokenURL = graph.LegacyTokenURL
		if cfg.App.Tenant != "" {
			app.TokenURL = graph.V2TokenURL(cfg.App.Tenant)
		}
	}

	if len(app.Scopes) > 0 {
		app.Resource = ""
	}

	return app
}

// credentialLocation describes where credentials are kept, for messages.
func credentialLocation(cfg *config.Config) string {
	if cfg.Storage.CredentialBackend == config.CredentialBackendDB {
		return fmt.Sprintf("%s (account %s)", cfg.Storage.StateDB, cfg.Graph.User)
	}

	return cfg.Storage.TokenFile
}
