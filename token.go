package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/office365-go/internal/config"
	"github.com/tonimelisma/office365-go/internal/graph"
	"github.com/tonimelisma/office365-go/internal/store"
	"github.com/tonimelisma/office365-go/internal/tokenfile"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage stored OAuth credentials",
	}

	cmd.AddCommand(newTokenImportCmd())
	cmd.AddCommand(newTokenStatusCmd())
	cmd.AddCommand(newTokenRefreshCmd())

	return cmd
}

func newTokenImportCmd() *cobra.Command {
	var (
		access, refresh string
		expiresIn       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store credentials obtained elsewhere",
		Long: `Store an access token and refresh token obtained through an external
authorization flow in the configured credential backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds := graph.Credentials{AccessToken: access, RefreshToken: refresh}
			if expiresIn > 0 {
				creds.ExpiresAt = time.Now().Add(expiresIn)
			}

			return runTokenImport(cmd.Context(), creds)
		},
	}

	cmd.Flags().StringVar(&access, "access", "", "access token")
	cmd.Flags().StringVar(&refresh, "refresh", "", "refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "access token lifetime (0 for unknown)")

	if err := cmd.MarkFlagRequired("refresh"); err != nil {
		panic(err)
	}

	return cmd
}

func runTokenImport(ctx context.Context, creds graph.Credentials) error {
	cc := mustCLIContext(ctx)
	cfg := cc.Cfg

	if cfg.Storage.CredentialBackend == config.CredentialBackendDB {
		st, err := store.Open(ctx, cfg.Storage.StateDB, cc.Logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SaveCredentials(ctx, cfg.Graph.User, creds); err != nil {
			return err
		}
	} else {
		meta, err := tokenfile.ReadMeta(cfg.Storage.TokenFile)
		if err != nil {
			return err
		}

		if meta == nil {
			meta = map[string]string{}
		}

		meta[tokenfile.MetaTokenURL] = appCredentials(cfg).TokenURL

		if err := tokenfile.Save(cfg.Storage.TokenFile, creds, meta); err != nil {
			return err
		}
	}

	cc.Statusf("Credentials stored in %s.\n", credentialLocation(cfg))

	return nil
}

// tokenStatus is the JSON schema for `token status --json`.
type tokenStatus struct {
	Backend         string     `json:"backend"`
	Location        string     `json:"location"`
	Account         string     `json:"account,omitempty"`
	Valid           bool       `json:"valid"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

func newTokenStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether stored credentials are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenStatus(cmd.Context())
		},
	}
}

func runTokenStatus(ctx context.Context) error {
	cc := mustCLIContext(ctx)
	cfg := cc.Cfg

	creds, account, err := readStoredCredentials(ctx, cc)
	if err != nil {
		return err
	}

	// oauth2 applies its expiry skew, so "valid" means usable for a while yet.
	tok := tokenfile.FromCredentials(creds)

	status := tokenStatus{
		Backend:         cfg.Storage.CredentialBackend,
		Location:        credentialLocation(cfg),
		Account:         account,
		Valid:           tok.Valid(),
		HasRefreshToken: creds.RefreshToken != "",
	}

	if !creds.ExpiresAt.IsZero() {
		status.ExpiresAt = &creds.ExpiresAt
	}

	if cc.JSON {
		return printJSON(cc.Out, status)
	}

	state := "expired"
	if status.Valid {
		state = "valid"
	}

	expiry := "unknown"
	if status.ExpiresAt != nil {
		expiry = formatAge(*status.ExpiresAt)
	}

	fmt.Fprintf(cc.Out, "Location: %s\n", status.Location)

	if account != "" {
		fmt.Fprintf(cc.Out, "Account:  %s\n", account)
	}

	fmt.Fprintf(cc.Out, "Access:   %s (expires %s)\n", state, expiry)
	fmt.Fprintf(cc.Out, "Refresh:  %t\n", status.HasRefreshToken)

	return nil
}

// readStoredCredentials loads credentials without building a session. The
// account is the mail address recorded by whoami, if any.
func readStoredCredentials(ctx context.Context, cc *CLIContext) (graph.Credentials, string, error) {
	cfg := cc.Cfg

	if cfg.Storage.CredentialBackend == config.CredentialBackendDB {
		st, err := store.Open(ctx, cfg.Storage.StateDB, cc.Logger)
		if err != nil {
			return graph.Credentials{}, "", err
		}
		defer st.Close()

		creds, err := st.LoadCredentials(ctx, cfg.Graph.User)
		if errors.Is(err, store.ErrNoCredentials) {
			return graph.Credentials{}, "", errNoCredentials
		}

		return creds, cfg.Graph.User, err
	}

	creds, meta, err := tokenfile.Load(cfg.Storage.TokenFile)
	if errors.Is(err, tokenfile.ErrNotFound) {
		return graph.Credentials{}, "", errNoCredentials
	}

	if err != nil {
		return graph.Credentials{}, "", err
	}

	return creds, meta[tokenfile.MetaMail], nil
}

func newTokenRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Redeem the refresh token for a new access token now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTokenRefresh(cmd.Context())
		},
	}
}

func runTokenRefresh(ctx context.Context) error {
	cc := mustCLIContext(ctx)

	s, err := newSession(ctx, cc, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Authority.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}

	creds := s.Authority.Credentials()

	expiry := "unknown"
	if !creds.ExpiresAt.IsZero() {
		expiry = formatAge(creds.ExpiresAt)
	}

	cc.Statusf("Token refreshed, expires %s.\n", expiry)

	return nil
}
