package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/office365-go/internal/config"
	"github.com/tonimelisma/office365-go/internal/tokenfile"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the profile of the configured mailbox",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	s, err := newSession(ctx, cc, false)
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.Scope.Profile(ctx)
	if err != nil {
		return fmt.Errorf("fetching profile: %w", err)
	}

	// Remember who the token file belongs to for `token status`.
	if cc.Cfg.Storage.CredentialBackend == config.CredentialBackendFile {
		meta := map[string]string{tokenfile.MetaUserID: user.ID, tokenfile.MetaMail: user.Email()}
		if err := tokenfile.MergeMeta(cc.Cfg.Storage.TokenFile, meta); err != nil {
			cc.Logger.Warn("recording account metadata", slog.String("error", err.Error()))
		}
	}

	out := whoamiOutput{ID: user.ID, DisplayName: user.DisplayName, Email: user.Email()}

	if cc.JSON {
		return printJSON(cc.Out, out)
	}

	fmt.Fprintf(cc.Out, "Name:  %s\n", out.DisplayName)
	fmt.Fprintf(cc.Out, "Email: %s\n", out.Email)
	fmt.Fprintf(cc.Out, "ID:    %s\n", out.ID)

	return nil
}
