// Command integration-bootstrap creates the .testdata/ credentials used by
// the live integration and E2E tests.
//
// It redeems a refresh token obtained out of band (an interactive consent
// in a browser, or a CI secret) so the stored token is known to work, then
// records the test mailbox in the token file's metadata.
//
// Usage: go run ./cmd/integration-bootstrap --client-id <id> --tenant <tenant>
//
// The refresh token is read from O365_TEST_REFRESH_TOKEN, which may also
// be set in .env at the module root.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/office365-go/internal/graph"
	"github.com/tonimelisma/office365-go/internal/tokenfile"
	"github.com/tonimelisma/office365-go/testutil"
)

const envRefreshToken = "O365_TEST_REFRESH_TOKEN"

// testConfig is the subset of the CLI config the live tests need.
type testConfig struct {
	App struct {
		ClientID string `toml:"client_id"`
		Tenant   string `toml:"tenant,omitempty"`
	} `toml:"app"`
	Graph struct {
		User string `toml:"user"`
	} `toml:"graph"`
	Logging struct {
		LogLevel string `toml:"log_level"`
	} `toml:"logging"`
}

func main() {
	clientID := flag.String("client-id", os.Getenv("O365_TEST_CLIENT_ID"), "Azure AD application (client) ID")
	tenant := flag.String("tenant", os.Getenv("O365_TEST_TENANT"), "tenant for the v2 token endpoint (empty: common v1)")
	flag.Parse()

	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := run(context.Background(), root, *clientID, *tenant, logger); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Test credentials written to .testdata/.")
}

func run(ctx context.Context, root, clientID, tenant string, logger *slog.Logger) error {
	refresh := os.Getenv(envRefreshToken)
	if clientID == "" || refresh == "" {
		return errors.New("--client-id and " + envRefreshToken + " are required")
	}

	user := testutil.RequireAllowedUser()

	dir := filepath.Join(root, ".testdata")
	if err := os.MkdirAll(dir, tokenfile.DirPerms); err != nil {
		return err
	}

	app := graph.AppCredentials{
		ClientID:     clientID,
		ClientSecret: os.Getenv("O365_CLIENT_SECRET"),
		Resource:     graph.DefaultResource,
		TokenURL:     graph.LegacyTokenURL,
	}

	if tenant != "" {
		app.TokenURL = graph.V2TokenURL(tenant)
		app.Resource = ""
		app.Scopes = []string{"offline_access", "https://graph.microsoft.com/.default"}
	}

	tokenPath := filepath.Join(dir, testutil.TokenFileName)
	httpClient := &http.Client{Timeout: time.Minute}

	auth := graph.NewAuthority(app, graph.Credentials{RefreshToken: refresh},
		graph.WithHTTPClient(httpClient),
		graph.WithCredentialSink(tokenfile.NewSink(tokenPath)),
		graph.WithAuthLogger(logger),
	)

	if err := auth.Refresh(ctx); err != nil {
		return fmt.Errorf("redeeming refresh token: %w", err)
	}

	client := graph.NewClient(graph.DefaultBaseURL, httpClient, auth, logger)

	profile, err := client.User(user).Profile(ctx)
	if err != nil {
		return fmt.Errorf("reading profile of %s: %w", user, err)
	}

	meta := map[string]string{
		tokenfile.MetaUserID:   profile.ID,
		tokenfile.MetaMail:     profile.Email(),
		tokenfile.MetaTokenURL: app.TokenURL,
	}

	if err := tokenfile.MergeMeta(tokenPath, meta); err != nil {
		return err
	}

	var cfg testConfig
	cfg.App.ClientID = clientID
	cfg.App.Tenant = tenant
	cfg.Graph.User = user
	cfg.Logging.LogLevel = "debug"

	f, err := os.OpenFile(filepath.Join(dir, testutil.ConfigFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, tokenfile.FilePerms)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing test config: %w", err)
	}

	logger.Info("bootstrapped test mailbox",
		slog.String("user", profile.Email()),
		slog.String("token_url", app.TokenURL),
	)

	return nil
}
