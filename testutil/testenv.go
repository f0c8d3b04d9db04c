// Package testutil provides shared environment helpers for the live E2E and
// integration tests. It depends only on stdlib so that E2E tests (which
// cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Environment variables read by the live tests.
const (
	// EnvTestUser names the mailbox the live tests act on.
	EnvTestUser = "O365_TEST_USER"
	// EnvAllowedAccounts is a comma-separated allowlist of test mailboxes.
	EnvAllowedAccounts = "O365_ALLOWED_TEST_ACCOUNTS"
)

// Files expected in the credential directory.
const (
	TokenFileName  = "token.json"
	ConfigFileName = "config.toml"
	StateDBName    = "state.db"
	appDirName     = "office365-go"
)

// productionEnvVars are the CLI's own variables; a live test must never see
// them.
var productionEnvVars = []string{"O365_CONFIG", "O365_USER", "O365_CLIENT_SECRET"}

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}

// RequireAllowedUser crashes the process unless O365_TEST_USER is set and
// listed in O365_ALLOWED_TEST_ACCOUNTS. Live tests create and delete
// mailbox content, so they must never run against an arbitrary account.
func RequireAllowedUser() string {
	allowlist := os.Getenv(EnvAllowedAccounts)
	if allowlist == "" {
		fatalf("%s not set\nExample: %s=test@contoso.onmicrosoft.com", EnvAllowedAccounts, EnvAllowedAccounts)
	}

	user := os.Getenv(EnvTestUser)
	if user == "" {
		fatalf("%s not set", EnvTestUser)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), user) {
			return user
		}
	}

	fatalf("%s=%q is not in %s=%q", EnvTestUser, user, EnvAllowedAccounts, allowlist)

	return ""
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FindTestCredentialDir locates .testdata/ relative to the module root and
// checks it holds a token file and a config. Crashes otherwise.
func FindTestCredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")

	for _, name := range []string{TokenFileName, ConfigFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			fatalf("%s not found in %s\nRun `go run ./cmd/integration-bootstrap` to create test credentials.", name, dir)
		}
	}

	return dir
}

// Isolation is a temporary HOME and XDG tree holding copies of the test
// credentials.
type Isolation struct {
	Root      string
	ConfigDir string
	DataDir   string
	credDir   string
}

// TokenPath is the isolated token file.
func (iso *Isolation) TokenPath() string { return filepath.Join(iso.DataDir, TokenFileName) }

// ConfigPath is the isolated config file.
func (iso *Isolation) ConfigPath() string { return filepath.Join(iso.ConfigDir, ConfigFileName) }

// Isolate points HOME and the XDG variables at a fresh temp tree, copies the
// token and config from credDir into it, and verifies nothing resolves to
// the real home. Call Restore when done.
func Isolate(prefix, credDir string) *Isolation {
	for _, v := range productionEnvVars {
		os.Unsetenv(v)
	}

	root, err := os.MkdirTemp("", prefix+"-*")
	if err != nil {
		fatalf("creating isolation temp dir: %v", err)
	}

	home := filepath.Join(root, "home")
	xdgConfig := filepath.Join(root, "config")
	xdgData := filepath.Join(root, "data")
	xdgCache := filepath.Join(root, "cache")

	iso := &Isolation{
		Root:      root,
		ConfigDir: filepath.Join(xdgConfig, appDirName),
		DataDir:   filepath.Join(xdgData, appDirName),
		credDir:   credDir,
	}

	// macOS keeps config and data together under Application Support.
	if runtime.GOOS == "darwin" {
		iso.ConfigDir = filepath.Join(home, "Library", "Application Support", appDirName)
		iso.DataDir = iso.ConfigDir
	}

	for _, d := range []string{home, xdgCache, iso.ConfigDir, iso.DataDir} {
		if mkErr := os.MkdirAll(d, 0o700); mkErr != nil {
			fatalf("creating dir %s: %v", d, mkErr)
		}
	}

	os.Setenv("HOME", home)
	os.Setenv("XDG_CONFIG_HOME", xdgConfig)
	os.Setenv("XDG_DATA_HOME", xdgData)
	os.Setenv("XDG_CACHE_HOME", xdgCache)

	CopyFile(filepath.Join(credDir, TokenFileName), iso.TokenPath(), 0o600)
	CopyFile(filepath.Join(credDir, ConfigFileName), iso.ConfigPath(), 0o600)

	iso.verify()

	fmt.Fprintf(os.Stderr, "test isolation: HOME=%s (credentials from %s)\n", home, credDir)

	return iso
}

// StateDBPath is the isolated state database.
func (iso *Isolation) StateDBPath() string { return filepath.Join(iso.DataDir, StateDBName) }

// verify crashes if any production path could leak into the tests.
func (iso *Isolation) verify() {
	for _, v := range productionEnvVars {
		if os.Getenv(v) != "" {
			fatalf("isolation: %s is set", v)
		}
	}

	for _, v := range []string{"HOME", "XDG_DATA_HOME", "XDG_CONFIG_HOME", "XDG_CACHE_HOME"} {
		if val := os.Getenv(v); !strings.HasPrefix(val, iso.Root) {
			fatalf("isolation: %s=%q is not under %s", v, val, iso.Root)
		}
	}

	if home, _ := os.UserHomeDir(); !strings.HasPrefix(home, iso.Root) {
		fatalf("isolation: UserHomeDir() returns %s", home)
	}
}

// Restore copies a rotated token back to the credential directory, so the
// next run starts from the newest refresh token, and removes the temp tree.
func (iso *Isolation) Restore() {
	data, err := os.ReadFile(iso.TokenPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: cannot read rotated token %s: %v\n", iso.TokenPath(), err)
	} else if writeErr := os.WriteFile(filepath.Join(iso.credDir, TokenFileName), data, 0o600); writeErr != nil {
		fmt.Fprintf(os.Stderr, "WARNING: cannot write rotated token back: %v\n", writeErr)
	}

	os.RemoveAll(iso.Root)
}

// CopyFile copies a file from src to dst with the given permissions.
// Crashes on failure because tests cannot proceed without the file.
func CopyFile(src, dst string, perm os.FileMode) {
	data, err := os.ReadFile(src)
	if err != nil {
		fatalf("cannot read %s: %v", src, err)
	}

	if writeErr := os.WriteFile(dst, data, perm); writeErr != nil {
		fatalf("writing %s: %v", dst, writeErr)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
