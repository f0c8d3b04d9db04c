//go:build integration

package graph_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/office365-go/internal/config"
	"github.com/tonimelisma/office365-go/testutil"
)

// integrationRealHomeDir holds HOME before TestMain overrides it.
var integrationRealHomeDir string

// integrationIso is the temp tree holding copies of the test credentials.
var integrationIso *testutil.Isolation

// integrationUser is the allowlisted test mailbox.
var integrationUser string

func TestMain(m *testing.M) {
	integrationRealHomeDir, _ = os.UserHomeDir()

	// internal/graph/ is two levels below the module root.
	moduleRoot := testutil.FindModuleRoot("../..")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))

	integrationUser = testutil.RequireAllowedUser()
	integrationIso = testutil.Isolate("o365-integration", testutil.FindTestCredentialDir(moduleRoot))

	code := m.Run()

	integrationIso.Restore()
	os.Exit(code)
}

func TestIntegration_Isolation_HomeOverridden(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("cannot get home dir: %v", err)
	}

	assert.NotEqual(t, integrationRealHomeDir, home, "HOME should be overridden")
}

func TestIntegration_Isolation_DataDirResolvesToTemp(t *testing.T) {
	assert.True(t, strings.HasPrefix(config.DefaultDataDir(), integrationIso.Root),
		"DefaultDataDir() should resolve under %s, got %s", integrationIso.Root, config.DefaultDataDir())
	assert.Equal(t, filepath.Join(integrationIso.ConfigDir, "config.toml"), config.DefaultConfigPath())
}
