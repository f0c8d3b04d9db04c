//go:build e2e

package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/office365-go/testutil"
)

// realHomeDir holds the original HOME directory before TestMain overrides it.
var realHomeDir string

// iso is the temp tree the binary runs in. Set by TestMain.
var iso *testutil.Isolation

func TestIsolation_HomeOverridden(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.NotEqual(t, realHomeDir, home, "HOME should be overridden to temp dir")
}

func TestIsolation_XDGDirs(t *testing.T) {
	for _, v := range []string{"XDG_DATA_HOME", "XDG_CONFIG_HOME", "XDG_CACHE_HOME"} {
		xdg := os.Getenv(v)
		assert.NotEmpty(t, xdg, "%s should be set", v)
		assert.True(t, strings.HasPrefix(xdg, iso.Root), "%s should be under the temp root", v)
	}
}

func TestIsolation_CredentialsCopied(t *testing.T) {
	data, err := os.ReadFile(iso.TokenPath())
	require.NoError(t, err)

	var parsed map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &parsed), "token file should be JSON")
	assert.Contains(t, parsed, "token")

	_, err = os.Stat(iso.ConfigPath())
	assert.NoError(t, err)
}

// TestIsolation_BinaryResolvesTemp verifies that the binary resolves every
// path under the temp tree, with no --config given.
func TestIsolation_BinaryResolvesTemp(t *testing.T) {
	stdout, stderr := runCLIDefaultConfig(t, "token", "status", "--json")

	assert.NotContains(t, stdout, realHomeDir)
	assert.NotContains(t, stderr, realHomeDir)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &status))
	assert.Equal(t, filepath.Clean(iso.TokenPath()), status["location"])
	assert.Equal(t, true, status["has_refresh_token"])
}
