package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is owner-only: the file may hold a client secret.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o700

// configTemplate is the config file written by "config init". Every option
// other than the client ID is present as a commented-out default.
const configTemplate = `# office365-go configuration

[app]
client_id = %q
# client_secret = ""   # or set O365_CLIENT_SECRET
# redirect_uri = ""
# resource = "https://graph.microsoft.com/"
# token_url = ""       # default: common v1 endpoint
# tenant = ""          # use the v2 endpoint for this tenant
# scopes = []          # v2 only, e.g. ["offline_access", "Mail.Read"]

[graph]
# base_url = "https://graph.microsoft.com"
# api_version = "v1.0"
# user = "me"
# calendar_page_size = 50
# max_pages = 10000

[auth]
# refresh_retries = 2
# backoff_base = "250ms"
# backoff_max = "5s"

[network]
# timeout = "60s"
# requests_per_second = 0   # 0 disables client-side rate limiting
# burst = 1
# user_agent = "office365-go/0.1"

[storage]
# token_file = ""            # default: <data dir>/token.json
# state_db = ""              # default: <data dir>/state.db
# credential_backend = "file"  # or "db"

[logging]
# log_level = "info"
# log_format = "auto"
`

// CreateConfig writes a fresh config file for clientID at path. It refuses
// to overwrite an existing file.
func CreateConfig(path, clientID string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s: %w", path, os.ErrExist)
	}

	return atomicWriteFile(path, []byte(fmt.Sprintf(configTemplate, clientID)))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path, so a crash never leaves a partial config.
// Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
