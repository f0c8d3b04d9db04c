// Package tokenfile persists Graph credentials as JSON files. A token file
// stores an OAuth2 token alongside cached account metadata (user id, mail,
// token endpoint) and is always written atomically with owner-only
// permissions.
package tokenfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/office365-go/internal/graph"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// Metadata keys written by the CLI.
const (
	MetaUserID   = "user_id"
	MetaMail     = "mail"
	MetaTokenURL = "token_url"
)

// ErrNotFound is returned by Load when no token file exists at the path.
var ErrNotFound = errors.New("tokenfile: no token file")

// File is the on-disk format: {"token": <oauth2.Token>, "meta": {...}}.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// FromCredentials converts credentials to the stored token form.
func FromCredentials(creds graph.Credentials) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       creds.ExpiresAt,
	}
}

// ToCredentials converts a stored token back to credentials.
func ToCredentials(tok *oauth2.Token) graph.Credentials {
	if tok == nil {
		return graph.Credentials{}
	}

	return graph.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

// Load reads a token file. Returns ErrNotFound if the file does not exist.
func Load(path string) (graph.Credentials, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return graph.Credentials{}, nil, fmt.Errorf("%w at %s", ErrNotFound, path)
	}

	if err != nil {
		return graph.Credentials{}, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return graph.Credentials{}, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return graph.Credentials{}, nil, fmt.Errorf("tokenfile: %s missing token field (re-import required)", path)
	}

	return ToCredentials(tf.Token), tf.Meta, nil
}

// ReadMeta reads just the metadata from a token file. Returns (nil, nil) if
// the file does not exist.
func ReadMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var parsed struct {
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	return parsed.Meta, nil
}

// Save writes a token file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, creds graph.Credentials, meta map[string]string) error {
	data, err := json.MarshalIndent(File{Token: FromCredentials(creds), Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeSynced(tmp, tmpPath, data); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// writeSynced writes data to f, flushes it to stable storage and closes it.
func writeSynced(f *os.File, path string, data []byte) error {
	if err := os.Chmod(path, FilePerms); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// A power loss between close and rename must not leave a partial file.
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// MergeMeta reads the current token file, merges new metadata keys (new
// keys overwrite existing ones), and saves.
func MergeMeta(path string, meta map[string]string) error {
	creds, existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading token for metadata update: %w", err)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(path, creds, existing)
}

// Sink is a graph.CredentialSink that rewrites the token file after every
// refresh, keeping whatever metadata the file already carries.
type Sink struct {
	path string
	mu   sync.Mutex
}

// NewSink returns a sink writing to path.
func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Path returns the token file path.
func (s *Sink) Path() string {
	return s.path
}

// SaveCredentials implements graph.CredentialSink.
func (s *Sink) SaveCredentials(_ context.Context, creds graph.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := ReadMeta(s.path)
	if err != nil {
		return err
	}

	return Save(s.path, creds, meta)
}
