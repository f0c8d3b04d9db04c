// Package store keeps client state in an embedded SQLite database:
// credentials per account and the delta/skip tokens of every incremental
// sync, so a later run resumes where the previous one stopped.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/tonimelisma/office365-go/internal/graph"
)

// ErrNoCredentials is returned by LoadCredentials for an unknown account.
var ErrNoCredentials = errors.New("store: no credentials for account")

// dirPerms is owner-only: the database holds credentials.
const dirPerms = 0o700

const (
	sqlUpsertCredentials = `INSERT INTO credentials
		(account, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
		 access_token = excluded.access_token,
		 refresh_token = excluded.refresh_token,
		 expires_at = excluded.expires_at,
		 updated_at = excluded.updated_at`

	sqlGetCredentials = `SELECT access_token, refresh_token, expires_at
		FROM credentials WHERE account = ?` //nolint:gosec // G101: SQL, not a credential

	sqlUpsertSyncTokens = `INSERT INTO sync_tokens
		(account, resource, delta_token, skip_token, items_synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, resource) DO UPDATE SET
		 delta_token = excluded.delta_token,
		 skip_token = excluded.skip_token,
		 items_synced = sync_tokens.items_synced + excluded.items_synced,
		 updated_at = excluded.updated_at`

	sqlGetSyncTokens = `SELECT delta_token, skip_token, items_synced, updated_at
		FROM sync_tokens WHERE account = ? AND resource = ?` //nolint:gosec // G101: delta cursor, not a credential

	sqlDeleteSyncTokens = `DELETE FROM sync_tokens WHERE account = ? AND resource = ?`

	sqlListSyncTokens = `SELECT resource, delta_token, skip_token, items_synced, updated_at
		FROM sync_tokens WHERE account = ? ORDER BY resource`
)

// SyncTokens is the resume point of one incremental sync. DeltaToken
// continues a completed sync; SkipToken continues one that stopped mid-way.
type SyncTokens struct {
	Resource    string
	DeltaToken  string
	SkipToken   string
	ItemsSynced int64
	UpdatedAt   time.Time
}

// Empty reports whether there is nothing to resume from.
func (t SyncTokens) Empty() bool {
	return t.DeltaToken == "" && t.SkipToken == ""
}

// Store is the sole writer to the state database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies pending
// migrations. The database uses WAL mode with synchronous=FULL.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("store: creating directory for %s: %w", dbPath, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("state database ready", slog.String("db_path", dbPath))

	return &Store{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCredentials stores the credentials of account, replacing older ones.
func (s *Store) SaveCredentials(ctx context.Context, account string, creds graph.Credentials) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertCredentials,
		account, creds.AccessToken, creds.RefreshToken, nullUnix(creds.ExpiresAt), s.nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("store: saving credentials for %s: %w", account, err)
	}

	s.logger.Debug("credentials saved", slog.String("account", account))

	return nil
}

// LoadCredentials returns the stored credentials of account, or
// ErrNoCredentials.
func (s *Store) LoadCredentials(ctx context.Context, account string) (graph.Credentials, error) {
	var (
		creds   graph.Credentials
		expires sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, sqlGetCredentials, account).
		Scan(&creds.AccessToken, &creds.RefreshToken, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Credentials{}, fmt.Errorf("%w %s", ErrNoCredentials, account)
	}

	if err != nil {
		return graph.Credentials{}, fmt.Errorf("store: loading credentials for %s: %w", account, err)
	}

	if expires.Valid {
		creds.ExpiresAt = time.Unix(expires.Int64, 0)
	}

	return creds, nil
}

// CredentialSink returns a graph.CredentialSink bound to account.
func (s *Store) CredentialSink(account string) graph.CredentialSink {
	return graph.CredentialSinkFunc(func(ctx context.Context, creds graph.Credentials) error {
		return s.SaveCredentials(ctx, account, creds)
	})
}

// SaveSyncTokens records the resume point of a sync. itemsSynced is added to
// the running total.
func (s *Store) SaveSyncTokens(ctx context.Context, account string, tokens SyncTokens, itemsSynced int64) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertSyncTokens,
		account, tokens.Resource, nullString(tokens.DeltaToken), nullString(tokens.SkipToken),
		itemsSynced, s.nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("store: saving sync tokens for %s/%s: %w", account, tokens.Resource, err)
	}

	s.logger.Debug("sync tokens saved",
		slog.String("account", account),
		slog.String("resource", tokens.Resource),
		slog.Bool("has_delta", tokens.DeltaToken != ""),
		slog.Bool("has_skip", tokens.SkipToken != ""),
	)

	return nil
}

// LoadSyncTokens returns the resume point of a sync. An unknown resource
// yields empty tokens, meaning a full sync.
func (s *Store) LoadSyncTokens(ctx context.Context, account, resource string) (SyncTokens, error) {
	var (
		delta, skip sql.NullString
		items       int64
		updated     int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetSyncTokens, account, resource).Scan(&delta, &skip, &items, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncTokens{Resource: resource}, nil
	}

	if err != nil {
		return SyncTokens{}, fmt.Errorf("store: loading sync tokens for %s/%s: %w", account, resource, err)
	}

	return SyncTokens{
		Resource:    resource,
		DeltaToken:  delta.String,
		SkipToken:   skip.String,
		ItemsSynced: items,
		UpdatedAt:   time.Unix(updated, 0),
	}, nil
}

// ListSyncTokens returns every sync resume point of account, by resource.
func (s *Store) ListSyncTokens(ctx context.Context, account string) ([]SyncTokens, error) {
	rows, err := s.db.QueryContext(ctx, sqlListSyncTokens, account)
	if err != nil {
		return nil, fmt.Errorf("store: listing sync tokens for %s: %w", account, err)
	}
	defer rows.Close()

	var out []SyncTokens

	for rows.Next() {
		var (
			t           SyncTokens
			delta, skip sql.NullString
			updated     int64
		)

		if err := rows.Scan(&t.Resource, &delta, &skip, &t.ItemsSynced, &updated); err != nil {
			return nil, fmt.Errorf("store: scanning sync tokens: %w", err)
		}

		t.DeltaToken = delta.String
		t.SkipToken = skip.String
		t.UpdatedAt = time.Unix(updated, 0)
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating sync tokens: %w", err)
	}

	return out, nil
}

// ResetSyncTokens forgets the resume point of a sync, forcing the next run
// to start over. Used when the server reports the delta token expired.
func (s *Store) ResetSyncTokens(ctx context.Context, account, resource string) error {
	if _, err := s.db.ExecContext(ctx, sqlDeleteSyncTokens, account, resource); err != nil {
		return fmt.Errorf("store: resetting sync tokens for %s/%s: %w", account, resource, err)
	}

	s.logger.Info("sync tokens reset",
		slog.String("account", account),
		slog.String("resource", resource),
	)

	return nil
}

// Nullable helpers: empty string / zero time → NULL in SQLite.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
