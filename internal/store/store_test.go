package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/office365-go/internal/graph"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"), slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveCredentials(ctx, "me", graph.Credentials{AccessToken: "a"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	creds, err := s.LoadCredentials(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "a", creds.AccessToken)
}

func TestCredentials_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadCredentials(ctx, "me")
	require.ErrorIs(t, err, ErrNoCredentials)

	exp := time.Unix(1800000000, 0)
	require.NoError(t, s.SaveCredentials(ctx, "me", graph.Credentials{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: exp}))
	require.NoError(t, s.SaveCredentials(ctx, "me", graph.Credentials{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: exp}))
	require.NoError(t, s.SaveCredentials(ctx, "users/bob", graph.Credentials{AccessToken: "b"}))

	creds, err := s.LoadCredentials(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.AccessToken)
	assert.Equal(t, "r2", creds.RefreshToken)
	assert.True(t, creds.ExpiresAt.Equal(exp))

	bob, err := s.LoadCredentials(ctx, "users/bob")
	require.NoError(t, err)
	assert.True(t, bob.ExpiresAt.IsZero())
}

func TestCredentialSink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sink := s.CredentialSink("me")
	require.NoError(t, sink.SaveCredentials(ctx, graph.Credentials{AccessToken: "via-sink", RefreshToken: "r"}))

	creds, err := s.LoadCredentials(ctx, "me")
	require.NoError(t, err)
	assert.Equal(t, "via-sink", creds.AccessToken)
}

func TestSyncTokens_UnknownIsEmpty(t *testing.T) {
	s := newTestStore(t)

	tokens, err := s.LoadSyncTokens(context.Background(), "me", "messages")
	require.NoError(t, err)
	assert.True(t, tokens.Empty())
	assert.Equal(t, "messages", tokens.Resource)
}

func TestSyncTokens_SaveLoadAccumulate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Unix(1700000000, 0)
	s.nowFunc = func() time.Time { return now }

	require.NoError(t, s.SaveSyncTokens(ctx, "me", SyncTokens{Resource: "messages", SkipToken: "s1"}, 10))
	require.NoError(t, s.SaveSyncTokens(ctx, "me", SyncTokens{Resource: "messages", DeltaToken: "d1"}, 5))

	tokens, err := s.LoadSyncTokens(ctx, "me", "messages")
	require.NoError(t, err)
	assert.Equal(t, "d1", tokens.DeltaToken)
	assert.Empty(t, tokens.SkipToken, "saving a delta token clears the skip token")
	assert.Equal(t, int64(15), tokens.ItemsSynced)
	assert.True(t, tokens.UpdatedAt.Equal(now))
	assert.False(t, tokens.Empty())
}

func TestSyncTokens_ListAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSyncTokens(ctx, "me", SyncTokens{Resource: "messages", DeltaToken: "d1"}, 1))
	require.NoError(t, s.SaveSyncTokens(ctx, "me", SyncTokens{Resource: "calendar", DeltaToken: "c1"}, 1))
	require.NoError(t, s.SaveSyncTokens(ctx, "users/bob", SyncTokens{Resource: "messages", DeltaToken: "b1"}, 1))

	all, err := s.ListSyncTokens(ctx, "me")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "calendar", all[0].Resource)
	assert.Equal(t, "messages", all[1].Resource)

	require.NoError(t, s.ResetSyncTokens(ctx, "me", "messages"))

	tokens, err := s.LoadSyncTokens(ctx, "me", "messages")
	require.NoError(t, err)
	assert.True(t, tokens.Empty())

	other, err := s.LoadSyncTokens(ctx, "users/bob", "messages")
	require.NoError(t, err)
	assert.Equal(t, "b1", other.DeltaToken)
}
