package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-session-secret")

func newAuthenticator(t *testing.T) *LocalAuthenticator {
	t.Helper()
	a, err := NewLocalAuthenticator(t.TempDir(), secret)
	require.NoError(t, err)
	return a
}

func TestLoginThenRestore(t *testing.T) {
	ctx := context.Background()
	a := newAuthenticator(t)

	want := Identity{ID: "user1", DisplayName: "Alice", AvatarURL: "https://cdn/avatar.png"}
	require.NoError(t, a.Login(ctx, want))

	got, err := a.RestoreSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreWithoutLogin(t *testing.T) {
	a := newAuthenticator(t)
	_, err := a.RestoreSession(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLogoutDiscardsSession(t *testing.T) {
	ctx := context.Background()
	a := newAuthenticator(t)

	require.NoError(t, a.Login(ctx, Identity{ID: "user1", DisplayName: "Alice"}))
	require.NoError(t, a.Logout(ctx))

	_, err := a.RestoreSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	// logging out twice is fine
	assert.NoError(t, a.Logout(ctx))
}

func TestExpiredSessionBehavesLikeNoSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	past, err := NewLocalAuthenticator(dir, secret)
	require.NoError(t, err)
	past.WithClock(func() time.Time { return time.Now().Add(-60 * 24 * time.Hour) })
	require.NoError(t, past.Login(ctx, Identity{ID: "user1", DisplayName: "Alice"}))

	now, err := NewLocalAuthenticator(dir, secret)
	require.NoError(t, err)
	_, err = now.RestoreSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestForeignSecretRejected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewLocalAuthenticator(dir, secret)
	require.NoError(t, err)
	require.NoError(t, a.Login(ctx, Identity{ID: "user1", DisplayName: "Alice"}))

	b, err := NewLocalAuthenticator(dir, []byte("another-secret"))
	require.NoError(t, err)
	_, err = b.RestoreSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLoginRequiresIdentity(t *testing.T) {
	a := newAuthenticator(t)
	assert.Error(t, a.Login(context.Background(), Identity{ID: "user1"}))
	assert.Error(t, a.Login(context.Background(), Identity{DisplayName: "Alice"}))
}

func TestDeviceIDStable(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocalAuthenticator(dir, secret)
	require.NoError(t, err)

	first, err := a.DeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := a.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// a fresh instance over the same state dir sees the same device
	b, err := NewLocalAuthenticator(dir, secret)
	require.NoError(t, err)
	other, err := b.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, first, other)
}
