package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

func newUserID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id
}

func TestMemorySessionStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("create new session", func(t *testing.T) {
		st := NewSessionStore()
		userID := newUserID(t)
		expiresAt := time.Now().Add(time.Hour)
		client := models.ClientContext{Client: "web", IPAddress: "10.0.0.1"}

		session, err := st.Create(ctx, userID, "token-1", client, expiresAt)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, session.SessionID)
		require.Equal(t, userID, session.UserID)
		require.Equal(t, "token-1", session.RefreshToken)
		require.Equal(t, client, session.ClientContext)
		require.False(t, session.IsRevoked)
		require.True(t, session.ExpiresAt.Equal(expiresAt))
	})

	t.Run("duplicate refresh token is rejected", func(t *testing.T) {
		st := NewSessionStore()
		expiresAt := time.Now().Add(time.Hour)

		_, err := st.Create(ctx, newUserID(t), "token-1", models.ClientContext{}, expiresAt)
		require.NoError(t, err)

		_, err = st.Create(ctx, newUserID(t), "token-1", models.ClientContext{}, expiresAt)
		require.ErrorIs(t, err, store.ErrDuplicateRefreshToken)
	})

	t.Run("empty refresh token is rejected", func(t *testing.T) {
		st := NewSessionStore()
		_, err := st.Create(ctx, newUserID(t), "", models.ClientContext{}, time.Now().Add(time.Hour))
		require.ErrorIs(t, err, store.ErrInvalidSessionArgument)
	})

	t.Run("canceled context reports store unavailable", func(t *testing.T) {
		st := NewSessionStore()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := st.Create(cctx, newUserID(t), "token-1", models.ClientContext{}, time.Now().Add(time.Hour))
		require.ErrorIs(t, err, store.ErrStoreUnavailable)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemorySessionStore_FindByRefreshToken(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()

	_, err := st.FindByRefreshToken(ctx, "missing")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	created, err := st.Create(ctx, newUserID(t), "token-1", models.ClientContext{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	found, err := st.FindByRefreshToken(ctx, "token-1")
	require.NoError(t, err)
	require.Equal(t, created.SessionID, found.SessionID)

	// mutating the returned copy must not leak into the store
	found.IsRevoked = true
	again, err := st.FindByRefreshToken(ctx, "token-1")
	require.NoError(t, err)
	require.False(t, again.IsRevoked)
}

func TestMemorySessionStore_MarkUsed(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()

	_, err := st.Create(ctx, newUserID(t), "token-1", models.ClientContext{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	at := time.Now().Add(10 * time.Minute)
	require.NoError(t, st.MarkUsed(ctx, "token-1", at))

	found, err := st.FindByRefreshToken(ctx, "token-1")
	require.NoError(t, err)
	require.True(t, found.LastUsedAt.Equal(at))

	// an older timestamp never moves last_used_at backwards
	require.NoError(t, st.MarkUsed(ctx, "token-1", at.Add(-5*time.Minute)))
	found, err = st.FindByRefreshToken(ctx, "token-1")
	require.NoError(t, err)
	require.True(t, found.LastUsedAt.Equal(at))

	require.ErrorIs(t, st.MarkUsed(ctx, "missing", at), store.ErrSessionNotFound)
}

func TestMemorySessionStore_Revoke(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()

	_, err := st.Create(ctx, newUserID(t), "token-1", models.ClientContext{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	already, err := st.Revoke(ctx, "token-1")
	require.NoError(t, err)
	require.False(t, already)

	already, err = st.Revoke(ctx, "token-1")
	require.NoError(t, err)
	require.True(t, already)

	found, err := st.FindByRefreshToken(ctx, "token-1")
	require.NoError(t, err)
	require.True(t, found.IsRevoked)

	_, err = st.Revoke(ctx, "missing")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestMemorySessionStore_RevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()
	userID := newUserID(t)
	otherID := newUserID(t)
	expiresAt := time.Now().Add(time.Hour)

	for _, token := range []string{"a", "b", "c"} {
		_, err := st.Create(ctx, userID, token, models.ClientContext{}, expiresAt)
		require.NoError(t, err)
	}
	_, err := st.Create(ctx, otherID, "other", models.ClientContext{}, expiresAt)
	require.NoError(t, err)

	_, err = st.Revoke(ctx, "a")
	require.NoError(t, err)

	count, err := st.RevokeAllForUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 2, count, "already revoked sessions are not counted")

	count, err = st.RevokeAllForUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	other, err := st.FindByRefreshToken(ctx, "other")
	require.NoError(t, err)
	require.False(t, other.IsRevoked)
}

func TestMemorySessionStore_DeleteExpiredBefore(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()
	userID := newUserID(t)
	now := time.Now()

	_, err := st.Create(ctx, userID, "expired", models.ClientContext{}, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = st.Create(ctx, userID, "live", models.ClientContext{}, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = st.Create(ctx, userID, "revoked-live", models.ClientContext{}, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = st.Revoke(ctx, "revoked-live")
	require.NoError(t, err)

	count, err := st.DeleteExpiredBefore(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = st.FindByRefreshToken(ctx, "expired")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	// revoked but unexpired sessions are retained for audit
	_, err = st.FindByRefreshToken(ctx, "revoked-live")
	require.NoError(t, err)

	count, err = st.DeleteExpiredBefore(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestMemorySessionStore_ConcurrentRevoke(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore()

	_, err := st.Create(ctx, newUserID(t), "token-1", models.ClientContext{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	const callers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			already, err := st.Revoke(ctx, "token-1")
			if err != nil {
				t.Error(err)
				return
			}
			if !already {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, first, "exactly one caller observes the first revocation")
}
