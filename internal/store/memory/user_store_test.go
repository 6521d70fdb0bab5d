package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/store"
)

func TestMemoryUserStore_Get(t *testing.T) {
	ctx := context.Background()
	st := NewUserStore(nil)
	userID := newUserID(t)

	st.Add(&models.User{UserID: userID, Email: "A@X.com", Role: "donor", PasswordHash: "hash"})

	t.Run("by email is case insensitive", func(t *testing.T) {
		u, err := st.GetByEmail(ctx, " a@x.COM ")
		require.NoError(t, err)
		require.Equal(t, userID, u.UserID)
	})

	t.Run("by id", func(t *testing.T) {
		u, err := st.GetByID(ctx, userID)
		require.NoError(t, err)
		require.Equal(t, "donor", u.Role)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := st.GetByEmail(ctx, "nobody@x.com")
		require.ErrorIs(t, err, store.ErrUserNotFound)

		_, err = st.GetByID(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrUserNotFound)
	})
}

func TestMemoryUserStore_DeleteCascadesSessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionStore()
	users := NewUserStore(sessions)
	userID := newUserID(t)

	users.Add(&models.User{UserID: userID, Email: "a@x.com", Role: "donor", PasswordHash: "hash"})
	_, err := sessions.Create(ctx, userID, "token-1", models.ClientContext{}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, users.Delete(ctx, userID))

	_, err = sessions.FindByRefreshToken(ctx, "token-1")
	require.ErrorIs(t, err, store.ErrSessionNotFound)

	require.ErrorIs(t, users.Delete(ctx, userID), store.ErrUserNotFound)
}

func TestMemoryUserStore_LoadUsers(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid seed file", func(t *testing.T) {
		path := filepath.Join(dir, "users.yaml")
		err := os.WriteFile(path, []byte(`users:
  - user_id: 0190c6f2-8e3a-7c1d-9f4b-2a6e5d7c8b90
    email: a@x.com
    role: donor
    password_hash: $2a$04$abcdefghijklmnopqrstuu
  - email: b@x.com
    role: school
    password_hash: $2a$04$abcdefghijklmnopqrstuu
`), 0o600)
		require.NoError(t, err)

		st := NewUserStore(nil)
		n, err := st.LoadUsers(path)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		u, err := st.GetByEmail(context.Background(), "a@x.com")
		require.NoError(t, err)
		require.Equal(t, "0190c6f2-8e3a-7c1d-9f4b-2a6e5d7c8b90", u.UserID.String())

		u, err = st.GetByEmail(context.Background(), "b@x.com")
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, u.UserID, "missing ids are generated")
	})

	t.Run("missing role", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		err := os.WriteFile(path, []byte("users:\n  - email: a@x.com\n    password_hash: x\n"), 0o600)
		require.NoError(t, err)

		_, err = NewUserStore(nil).LoadUsers(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "role is required")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewUserStore(nil).LoadUsers(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
	})
}
