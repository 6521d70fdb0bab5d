package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/sessiond/internal/auth"
	httpmw "github.com/wolfeidau/sessiond/internal/http"
	"github.com/wolfeidau/sessiond/internal/models"
	"github.com/wolfeidau/sessiond/internal/session"
	"github.com/wolfeidau/sessiond/internal/store"
	"github.com/wolfeidau/sessiond/internal/store/memory"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEmail    = "a@x.com"
	testPassword = "secret123"
)

type testServer struct {
	*httptest.Server
	sessions *memory.SessionStore
	issuer   *auth.TokenIssuer
	user     *models.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	sessions := memory.NewSessionStore()
	users := memory.NewUserStore(sessions)

	hasher := auth.NewHasher(bcrypt.MinCost)
	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)

	user := &models.User{UserID: uuid.New(), Email: testEmail, Role: "member", PasswordHash: hash}
	users.Add(user)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  []byte("access-secret-0123456789abcdefghijkl"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdefghijk"),
	})
	require.NoError(t, err)

	validator, err := auth.NewCredentialValidator(users, hasher)
	require.NoError(t, err)

	svc, err := session.NewService(session.Config{
		Sessions:    sessions,
		Users:       users,
		Tokens:      issuer,
		Credentials: validator,
	})
	require.NoError(t, err)

	srv, err := NewServer(svc, issuer, Config{TrustProxy: true})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler(zerolog.Nop()))
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, sessions: sessions, issuer: issuer, user: user}
}

func (ts *testServer) post(t *testing.T, path string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func (ts *testServer) login(t *testing.T) map[string]any {
	t.Helper()
	resp, payload := ts.post(t, "/v1/auth/login", loginRequest{Email: testEmail, Password: testPassword, Client: "web"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return payload
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	ts := newTestServer(t)

	login := ts.login(t)
	require.NotEmpty(t, login["access_token"])
	require.NotEmpty(t, login["refresh_token"])
	require.Equal(t, float64(3600), login["expires_in"])
	require.Equal(t, "Bearer", login["token_type"])

	refreshToken := login["refresh_token"].(string)

	resp, refreshed := ts.post(t, "/v1/auth/refresh", refreshTokenRequest{RefreshToken: refreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(3600), refreshed["expires_in"])
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	claims, err := ts.issuer.VerifyAccessToken(refreshed["access_token"].(string))
	require.NoError(t, err)
	require.Equal(t, ts.user.UserID.String(), claims.Subject)

	resp, logout := ts.post(t, "/v1/auth/logout", refreshTokenRequest{RefreshToken: refreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, logout["invalidated"])
	require.Equal(t, false, logout["already_invalidated"])

	resp, logout = ts.post(t, "/v1/auth/logout", refreshTokenRequest{RefreshToken: refreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, logout["already_invalidated"])

	resp, body := ts.post(t, "/v1/auth/refresh", refreshTokenRequest{RefreshToken: refreshToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, msgInvalidSession, body["error"])
}

func TestLoginRecordsClientContext(t *testing.T) {
	ts := newTestServer(t)

	resp, login := ts.post(t, "/v1/auth/login",
		loginRequest{Email: testEmail, Password: testPassword, Client: "ios"},
		"X-Forwarded-For", "198.51.100.23",
		"User-Agent", "sessiond-test/1.0",
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, err := ts.sessions.FindByRefreshToken(context.Background(), login["refresh_token"].(string))
	require.NoError(t, err)
	require.Equal(t, models.ClientContext{Client: "ios", IPAddress: "198.51.100.23", UserAgent: "sessiond-test/1.0"}, sess.ClientContext)
}

func TestLoginTruncatesMultiByteClientContext(t *testing.T) {
	ts := newTestServer(t)

	label := "x" + strings.Repeat("é", 40)
	userAgent := "y" + strings.Repeat("é", 300) + "\xff"

	resp, login := ts.post(t, "/v1/auth/login",
		loginRequest{Email: testEmail, Password: testPassword, Client: label},
		"User-Agent", userAgent,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess, err := ts.sessions.FindByRefreshToken(context.Background(), login["refresh_token"].(string))
	require.NoError(t, err)

	require.True(t, utf8.ValidString(sess.ClientContext.Client))
	require.LessOrEqual(t, len(sess.ClientContext.Client), maxClientLabelLength)
	require.True(t, strings.HasPrefix(label, sess.ClientContext.Client))
	require.Len(t, sess.ClientContext.Client, 63)

	require.True(t, utf8.ValidString(sess.ClientContext.UserAgent))
	require.LessOrEqual(t, len(sess.ClientContext.UserAgent), httpmw.MaxUserAgentLength)
	require.True(t, strings.HasPrefix(userAgent, sess.ClientContext.UserAgent))
}

func TestLoginFailuresLookAlike(t *testing.T) {
	ts := newTestServer(t)

	wrongResp, wrongBody := ts.post(t, "/v1/auth/login", loginRequest{Email: testEmail, Password: "wrong"})
	unknownResp, unknownBody := ts.post(t, "/v1/auth/login", loginRequest{Email: "nobody@x.com", Password: testPassword})

	require.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)
	require.Equal(t, http.StatusUnauthorized, unknownResp.StatusCode)
	require.Equal(t, wrongBody, unknownBody)
	require.Equal(t, msgInvalidCredentials, wrongBody["error"])
}

func TestRefreshErrorsAreGeneric(t *testing.T) {
	ts := newTestServer(t)

	garbageResp, garbage := ts.post(t, "/v1/auth/refresh", refreshTokenRequest{RefreshToken: "garbage"})
	require.Equal(t, http.StatusUnauthorized, garbageResp.StatusCode)

	// Signed but never persisted
	pair, err := ts.issuer.IssueTokens(ts.user)
	require.NoError(t, err)
	unknownResp, unknown := ts.post(t, "/v1/auth/refresh", refreshTokenRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, unknownResp.StatusCode)

	require.Equal(t, garbage, unknown)
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "malformed json", path: "/v1/auth/login", body: "{", status: http.StatusBadRequest},
		{name: "unknown field", path: "/v1/auth/login", body: `{"email":"a@x.com","password":"x","admin":true}`, status: http.StatusBadRequest},
		{name: "missing password", path: "/v1/auth/login", body: `{"email":"a@x.com"}`, status: http.StatusBadRequest},
		{name: "empty body", path: "/v1/auth/refresh", body: "", status: http.StatusBadRequest},
		{name: "missing refresh token", path: "/v1/auth/logout", body: `{}`, status: http.StatusBadRequest},
		{name: "trailing data", path: "/v1/auth/refresh", body: `{"refresh_token":"a"}{}`, status: http.StatusBadRequest},
		{name: "oversized body", path: "/v1/auth/refresh", body: `{"refresh_token":"` + strings.Repeat("a", defaultMaxBodyBytes) + `"}`, status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := ts.post(t, tt.path, tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestLogoutAll(t *testing.T) {
	ts := newTestServer(t)

	first := ts.login(t)
	second := ts.login(t)

	resp, _ := ts.post(t, "/v1/auth/logout-all", struct{}{})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.post(t, "/v1/auth/logout-all", struct{}{}, "Authorization", "Bearer "+first["refresh_token"].(string))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ts.post(t, "/v1/auth/logout-all", struct{}{}, "Authorization", "Bearer "+first["access_token"].(string))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), body["revoked"])

	for _, login := range []map[string]any{first, second} {
		resp, _ := ts.post(t, "/v1/auth/refresh", refreshTokenRequest{RefreshToken: login["refresh_token"].(string)})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

// unavailableService fails every call as if the store were down.
type unavailableService struct{}

var errDown = session.ErrStoreUnavailable

func (unavailableService) Login(context.Context, string, string, models.ClientContext) (*session.LoginResult, error) {
	return nil, errDown
}

func (unavailableService) Refresh(context.Context, string) (*session.RefreshResult, error) {
	return nil, errDown
}

func (unavailableService) Logout(context.Context, string) (bool, error) {
	return false, errDown
}

func (unavailableService) LogoutAll(context.Context, uuid.UUID) (int, error) {
	return 0, errDown
}

// failingService fails with a persistence error.
type failingService struct{ unavailableService }

func (failingService) Login(context.Context, string, string, models.ClientContext) (*session.LoginResult, error) {
	return nil, errors.Join(session.ErrPersistence, store.ErrDuplicateRefreshToken)
}

func TestStoreFailures(t *testing.T) {
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  []byte("access-secret-0123456789abcdefghijkl"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdefghijk"),
	})
	require.NoError(t, err)

	t.Run("unavailable", func(t *testing.T) {
		srv, err := NewServer(unavailableService{}, issuer, Config{RetryAfter: 1500 * time.Millisecond})
		require.NoError(t, err)
		h := srv.Handler(zerolog.Nop())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", strings.NewReader(`{"refresh_token":"x"}`)))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.Equal(t, "2", rec.Header().Get("Retry-After"))
		require.Contains(t, rec.Body.String(), msgUnavailable)
	})

	t.Run("persistence", func(t *testing.T) {
		srv, err := NewServer(failingService{}, issuer, Config{})
		require.NoError(t, err)
		h := srv.Handler(zerolog.Nop())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"a@x.com","password":"p"}`)))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		require.NotContains(t, rec.Body.String(), "refresh token")
		require.Empty(t, rec.Header().Get("Retry-After"))
	})
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, nil, Config{})
	require.Error(t, err)
}

func TestCORS(t *testing.T) {
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  []byte("access-secret-0123456789abcdefghijkl"),
		RefreshSecret: []byte("refresh-secret-0123456789abcdefghijk"),
	})
	require.NoError(t, err)

	srv, err := NewServer(unavailableService{}, issuer, Config{AllowedOrigins: []string{"https://app.example.com"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/refresh", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	srv.Handler(zerolog.Nop()).ServeHTTP(rec, req)

	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
