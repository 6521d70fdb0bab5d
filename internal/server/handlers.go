package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/sessiond/internal/auth"
	httpmw "github.com/wolfeidau/sessiond/internal/http"
)

const maxClientLabelLength = 64

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Client   string `json:"client"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type logoutResponse struct {
	Invalidated        bool `json:"invalidated"`
	AlreadyInvalidated bool `json:"already_invalidated"`
}

type logoutAllResponse struct {
	Revoked int `json:"revoked"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		respondBadRequest(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	client := httpmw.ClientContextFromContext(r.Context())
	client.Client = normalizeClientLabel(req.Client)

	res, err := s.sessions.Login(r.Context(), req.Email, req.Password, client)
	if err != nil {
		s.respondSessionError(w, r, err, msgInvalidCredentials)
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.ExpiresIn,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := s.decodeRefreshToken(w, r)
	if !ok {
		return
	}

	res, err := s.sessions.Refresh(r.Context(), token)
	if err != nil {
		s.respondSessionError(w, r, err, msgInvalidSession)
		return
	}

	respondJSON(w, http.StatusOK, refreshResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   res.ExpiresIn,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := s.decodeRefreshToken(w, r)
	if !ok {
		return
	}

	already, err := s.sessions.Logout(r.Context(), token)
	if err != nil {
		s.respondSessionError(w, r, err, msgInvalidSession)
		return
	}

	respondJSON(w, http.StatusOK, logoutResponse{
		Invalidated:        true,
		AlreadyInvalidated: already,
	})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, msgInvalidSession)
		return
	}

	count, err := s.sessions.LogoutAll(r.Context(), principal.UserID)
	if err != nil {
		s.respondSessionError(w, r, err, msgInvalidSession)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("user_id", principal.UserID.String()).
		Int("revoked", count).
		Msg("Logout everywhere")

	respondJSON(w, http.StatusOK, logoutAllResponse{Revoked: count})
}

func (s *Server) decodeRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshTokenRequest
	if err := decodeJSON(w, r, s.cfg.MaxBodyBytes, &req); err != nil {
		respondBadRequest(w, r, err)
		return "", false
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refresh_token is required")
		return "", false
	}
	return req.RefreshToken, true
}

func normalizeClientLabel(label string) string {
	label = strings.TrimSpace(httpmw.SanitizeText(label, maxClientLabelLength))
	if label == "" {
		return "unknown"
	}
	return label
}
