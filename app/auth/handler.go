package auth

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/katalog/produk-server/models"
	"go.uber.org/zap"
)

type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*models.Admin, error)
}

type SessionManager interface {
	Begin(w http.ResponseWriter, r *http.Request, adminID uint) (string, error)
	End(w http.ResponseWriter, r *http.Request) error
	LoggedIn(r *http.Request) bool
}

type AuthHandler struct {
	verifier CredentialVerifier
	sessions SessionManager
	log      *zap.Logger
}

func NewAuthHandler(v CredentialVerifier, s SessionManager, log *zap.Logger) *AuthHandler {
	return &AuthHandler{verifier: v, sessions: s, log: log}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var input loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid JSON body"})
			return
		}
	} else {
		input.Username = r.FormValue("username")
		input.Password = r.FormValue("password")
	}

	admin, err := h.verifier.Verify(r.Context(), input.Username, input.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error("login failed", zap.Error(err))
		}
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"message": ErrInvalidCredentials.Error()})
		return
	}

	if _, err := h.sessions.Begin(w, r, admin.ID); err != nil {
		h.log.Error("failed to start session", zap.Uint("admin_id", admin.ID), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to start session"})
		return
	}

	h.log.Info("admin logged in", zap.Uint("admin_id", admin.ID))
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Login successful"})
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(w, r); err != nil {
		h.log.Error("failed to end session", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Logout failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (h *AuthHandler) HandleCheckLogin(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"login": h.sessions.LoggedIn(r)})
}

func (h *AuthHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("failed to write response", zap.Int("status", status), zap.Error(err))
	}
}
