package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/katalog/produk-server/models"
)

// ErrUnauthenticated is returned when a token does not map to a live session.
var ErrUnauthenticated = errors.New("unauthenticated")

// Manager is the session gate used by the handlers and the catalog service.
type Manager struct {
	store *Store
	name  string
}

func NewManager(store *Store, name string) *Manager {
	return &Manager{store: store, name: name}
}

// Begin starts a fresh session for adminID and returns its token.
// Any session already carried by the request is revoked first.
func (m *Manager) Begin(w http.ResponseWriter, r *http.Request, adminID uint) (string, error) {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		return "", err
	}
	if session.ID != "" {
		if err := m.store.repo.Delete(r.Context(), session.ID); err != nil {
			return "", err
		}
		session.ID = ""
	}
	session.Values[adminIDKey] = adminID
	if err := session.Save(r, w); err != nil {
		return "", err
	}
	if session.ID == "" {
		return "", errors.New("session: no session was issued, check session max age")
	}
	return session.ID, nil
}

// End revokes the request's session and expires its cookie.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	session, err := m.store.Get(r, m.name)
	if err != nil {
		return err
	}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// Token extracts the session token from the request cookie, or "" if absent or invalid.
func (m *Manager) Token(r *http.Request) string {
	token, err := m.store.decode(r, m.name)
	if err != nil {
		return ""
	}
	return token
}

// Authorize resolves token to the admin id it was issued for.
func (m *Manager) Authorize(ctx context.Context, token string) (uint, error) {
	if token == "" {
		return 0, ErrUnauthenticated
	}
	row, err := m.store.repo.Get(ctx, token, m.store.now())
	if errors.Is(err, models.ErrSessionNotFound) {
		return 0, ErrUnauthenticated
	}
	if err != nil {
		return 0, err
	}
	return row.AdminID, nil
}

// LoggedIn reports whether the request carries a live session.
func (m *Manager) LoggedIn(r *http.Request) bool {
	_, err := m.Authorize(r.Context(), m.Token(r))
	return err == nil
}

// PurgeExpired deletes expired session rows.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.repo.DeleteExpired(ctx, m.store.now())
}
