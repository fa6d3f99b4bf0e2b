package session

import (
	"context"
	"encoding/base32"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/katalog/produk-server/models"
)

const adminIDKey = "admin_id"

// Repository persists server-side session rows.
type Repository interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, token string, now time.Time) (*models.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is a sessions.Store keeping only an opaque token in the cookie.
// The token maps to an admin_session row, so deleting the row revokes the
// session even if the client keeps the cookie.
type Store struct {
	Codecs  []securecookie.Codec
	Options *sessions.Options

	repo Repository
	now  func() time.Time
}

var _ sessions.Store = (*Store)(nil)

func NewStore(repo Repository, opts sessions.Options, keyPairs ...[]byte) *Store {
	codecs := securecookie.CodecsFromPairs(keyPairs...)
	for _, c := range codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(opts.MaxAge)
		}
	}
	return &Store{
		Codecs:  codecs,
		Options: &opts,
		repo:    repo,
		now:     time.Now,
	}
}

// Get returns a cached session for the request, see sessions.Registry.
func (s *Store) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie. Unknown, expired or
// tampered cookies yield a fresh, empty session; only storage failures
// are returned as errors.
func (s *Store) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	token, err := s.decode(r, name)
	if err != nil || token == "" {
		return session, nil
	}
	row, err := s.repo.Get(r.Context(), token, s.now())
	if errors.Is(err, models.ErrSessionNotFound) {
		return session, nil
	}
	if err != nil {
		return session, err
	}
	session.ID = row.Token
	session.Values[adminIDKey] = row.AdminID
	session.IsNew = false
	return session, nil
}

// Save persists a new session row or, with MaxAge < 0, deletes it and
// expires the cookie.
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.repo.Delete(ctx, session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		adminID, ok := session.Values[adminIDKey].(uint)
		if !ok {
			return errors.New("session: refusing to save a session without an admin")
		}
		token, err := newToken()
		if err != nil {
			return err
		}
		row := &models.Session{
			Token:     token,
			AdminID:   adminID,
			ExpiresAt: s.now().Add(time.Duration(session.Options.MaxAge) * time.Second),
		}
		if err := s.repo.Create(ctx, row); err != nil {
			return err
		}
		session.ID = token
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

func (s *Store) decode(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", nil
	}
	var token string
	if err := securecookie.DecodeMulti(name, c.Value, &token, s.Codecs...); err != nil {
		return "", err
	}
	return token, nil
}

func newToken() (string, error) {
	key := securecookie.GenerateRandomKey(32)
	if key == nil {
		return "", errors.New("session: failed to generate token")
	}
	return strings.TrimRight(base32.StdEncoding.EncodeToString(key), "="), nil
}
