package auth

import (
	"context"
	"errors"

	"github.com/katalog/produk-server/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers unknown users, wrong passwords and lookup
// failures alike so callers cannot tell them apart.
var ErrInvalidCredentials = errors.New("invalid username or password")

type AdminProvider interface {
	GetByUsername(ctx context.Context, username string) (*models.Admin, error)
	Create(ctx context.Context, username, passwordHash string) (*models.Admin, error)
	SetPassword(ctx context.Context, username, passwordHash string) error
}

// dummyHash is compared against when the username is unknown, so both
// failure paths spend the same bcrypt time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("produk-dummy-password"), bcrypt.DefaultCost)

type Verifier struct {
	admins AdminProvider
	log    *zap.Logger
}

func NewVerifier(admins AdminProvider, log *zap.Logger) *Verifier {
	return &Verifier{admins: admins, log: log}
}

// Verify checks the credentials and returns the matching admin.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*models.Admin, error) {
	admin, err := v.admins.GetByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, models.ErrAdminNotFound) {
			v.log.Error("admin lookup failed", zap.Error(err))
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

// HashPassword returns the bcrypt hash stored in admin.password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// EnsureDefaultAdmin creates the bootstrap admin when no row with username exists.
// It reports whether an account was created.
func EnsureDefaultAdmin(ctx context.Context, admins AdminProvider, username, password string, log *zap.Logger) (bool, error) {
	_, err := admins.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, models.ErrAdminNotFound):
		return false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := admins.Create(ctx, username, hash); err != nil {
		return false, err
	}
	log.Warn("created default admin account; rotate its password before exposing this server",
		zap.String("username", username))
	return true, nil
}

// SetPassword replaces the password of an existing admin.
func SetPassword(ctx context.Context, admins AdminProvider, username, password string) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return admins.SetPassword(ctx, username, hash)
}
