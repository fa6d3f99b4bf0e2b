package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Admin is the administrative principal. Password holds a bcrypt hash.
type Admin struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;size:191;not null" json:"username"`
	Password string `gorm:"not null" json:"-"`
}

func (a *Admin) TableName() string {
	return "admin"
}

// Session maps an opaque cookie token to an admin.
type Session struct {
	Token     string    `gorm:"primaryKey;size:64"`
	AdminID   uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

func (s *Session) TableName() string {
	return "admin_session"
}

type AdminsRepository struct {
	db *gorm.DB
}

func NewAdminsRepository(db *gorm.DB) *AdminsRepository {
	return &AdminsRepository{db: db}
}

func (r *AdminsRepository) GetByUsername(ctx context.Context, username string) (*Admin, error) {
	var admin Admin
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; err != nil {
		return nil, storageErr("get admin", err, ErrAdminNotFound)
	}
	return &admin, nil
}

func (r *AdminsRepository) Create(ctx context.Context, username, passwordHash string) (*Admin, error) {
	admin := Admin{Username: username, Password: passwordHash}
	if err := r.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return nil, storageErr("create admin", err, nil)
	}
	return &admin, nil
}

func (r *AdminsRepository) SetPassword(ctx context.Context, username, passwordHash string) error {
	res := r.db.WithContext(ctx).
		Model(&Admin{}).
		Where("username = ?", username).
		Update("password", passwordHash)
	if res.Error != nil {
		return storageErr("set admin password", res.Error, nil)
	}
	if res.RowsAffected == 0 {
		return ErrAdminNotFound
	}
	return nil
}

type SessionsRepository struct {
	db *gorm.DB
}

func NewSessionsRepository(db *gorm.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

func (r *SessionsRepository) Create(ctx context.Context, s *Session) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return storageErr("create session", err, nil)
	}
	return nil
}

// Get returns the live session for token. Expired sessions count as missing.
func (r *SessionsRepository) Get(ctx context.Context, token string, now time.Time) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", token, now).
		First(&s).Error; err != nil {
		return nil, storageErr("get session", err, ErrSessionNotFound)
	}
	return &s, nil
}

func (r *SessionsRepository) Delete(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&Session{}).Error; err != nil {
		return storageErr("delete session", err, nil)
	}
	return nil
}

// DeleteExpired purges sessions that expired before now.
func (r *SessionsRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&Session{})
	if res.Error != nil {
		return 0, storageErr("delete expired sessions", res.Error, nil)
	}
	return res.RowsAffected, nil
}
