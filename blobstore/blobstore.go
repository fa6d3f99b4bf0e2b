// Package blobstore stores product images keyed by generated ids.
package blobstore

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidID is returned for ids that could escape the store namespace.
var ErrInvalidID = errors.New("invalid blob id")

// Store keeps opaque blobs. Ids returned by Put are unique for the store's lifetime.
type Store interface {
	// Put writes content under a fresh id ending in the sanitized extension hint.
	Put(ctx context.Context, content io.Reader, extHint string) (string, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Info describes a stored blob.
type Info struct {
	ID      string
	ModTime time.Time
}

// Lister is implemented by stores that can enumerate their blobs.
type Lister interface {
	List(ctx context.Context) ([]Info, error)
}

const maxExtLen = 10

// NewID returns a fresh blob id carrying the sanitized extension hint.
func NewID(extHint string) string {
	return uuid.NewString() + sanitizeExt(extHint)
}

// sanitizeExt keeps ".png"-style hints and drops anything else.
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}
