package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const tempPrefix = ".upload-"

// FileStore keeps blobs as files in a single directory.
type FileStore struct {
	dir string
}

var (
	_ Store  = (*FileStore)(nil)
	_ Lister = (*FileStore)(nil)
)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create blob dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the blobs.
func (s *FileStore) Dir() string {
	return s.dir
}

// Put streams content into a temp file and renames it into place,
// so readers never observe a partially written blob.
func (s *FileStore) Put(ctx context.Context, content io.Reader, extHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := NewID(extHint)

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", errors.Wrap(err, "create temp blob")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "write blob %s", id)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "sync blob %s", id)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "close blob %s", id)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, id)); err != nil {
		return "", errors.Wrapf(err, "publish blob %s", id)
	}
	return id, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrInvalidID
	}
	err := os.Remove(filepath.Join(s.dir, id))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete blob %s", id)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, ErrInvalidID
	}
	_, err := os.Stat(filepath.Join(s.dir, id))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.Wrapf(err, "stat blob %s", id)
	}
}

// Open returns a reader for the blob content.
func (s *FileStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if !validID(id) {
		return nil, ErrInvalidID
	}
	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		return nil, errors.Wrapf(err, "open blob %s", id)
	}
	return f, nil
}

// List returns every published blob; in-flight temp files are skipped.
func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read blob dir %s", s.dir)
	}
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tempPrefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "stat blob %s", e.Name())
		}
		infos = append(infos, Info{ID: e.Name(), ModTime: fi.ModTime()})
	}
	return infos, nil
}
