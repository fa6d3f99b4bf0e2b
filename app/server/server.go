package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

type AuthRoutes interface {
	HandleLogin(w http.ResponseWriter, r *http.Request)
	HandleLogout(w http.ResponseWriter, r *http.Request)
	HandleCheckLogin(w http.ResponseWriter, r *http.Request)
}

type CatalogRoutes interface {
	HandleList(w http.ResponseWriter, r *http.Request)
	HandleAdminList(w http.ResponseWriter, r *http.Request)
	HandleCreate(w http.ResponseWriter, r *http.Request)
	HandleUpdate(w http.ResponseWriter, r *http.Request)
	HandleDelete(w http.ResponseWriter, r *http.Request)
}

// NewRouter builds the HTTP surface. uploads serves GET /uploads/{blob} and
// may be nil when blobs are not served by this process.
func NewRouter(auth AuthRoutes, catalog CatalogRoutes, uploads http.Handler, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", auth.HandleLogin)
	mux.HandleFunc("GET /api/logout", auth.HandleLogout)
	mux.HandleFunc("GET /api/cek-login", auth.HandleCheckLogin)

	mux.HandleFunc("GET /api/produk", catalog.HandleList)
	mux.HandleFunc("GET /api/produk-admin", catalog.HandleAdminList)
	mux.HandleFunc("POST /api/produk", catalog.HandleCreate)
	mux.HandleFunc("PUT /api/produk/{id}", catalog.HandleUpdate)
	mux.HandleFunc("DELETE /api/produk/{id}", catalog.HandleDelete)

	if uploads != nil {
		mux.Handle("GET /uploads/{blob}", uploads)
	}

	return LoggingMiddleware(log, RecoverMiddleware(log, SecurityHeadersMiddleware(mux)))
}

// FileBlobs serves blobs straight from the upload directory.
func FileBlobs(dir string) http.Handler {
	fsys := os.DirFS(dir)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("blob")
		if name == "" || strings.HasPrefix(name, ".") {
			http.NotFound(w, r)
			return
		}
		http.ServeFileFS(w, r, fsys, name)
	})
}

type BlobURLer interface {
	URL(id string) (string, error)
}

// RedirectBlobs sends clients to the blob's location on a remote store.
func RedirectBlobs(u BlobURLer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target, err := u.URL(r.PathValue("blob"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	})
}

type Server struct {
	http            *http.Server
	shutdownTimeout time.Duration
	log             *zap.Logger
}

func New(addr string, handler http.Handler, shutdownTimeout time.Duration, log *zap.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		log:             log,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("server exited gracefully")
	return nil
}
