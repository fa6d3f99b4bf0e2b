package cli

import (
	"net/http"
	"os/signal"
	"syscall"

	"github.com/katalog/produk-server/app/auth"
	"github.com/katalog/produk-server/app/catalog"
	"github.com/katalog/produk-server/app/server"
	"github.com/katalog/produk-server/blobstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Migrates the database, ensures the bootstrap admin exists and serves the catalog API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if _, err := auth.EnsureDefaultAdmin(ctx, a.admins, a.cfg.Admin.DefaultUsername, a.cfg.Admin.DefaultPassword, a.log); err != nil {
			return err
		}

		svc := catalog.NewService(a.products, a.blobs, a.sessions, a.orphans, a.log)
		router := server.NewRouter(
			auth.NewAuthHandler(auth.NewVerifier(a.admins, a.log), a.sessions, a.log),
			catalog.NewCatalogHandler(svc, a.sessions, a.cfg.Server.MaxUploadBytes, a.log),
			a.uploads(),
			a.log,
		)

		if a.cfg.GC.Enabled {
			sweeper := a.sweeper()
			if err := sweeper.Start(a.cfg.GC.Schedule); err != nil {
				return err
			}
			defer func() { <-sweeper.Stop().Done() }()
		}

		return server.New(a.cfg.Server.Addr, router, a.cfg.Server.ShutdownTimeout, a.log).Run(ctx)
	},
}

// uploads picks how GET /uploads/{blob} is answered for the configured store.
func (a *app) uploads() http.Handler {
	switch s := a.blobs.(type) {
	case *blobstore.FileStore:
		return server.FileBlobs(s.Dir())
	case *blobstore.CloudinaryStore:
		return server.RedirectBlobs(s)
	default:
		a.log.Warn("blob store cannot be served over http", zap.String("backend", a.cfg.Storage.Backend))
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
