package cli

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/katalog/produk-server/app/janitor"
	"github.com/katalog/produk-server/app/session"
	"github.com/katalog/produk-server/blobstore"
	"github.com/katalog/produk-server/config"
	"github.com/katalog/produk-server/logger"
	"github.com/katalog/produk-server/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// app holds the process-scoped handles shared by the commands.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB

	products *models.ProductsRepository
	admins   *models.AdminsRepository
	orphans  *models.OrphansRepository
	blobs    blobstore.Store
	sessions *session.Manager
}

func newApp(path string) (*app, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "init logger")
	}
	if cfg.EphemeralSessionKey() {
		log.Warn("SESSION_KEY not set; generated a random key, sessions will not survive a restart")
	}

	dbLevel := gormlogger.Warn
	if cfg.Logger.Mode == "production" {
		dbLevel = gormlogger.Error
	}
	db, err := models.Open(cfg.Database.Driver, cfg.Database.URL, dbLevel)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, err
	}

	blobs, err := openBlobStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	sessionsRepo := models.NewSessionsRepository(db)
	store := session.NewStore(sessionsRepo, sessions.Options{
		Path:     "/",
		MaxAge:   cfg.Session.MaxAge,
		HttpOnly: true,
		Secure:   cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	}, cfg.Session.KeyBytes)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		products: models.NewProductsRepository(db),
		admins:   models.NewAdminsRepository(db),
		orphans:  models.NewOrphansRepository(db),
		blobs:    blobs,
		sessions: session.NewManager(store, cfg.Session.Name),
	}, nil
}

func openBlobStore(cfg config.Storage) (blobstore.Store, error) {
	switch cfg.Backend {
	case "cloudinary":
		return blobstore.NewCloudinaryStore(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	default:
		return blobstore.NewFileStore(cfg.UploadDir)
	}
}

func (a *app) sweeper() *janitor.Sweeper {
	return janitor.NewSweeper(a.products, a.orphans, a.blobs, a.sessions, janitor.Options{
		Grace:   a.cfg.GC.Grace,
		Workers: a.cfg.GC.Workers,
	}, a.log)
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.log.Sync()
}
