package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Storage  Storage  `yaml:"storage"`
	Session  Session  `yaml:"session"`
	Admin    Admin    `yaml:"admin"`
	Logger   Logger   `yaml:"logger"`
	GC       GC       `yaml:"gc"`
}

type Server struct {
	Addr            string        `yaml:"addr" default:":3000"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" default:"10485760"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

type Database struct {
	Driver string `yaml:"driver" default:"sqlite"` // sqlite, postgres or mysql
	URL    string `yaml:"url" default:"./database.db"`
}

type Storage struct {
	Backend          string `yaml:"backend" default:"fs"` // fs or cloudinary
	UploadDir        string `yaml:"upload_dir" default:"./uploads"`
	CloudinaryURL    string `yaml:"cloudinary_url"`
	CloudinaryFolder string `yaml:"cloudinary_folder" default:"produk"`
}

type Session struct {
	Name   string `yaml:"name" default:"produk-session"`
	Key    string `yaml:"key"` // base64, at least 32 bytes
	MaxAge int    `yaml:"max_age" default:"86400"`
	Secure bool   `yaml:"secure"`

	// KeyBytes is the decoded Key, filled by LoadConfig.
	KeyBytes []byte `yaml:"-"`
}

// Admin holds the bootstrap credential used when no admin row exists.
// The default password is a deployment secret and must be rotated.
type Admin struct {
	DefaultUsername string `yaml:"default_username" default:"admin"`
	DefaultPassword string `yaml:"default_password" default:"admin123"`
}

type Logger struct {
	Mode       string `yaml:"mode" default:"development"` // development or production
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename" default:"./logs/produk.log"`
}

type GC struct {
	Enabled  bool          `yaml:"enabled" default:"true"`
	Schedule string        `yaml:"schedule" default:"@every 1h"`
	Grace    time.Duration `yaml:"grace" default:"1h"`
	Workers  int           `yaml:"workers" default:"4"`
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// a .env file in the working directory and finally the process environment.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		// Resolve relative paths against the config file location
		base := filepath.Dir(configPath)
		if cfg.Database.Driver == "sqlite" && !filepath.IsAbs(cfg.Database.URL) {
			cfg.Database.URL = filepath.Join(base, cfg.Database.URL)
		}
		if !filepath.IsAbs(cfg.Storage.UploadDir) {
			cfg.Storage.UploadDir = filepath.Join(base, cfg.Storage.UploadDir)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.decodeSessionKey(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("DATABASE_DRIVER", &c.Database.Driver)
	setString("DATABASE_URL", &c.Database.URL)
	setString("STORAGE_BACKEND", &c.Storage.Backend)
	setString("UPLOAD_DIR", &c.Storage.UploadDir)
	setString("CLOUDINARY_URL", &c.Storage.CloudinaryURL)
	setString("SESSION_KEY", &c.Session.Key)
	setString("ADMIN_USERNAME", &c.Admin.DefaultUsername)
	setString("ADMIN_PASSWORD", &c.Admin.DefaultPassword)
	setString("LOG_MODE", &c.Logger.Mode)

	if port, ok := os.LookupEnv("PORT"); ok {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q", port)
		}
		c.Server.Addr = ":" + port
	}
	if v, ok := os.LookupEnv("COOKIE_SECURE"); ok {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid COOKIE_SECURE %q", v)
		}
		c.Session.Secure = secure
	}
	return nil
}

// EphemeralSessionKey reports whether the session key was generated at
// startup, in which case sessions do not survive a restart.
func (c *Config) EphemeralSessionKey() bool {
	return c.Session.Key == ""
}

func (c *Config) decodeSessionKey() error {
	if c.Session.Key == "" {
		c.Session.KeyBytes = securecookie.GenerateRandomKey(32)
		if c.Session.KeyBytes == nil {
			return fmt.Errorf("failed to generate session key")
		}
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Session.Key)
	if err != nil {
		return fmt.Errorf("session key is not valid base64: %w", err)
	}
	if len(key) < 32 {
		return fmt.Errorf("session key must decode to at least 32 bytes, got %d", len(key))
	}
	c.Session.KeyBytes = key
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mysql")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.UploadDir == "" {
			return fmt.Errorf("storage.upload_dir is required for the fs backend")
		}
	case "cloudinary":
		if c.Storage.CloudinaryURL == "" {
			return fmt.Errorf("storage.cloudinary_url is required for the cloudinary backend")
		}
	default:
		return fmt.Errorf("storage.backend must be fs or cloudinary")
	}
	if c.Admin.DefaultUsername == "" || c.Admin.DefaultPassword == "" {
		return fmt.Errorf("admin default credentials are required")
	}
	if c.Session.MaxAge < 1 {
		return fmt.Errorf("session.max_age must be at least 1 second")
	}
	if c.GC.Workers < 1 {
		return fmt.Errorf("gc.workers must be at least 1")
	}
	return nil
}
