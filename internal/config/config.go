// Package config reads runtime settings from the environment.
//
// A .env file in the working directory is loaded first when present, so
// local development needs no exported variables. Real environment variables
// always win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything cmd/server and cmd/companion need to wire the app.
type Config struct {
	Port     int
	DBPath   string
	LogLevel slog.Level

	JWTSecret string
	TokenTTL  time.Duration

	Google     Google
	Relational Relational
	Document   Document
	Avatar     Avatar

	BootstrapAdminSecret string
}

// Google holds the OAuth client registered for social sign-in.
type Google struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Relational points at the remote PostgreSQL backend.
type Relational struct {
	URL string
	Key string
}

// Document points at the remote document-store backend.
type Document struct {
	Addr       string
	APIKey     string
	ProjectID  string
	AuthDomain string
}

// Avatar configures the S3-compatible bucket for uploaded profile pictures.
type Avatar struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// HasRelational reports whether the relational backend is configured.
func (c Config) HasRelational() bool { return c.Relational.URL != "" }

// HasDocument reports whether the document backend is configured.
func (c Config) HasDocument() bool { return c.Document.Addr != "" }

// HasAvatarStore reports whether avatar uploads can be offloaded.
func (c Config) HasAvatarStore() bool { return c.Avatar.Bucket != "" }

// HasGoogle reports whether Google sign-in is configured.
func (c Config) HasGoogle() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// Load reads the configuration. envFiles are loaded before the environment
// is read and must exist; with none given, ./.env is loaded if present.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("config: loading env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	port, err := getenvInt("PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	ttl, err := getenvDuration("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getenv("LOG_LEVEL", "INFO"))); err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	cfg := Config{
		Port:      port,
		DBPath:    getenv("DB_PATH", "data/companion.db"),
		LogLevel:  level,
		JWTSecret: os.Getenv("JWT_SECRET"),
		TokenTTL:  ttl,
		Google: Google{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			CallbackURL:  getenv("GOOGLE_CALLBACK_URL", fmt.Sprintf("http://localhost:%d/auth/google/callback", port)),
		},
		Relational: Relational{
			URL: os.Getenv("RELATIONAL_URL"),
			Key: os.Getenv("RELATIONAL_KEY"),
		},
		Document: Document{
			Addr:       os.Getenv("DOCUMENT_ADDR"),
			APIKey:     os.Getenv("DOCUMENT_API_KEY"),
			ProjectID:  os.Getenv("DOCUMENT_PROJECT_ID"),
			AuthDomain: os.Getenv("DOCUMENT_AUTH_DOMAIN"),
		},
		Avatar: Avatar{
			Bucket:        os.Getenv("AVATAR_S3_BUCKET"),
			Region:        getenv("AVATAR_S3_REGION", "us-east-1"),
			Endpoint:      os.Getenv("AVATAR_S3_ENDPOINT"),
			AccessKey:     os.Getenv("AVATAR_S3_ACCESS_KEY"),
			SecretKey:     os.Getenv("AVATAR_S3_SECRET_KEY"),
			PublicBaseURL: os.Getenv("AVATAR_PUBLIC_BASE_URL"),
		},
		BootstrapAdminSecret: os.Getenv("BOOTSTRAP_ADMIN_SECRET"),
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q", key, v)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q", key, v)
	}
	return d, nil
}
