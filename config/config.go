package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
	DatabaseMongo    = "mongo"
)

type OIDC struct {
	ClientID     string
	ClientSecret string
	JWTSecret    string
	State        string
	Host         string
}

type Config struct {
	Addr          string
	Database      string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	LogLevel      string
	OIDC          OIDC
}

// Load reads an optional .env file and then the VOTE_* environment.
func Load(files ...string) (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load(files...)

	cfg := &Config{
		Addr:          getenv("VOTE_ADDR", ":8080"),
		Database:      getenv("VOTE_DATABASE", DatabaseSQLite),
		DatabaseURL:   os.Getenv("VOTE_DATABASE_URL"),
		MongoURI:      os.Getenv("VOTE_MONGODB_URI"),
		MongoDatabase: getenv("VOTE_MONGODB_DATABASE", "quickpoll"),
		LogLevel:      os.Getenv("VOTE_LOG_LEVEL"),
		OIDC: OIDC{
			ClientID:     os.Getenv("VOTE_OIDC_ID"),
			ClientSecret: os.Getenv("VOTE_OIDC_SECRET"),
			JWTSecret:    os.Getenv("VOTE_JWT_SECRET"),
			State:        os.Getenv("VOTE_STATE"),
			Host:         os.Getenv("VOTE_HOST"),
		},
	}

	switch cfg.Database {
	case DatabasePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("VOTE_DATABASE_URL required for postgres")
		}
	case DatabaseSQLite:
		if cfg.DatabaseURL == "" {
			cfg.DatabaseURL = "quickpoll.db"
		}
	case DatabaseMongo:
		if cfg.MongoURI == "" {
			return nil, errors.New("VOTE_MONGODB_URI required for mongo")
		}
	default:
		return nil, errors.New("VOTE_DATABASE must be one of postgres, sqlite, mongo")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
