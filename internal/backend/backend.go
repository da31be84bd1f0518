// Package backend selects the entity backend the stores run against.
package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"crmcore/internal/core"
	"crmcore/internal/infra/api/httpapi"
	"crmcore/internal/infra/persistence/memory"
	"crmcore/internal/infra/persistence/postgres"
	"crmcore/internal/infra/persistence/sqlite"
)

// Driver identifies a concrete backend implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-process only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverHTTP     Driver = "http"     // remote crmcore API
)

// Environment keys read by ConfigFromEnv.
const (
	EnvDriver      = "CRMCORE_STORAGE_DRIVER"
	EnvSQLitePath  = "CRMCORE_SQLITE_PATH"
	EnvPostgresDSN = "CRMCORE_POSTGRES_DSN"
	EnvAPIURL      = "CRMCORE_API_URL"
	EnvAPIToken    = "CRMCORE_API_TOKEN"
)

// Config selects and configures a backend.
type Config struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
	APIURL      string
	APIToken    string
	// ReadOnly rejects mutations on the embedded drivers.
	ReadOnly bool
	Logger   core.Logger
}

// ConfigFromEnv reads backend configuration from the process environment.
//
//	CRMCORE_STORAGE_DRIVER: memory|sqlite|postgres|http (default sqlite)
//	CRMCORE_SQLITE_PATH: path to sqlite file (default ./crmcore.db)
//	CRMCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	CRMCORE_API_URL, CRMCORE_API_TOKEN: remote API when driver=http
func ConfigFromEnv() Config {
	return Config{
		Driver:      Driver(strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver)))),
		SQLitePath:  os.Getenv(EnvSQLitePath),
		PostgresDSN: os.Getenv(EnvPostgresDSN),
		APIURL:      os.Getenv(EnvAPIURL),
		APIToken:    os.Getenv(EnvAPIToken),
	}
}

// Backend is an opened core.Backend that must be closed after use.
type Backend interface {
	core.Backend
	io.Closer
}

type nopCloser struct{ core.Backend }

func (nopCloser) Close() error { return nil }

// Open builds the backend described by cfg. The embedded drivers evaluate the
// default rules engine before every commit.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	var opts []memory.Option
	if cfg.ReadOnly {
		opts = append(opts, memory.WithReadOnly())
	}
	switch cfg.Driver {
	case DriverMemory:
		return nopCloser{memory.NewStore(core.NewDefaultRulesEngine(), opts...)}, nil
	case "", DriverSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, core.NewDefaultRulesEngine(), opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, core.NewDefaultRulesEngine(), opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverHTTP:
		clientOpts := []httpapi.Option{httpapi.WithLogger(cfg.Logger)}
		if cfg.APIToken != "" {
			clientOpts = append(clientOpts, httpapi.WithBearerToken(cfg.APIToken))
		}
		client, err := httpapi.New(cfg.APIURL, clientOpts...)
		if err != nil {
			return nil, err
		}
		return nopCloser{client}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// OpenFromEnv is Open(ctx, ConfigFromEnv()).
func OpenFromEnv(ctx context.Context) (Backend, error) {
	return Open(ctx, ConfigFromEnv())
}
