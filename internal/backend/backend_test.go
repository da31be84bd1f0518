package backend

import (
	"context"
	"path/filepath"
	"testing"

	"crmcore/internal/infra/api/httpapi"
	"crmcore/internal/infra/persistence/memory"
	"crmcore/internal/infra/persistence/sqlite"
	"crmcore/pkg/domain"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvDriver, " HTTP ")
	t.Setenv(EnvAPIURL, "http://crm.internal")
	t.Setenv(EnvAPIToken, "tok")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverHTTP || cfg.APIURL != "http://crm.internal" || cfg.APIToken != "tok" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestOpenMemory(t *testing.T) {
	b, err := Open(context.Background(), Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = b.Close() }()
	if _, ok := b.(nopCloser).Backend.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", b)
	}
	if _, err := b.Companies().Create(context.Background(), domain.Company{Name: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestOpenReadOnlyMemory(t *testing.T) {
	b, err := Open(context.Background(), Config{Driver: DriverMemory, ReadOnly: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := b.Companies().Create(context.Background(), domain.Company{Name: "Acme"}); !domain.IsPermission(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestOpenSQLiteDefaultDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.db")
	b, err := Open(context.Background(), Config{SQLitePath: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = b.Close() }()
	store, ok := b.(*sqlite.Store)
	if !ok || store.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, b)
	}
}

func TestOpenHTTP(t *testing.T) {
	b, err := Open(context.Background(), Config{Driver: DriverHTTP, APIURL: "https://crm.example.com", APIToken: "t"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := b.(nopCloser).Backend.(*httpapi.Client); !ok {
		t.Fatalf("expected http client, got %T", b)
	}
	if _, err := Open(context.Background(), Config{Driver: DriverHTTP}); err == nil {
		t.Fatalf("expected error without api url")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "redis"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
