package bootstrap_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/evetabi/auction/internal/bootstrap"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/service"
)

func TestOpen_SQLiteOnly(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"DB_DRIVER":         "sqlite",
		"DATABASE_DSN":      filepath.Join(t.TempDir(), "boot.db"),
		"JWT_ACCESS_SECRET": "bootstrap-test-secret",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	logger := bootstrap.NewLogger(cfg)

	in, err := bootstrap.Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer in.Close()

	if in.Repo == nil || in.DB == nil {
		t.Fatal("store not opened")
	}
	if n := in.Events.Len(); n != 0 {
		t.Fatalf("publishers = %d, want none without redis/nats", n)
	}
	if in.Lease != nil {
		t.Fatal("lease set without redis")
	}
	if _, ok := in.Oracle.(service.TrustSellerOracle); !ok {
		t.Fatalf("oracle = %T, want TrustSellerOracle", in.Oracle)
	}
	if _, err := in.Repo.CountByStatus(context.Background()); err != nil {
		t.Fatalf("store not migrated: %v", err)
	}
}

func TestOpen_BadDriver(t *testing.T) {
	cfg := &config.Config{DB: config.DBConfig{Driver: "oracle"}}
	if _, err := bootstrap.Open(context.Background(), cfg, bootstrap.NewLogger(cfg)); err == nil {
		t.Fatal("Open accepted an unknown driver")
	}
}
