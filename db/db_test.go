package db

import (
	"context"
	"os"
	"testing"
)

func TestMigrateIdempotency(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres migration test")
	}
	ctx := context.Background()
	database, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	}()

	for i := 0; i < 2; i++ {
		if err := Migrate(ctx, database); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}

	var exists bool
	if err := database.QueryRowContext(ctx, `SELECT to_regclass('public.response_cache') IS NOT NULL`).Scan(&exists); err != nil {
		t.Fatalf("query table: %v", err)
	}
	if !exists {
		t.Errorf("response_cache table missing after migrate")
	}
}

func TestConnectBadDSN(t *testing.T) {
	if _, err := Connect(context.Background(), "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"); err == nil {
		t.Errorf("expected connect error for unreachable database")
	}
}
