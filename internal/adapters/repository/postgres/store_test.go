package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/adapters/repository/contracttest"
	"github.com/okian/railflow/internal/adapters/repository/postgres"
)

const dropAll = `
	DROP TABLE IF EXISTS track_sections, rolling_stock, schedules, real_time_data,
		weather_data, maintenance_blocks, operational_metrics`

// TestContract_PostgresStore is destructive: it drops the railflow tables.
func TestContract_PostgresStore(t *testing.T) {
	dsn := os.Getenv("RAILFLOW_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RAILFLOW_TEST_PG_DSN not set; skipping Postgres contract tests")
	}

	contracttest.RunStore(t, func(t *testing.T) (repository.Store, func()) {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 4})
		if err != nil {
			t.Fatalf("open pool: %v", err)
		}
		if _, err := pool.Exec(ctx, dropAll); err != nil {
			t.Fatalf("reset schema: %v", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			t.Fatalf("ensure schema: %v", err)
		}
		s := postgres.NewStore(pool)
		return s, func() { _ = s.Close() }
	})
}

func TestNewPoolRequiresDSN(t *testing.T) {
	if _, err := postgres.NewPool(context.Background(), "", postgres.PoolOptions{}); err == nil {
		t.Fatal("expected an error for an empty dsn")
	}
}
