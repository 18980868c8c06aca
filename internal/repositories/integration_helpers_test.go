//go:build integration

package repositories

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/rosterauth/internal/database"
)

// setupTestDatabase starts a postgres container, applies migrations and
// registers teardown with t.Cleanup
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("roster"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := database.New(pool, slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	require.NoError(t, db.Migrate(ctx))

	return db
}

func seedAccount(t *testing.T, db *database.DB, id, username string, hash, salt *string, active bool, roles ...string) {
	t.Helper()
	ctx := context.Background()

	_, err := db.Pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, password_salt, is_active) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, username, username+"@example.com", hash, salt, active)
	require.NoError(t, err)

	for i, role := range roles {
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO account_roles (account_id, role_name, assigned_at) VALUES ($1, $2, $3)`,
			id, role, time.Now().Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
}
