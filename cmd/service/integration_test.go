//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github-manager/internal/model"
	"github-manager/internal/store"
)

func setupTestDatabase(ctx context.Context, t *testing.T) (*pgxpool.Pool, func()) {
	// Start a postgres container
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second),
		),
	)
	require.NoError(t, err)

	// Get the connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	m, err := migrate.New("file://../../migrations", connStr)
	require.NoError(t, err)
	err = m.Up()
	require.NoError(t, err)

	// Create a connection pool
	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	// Teardown function to be called by the test
	teardown := func() {
		dbpool.Close()
		err := pgContainer.Terminate(ctx)
		require.NoError(t, err)
	}

	return dbpool, teardown
}

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dbpool, teardown := setupTestDatabase(ctx, t)
	defer teardown()

	db := store.NewPostgres(dbpool)

	t.Run("record round trip", func(t *testing.T) {
		record := model.Issue{
			IssueID:    1,
			Repository: "acme/widgets",
			Number:     7,
			Title:      "Bug",
			State:      "open",
			IsSynced:   true,
			LastSynced: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}
		key := model.IssueKey("acme/widgets", 7)

		exists, err := db.Exists(ctx, model.KindIssue, key)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, db.Create(ctx, model.KindIssue, key, record))

		var stored model.Issue
		require.NoError(t, db.Get(ctx, model.KindIssue, key, &stored))
		assert.Equal(t, record, stored)

		// Update goes through the same upsert path.
		record.State = "closed"
		require.NoError(t, db.Update(ctx, model.KindIssue, key, record))
		require.NoError(t, db.Get(ctx, model.KindIssue, key, &stored))
		assert.Equal(t, "closed", stored.State)

		keys, err := db.ListKeys(ctx, model.KindIssue)
		require.NoError(t, err)
		assert.Equal(t, []string{key}, keys)
	})

	t.Run("count by json field", func(t *testing.T) {
		for i, state := range []string{"open", "open", "closed"} {
			pr := model.PullRequest{Repository: "acme/widgets", Number: i + 1, State: state}
			require.NoError(t, db.Create(ctx, model.KindPullRequest, model.PullRequestKey("acme/widgets", i+1), pr))
		}

		total, err := db.CountWhere(ctx, model.KindPullRequest, "", "")
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)

		open, err := db.CountWhere(ctx, model.KindPullRequest, "state", "open")
		require.NoError(t, err)
		assert.Equal(t, int64(2), open)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		key := model.ReleaseKey("acme/widgets", "v1.0.0")
		require.NoError(t, db.Create(ctx, model.KindRelease, key, model.Release{TagName: "v1.0.0"}))
		require.NoError(t, db.Delete(ctx, model.KindRelease, key))

		exists, err := db.Exists(ctx, model.KindRelease, key)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("audit trail is appendable", func(t *testing.T) {
		entry := model.AuditLogEntry{
			ActionType:   "create",
			ResourceType: "repository",
			ResourceName: "acme/widgets",
			User:         "admin",
			Status:       "success",
			Timestamp:    time.Now().UTC(),
		}
		assert.NoError(t, db.Append(ctx, entry))
	})

	t.Run("api state round trip", func(t *testing.T) {
		resetAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
		require.NoError(t, db.SaveRateLimit(ctx, 1200, resetAt))
		require.NoError(t, db.SaveTokenRefresh(ctx, time.Now().UTC()))

		state, err := db.RateLimit(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1200, state.Remaining)
		assert.True(t, state.ResetAt.Equal(resetAt))
	})
}
