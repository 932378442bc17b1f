package database

import (
	"context"
	stdsql "database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/retrieval"
)

// newTestClient creates a test database client with CI/local environment detection.
// In CI (when CI_DATABASE_URL is set): connects to an external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
func newTestClient(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}

	ctx := context.Background()

	connStr := os.Getenv("CI_DATABASE_URL")
	if connStr == "" {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	} else {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
	}

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, RunMigrations(db, "test"))

	client := NewClientFromDB(db)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	pool, err := client.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Greater(t, pool.MaxOpen, 0)
	assert.False(t, pool.Saturated())
	assert.Contains(t, pool.String(), "connections in use")
}

func TestPoolHealthSaturated(t *testing.T) {
	assert.True(t, PoolHealth{InUse: 4, MaxOpen: 4}.Saturated())
	assert.False(t, PoolHealth{InUse: 3, MaxOpen: 4}.Saturated())
	// An unconfigured pool (MaxOpen 0 means unlimited) never reads as saturated.
	assert.False(t, PoolHealth{InUse: 9}.Saturated())
}

func TestPoolHealthString(t *testing.T) {
	h := PoolHealth{
		ResponseTime: 3 * time.Millisecond,
		InUse:        2,
		Idle:         1,
		MaxOpen:      5,
		Waits:        7,
	}
	assert.Equal(t, "ping 3ms, 2/5 connections in use, 1 idle, 7 waits", h.String())
}

func TestEpisodeStoreRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	store := retrieval.NewPostgresEpisodeStore(client.DB())

	episode := models.MemoryEpisode{
		ID:        "ep-1",
		Service:   "payment-gateway",
		Summary:   "ErrorRateHigh: connection pool exhausted",
		Severity:  models.SeverityHigh,
		RootCause: "Pool sized for half the observed load.",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, store.AppendEpisode(ctx, episode))

	episodes, err := store.ListEpisodes(ctx)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, episode.ID, episodes[0].ID)
	assert.Equal(t, episode.Service, episodes[0].Service)
	assert.Equal(t, models.SeverityHigh, episodes[0].Severity)
	assert.Equal(t, episode.Embedding, episodes[0].Embedding)

	// Duplicate IDs must surface as ErrDuplicateID, not a raw pg error.
	err = store.AppendEpisode(ctx, episode)
	require.Error(t, err)
	assert.ErrorIs(t, err, retrieval.ErrDuplicateID)
}

func TestMigrationsIdempotent(t *testing.T) {
	client := newTestClient(t)

	// Applying again must be a no-op, not an error.
	require.NoError(t, RunMigrations(client.DB(), "test"))
}

func TestFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	store := retrieval.NewPostgresEpisodeStore(client.DB())

	require.NoError(t, store.AppendEpisode(ctx, models.MemoryEpisode{
		ID:        "ep-db",
		Service:   "orders",
		Summary:   "Critical error in production cluster with pod failures",
		Severity:  models.SeverityCritical,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.AppendEpisode(ctx, models.MemoryEpisode{
		ID:        "ep-mem",
		Service:   "orders",
		Summary:   "Warning: high memory usage detected",
		Severity:  models.SeverityMedium,
		CreatedAt: time.Now().UTC(),
	}))

	rows, err := client.DB().QueryContext(ctx,
		`SELECT id FROM episodes
		 WHERE to_tsvector('english', summary || ' ' || root_cause) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		results = append(results, id)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []string{"ep-db"}, results)
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid config with defaults",
			envVars: map[string]string{"DB_PASSWORD": "test"},
		},
		{
			name: "valid config with custom values",
			envVars: map[string]string{
				"DB_HOST":           "db.example.com",
				"DB_PORT":           "5433",
				"DB_USER":           "admin",
				"DB_PASSWORD":       "secret",
				"DB_NAME":           "production",
				"DB_SSLMODE":        "require",
				"DB_MAX_OPEN_CONNS": "50",
				"DB_MAX_IDLE_CONNS": "20",
			},
		},
		{
			name:        "invalid DB_PORT",
			envVars:     map[string]string{"DB_PORT": "invalid", "DB_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DB_PORT",
		},
		{
			name:        "invalid DB_MAX_OPEN_CONNS",
			envVars:     map[string]string{"DB_MAX_OPEN_CONNS": "not_a_number", "DB_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DB_MAX_OPEN_CONNS",
		},
		{
			name:        "invalid DB_CONN_MAX_LIFETIME",
			envVars:     map[string]string{"DB_CONN_MAX_LIFETIME": "bogus", "DB_PASSWORD": "test"},
			wantErr:     true,
			errContains: "invalid DB_CONN_MAX_LIFETIME",
		},
		{
			name:        "missing password",
			envVars:     map[string]string{},
			wantErr:     true,
			errContains: "DB_PASSWORD is required",
		},
	}

	envKeys := []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
			for key, val := range tt.envVars {
				t.Setenv(key, val)
			}

			cfg, err := LoadConfigFromEnv()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}

			require.NoError(t, err)
			if tt.name == "valid config with defaults" {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 5432, cfg.Port)
				assert.Equal(t, 10, cfg.MaxOpenConns)
				assert.Equal(t, 5, cfg.MaxIdleConns)
				assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		Host:         "localhost",
		Port:         5432,
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, base.Validate())
	})

	t.Run("missing password", func(t *testing.T) {
		cfg := base
		cfg.Password = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("idle conns exceed max conns", func(t *testing.T) {
		cfg := base
		cfg.MaxIdleConns = 20
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero max open conns", func(t *testing.T) {
		cfg := base
		cfg.MaxOpenConns = 0
		assert.Error(t, cfg.Validate())
	})
}
