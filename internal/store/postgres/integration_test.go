//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"tendabike.dev/engine/internal/domain/part"
	"tendabike.dev/engine/internal/domain/person"
	"tendabike.dev/engine/internal/domain/types"
	"tendabike.dev/engine/internal/domain/usage"
)

func setupPostgres(t *testing.T) (*Pool, func()) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("tendabike"),
		postgrescontainer.WithUsername("tendabike"),
		postgrescontainer.WithPassword("tendabike"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := NewPool(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := NewPool(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	migrationsDir := resolvePath(t, "../../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one migration .up.sql file")
	sort.Strings(files)

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		if _, execErr := pool.DB.Exec(ctx, string(contents)); execErr != nil {
			require.NoErrorf(t, execErr, "execute migration %s", file)
		}
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := NewPool(ctx, connStr)
		if err == nil {
			err = pool.DB.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

// seedUsage inserts a zero-valued usage row so parts/attachments/services
// can reference it under the usages foreign key.
func seedUsage(t *testing.T, ctx context.Context, pool *Pool) usage.ID {
	t.Helper()
	id := usage.NewID()
	_, err := pool.DB.Exec(ctx, `INSERT INTO usages (id) VALUES ($1)`, string(id))
	require.NoError(t, err)
	return id
}

// seedPart inserts a minimal part row directly, bypassing PartStore.Create,
// for tests that need a part to exist before exercising a different store.
func seedPart(t *testing.T, ctx context.Context, pool *Pool, owner person.ID, what types.PartTypeID) part.ID {
	t.Helper()
	usageID := seedUsage(t, ctx, pool)
	now := time.Now().UTC()
	var id int64
	err := pool.DB.QueryRow(ctx, `
		INSERT INTO parts (owner, what, name, purchase, last_used, usage_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		int64(owner), int(what), "seed part", now, now, string(usageID)).Scan(&id)
	require.NoError(t, err)
	return part.ID(id)
}
