package state

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/krewdev/bluetrap/internal/config"
)

func openTestSQL(t *testing.T) (*SQL, *time.Time) {
	t.Helper()

	db, err := sql.Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := NewSQL(db, DriverSQLite)
	backend.now = func() time.Time { return now }
	require.NoError(t, backend.Migrate(context.Background()))

	return backend, &now
}

func TestSQLGetSet(t *testing.T) {
	ctx := context.Background()
	backend, now := openTestSQL(t)

	_, ok, err := backend.Get(ctx, TrapKey("1.2.3.4"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, backend.Set(ctx, TrapKey("1.2.3.4"), []byte(`{"level":1}`), TrapTTL))
	value, ok, err := backend.Get(ctx, TrapKey("1.2.3.4"))
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"level":1}`, string(value))

	require.NoError(t, backend.Set(ctx, TrapKey("1.2.3.4"), []byte(`{"level":2}`), TrapTTL))
	value, _, err = backend.Get(ctx, TrapKey("1.2.3.4"))
	require.NoError(t, err)
	require.JSONEq(t, `{"level":2}`, string(value))

	*now = now.Add(TrapTTL)
	exists, err := backend.Exists(ctx, TrapKey("1.2.3.4"))
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, backend.Delete(ctx, "k"))
	exists, err = backend.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSQLIncrement(t *testing.T) {
	ctx := context.Background()
	backend, now := openTestSQL(t)

	for i := int64(1); i <= 3; i++ {
		n, err := backend.Increment(ctx, TotalTrappedKey)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	require.NoError(t, backend.Set(ctx, "expiring", []byte("41"), time.Second))
	n, err := backend.Increment(ctx, "expiring")
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	*now = now.Add(2 * time.Second)
	n, err = backend.Increment(ctx, "expiring")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "an expired counter restarts")
}

func TestSQLKeysAndPrune(t *testing.T) {
	ctx := context.Background()
	backend, now := openTestSQL(t)

	require.NoError(t, backend.Set(ctx, VisitsKey("1.1.1.1"), []byte("{}"), VisitsTTL))
	require.NoError(t, backend.Set(ctx, VisitsKey("2.2.2.2"), []byte("{}"), time.Second))
	require.NoError(t, backend.Set(ctx, RateKey("1.1.1.1"), []byte("{}"), RateTTL))

	keys, err := backend.Keys(ctx, Pattern(VisitsPrefix))
	require.NoError(t, err)
	require.Equal(t, []string{"maze:visits:1.1.1.1", "maze:visits:2.2.2.2"}, keys)

	*now = now.Add(5 * time.Second)
	keys, err = backend.Keys(ctx, Pattern(VisitsPrefix))
	require.NoError(t, err)
	require.Equal(t, []string{"maze:visits:1.1.1.1"}, keys)

	removed, err := backend.Prune(ctx, *now)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./bluetrap.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./bluetrap.db", dsn)
	})

	t.Run("PathMissing", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestBuildSQLiteDSN(t *testing.T) {
	dir := t.TempDir()

	dsn, err := buildSQLiteDSN(config.StoreConfig{Path: dir + "/state/bluetrap.db"})
	require.NoError(t, err)
	require.Equal(t, dir+"/state/bluetrap.db?mode=rwc&_pragma=busy_timeout(5000)", dsn)
	require.DirExists(t, dir+"/state")

	_, err = buildSQLiteDSN(config.StoreConfig{})
	require.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	backend, err := OpenBackend(ctx, config.StoreConfig{Driver: DriverMemory})
	require.NoError(t, err)
	require.Nil(t, backend)

	_, err = OpenBackend(ctx, config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)

	_, err = OpenBackend(ctx, config.StoreConfig{Driver: DriverRedis})
	require.Error(t, err, "redis without url or addr is a config error")

	backend, err = OpenBackend(ctx, config.StoreConfig{Driver: DriverSQLite, Path: t.TempDir() + "/kv.db"})
	require.NoError(t, err)
	require.NoError(t, backend.Ping(ctx))
	require.NoError(t, backend.Close())
}
