package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/redis/go-redis/v9"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"

	"github.com/krewdev/bluetrap/internal/config"
)

const (
	DriverRedis  = "redis"
	DriverLibsql = "libsql"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open builds the durable backend selected by cfg and wraps it in a Tiered
// store. Configuration errors are returned; an unreachable backend is not an
// error, the store simply starts in fallback mode.
func Open(ctx context.Context, cfg config.StoreConfig, logger *logging.Logger) (*Tiered, error) {
	durable, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return NewTiered(ctx, durable, NewMemory(), TieredOptions{
		Logger:              logger,
		OpTimeout:           cfg.OpTimeout,
		ReconnectMaxBackoff: cfg.ReconnectMaxBackoff,
	}), nil
}

// OpenBackend returns the durable backend for cfg.Driver, or nil for memory.
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverMemory
	}

	if ctx == nil {
		ctx = context.Background()
	}

	switch driver {
	case DriverMemory:
		return nil, nil
	case DriverRedis:
		opts, err := redisOptions(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(redis.NewClient(opts)), nil
	case DriverLibsql:
		dsn, err := buildLibsqlDSN(cfg)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, DriverLibsql, dsn)
	case DriverSQLite:
		dsn, err := buildSQLiteDSN(cfg)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, DriverSQLite, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func openSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	backend := NewSQL(db, driver)
	if err := backend.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

// buildSQLiteDSN targets modernc.org/sqlite, which takes a plain path plus
// query parameters.
func buildSQLiteDSN(cfg config.StoreConfig) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path is required for the sqlite driver")
	}
	if path == ":memory:" {
		return path, nil
	}

	path = strings.TrimPrefix(path, "file:")
	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return filepath.Clean(path) + "?mode=rwc&_pragma=busy_timeout(5000)", nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
