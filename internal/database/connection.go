package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vaultlite/internal/errors"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

const tracerName = "vaultlite/database"

// Connection is a single open handle to an encrypted database file, bound
// to one cipher config and one key at open time. The underlying driver
// connection is pinned so every statement runs on the handle the key was
// applied to. A Connection is used exclusively by one caller at a time.
type Connection struct {
	db       *sql.DB
	conn     *sql.Conn
	path     string
	cfg      models.CipherConfig
	openedAt time.Time
	lastUsed time.Time
}

// Open opens (or creates) the encrypted database at path and returns a
// validated connection.
//
// The key pragma is the very first statement issued on the fresh handle;
// issuing any query before the key is set on an encrypted file is undefined
// behavior in the engine, so the ordering here is load-bearing. The cipher
// pragmas follow in their fixed order, then the key is validated with a
// header read. A handle whose key turns out to be wrong is closed and never
// returned.
func Open(ctx context.Context, path string, cfg models.CipherConfig, key *security.EncryptionKey) (*Connection, error) {
	return open(ctx, path, cfg, key, true)
}

func open(ctx context.Context, path string, cfg models.CipherConfig, key *security.EncryptionKey, probeVersions bool) (*Connection, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db.open")
	defer span.End()
	span.SetAttributes(attribute.String("db.path", path), attribute.String("db.cipher_version", cfg.Version.String()))

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "cipher config rejected")
	}
	if err := security.ValidateDatabasePath(path); err != nil {
		return nil, errors.NewValidationError("path", err.Error())
	}
	if key == nil || key.Zeroized() {
		return nil, errors.NewValidationError("key", "encryption key is missing or already zeroized")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.NewIOError("open database", err)
	}
	// One driver-level connection per handle. Pooling happens a layer up.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		closeQuietly(db, nil)
		return nil, classifyOpenError(path, err)
	}

	c := &Connection{
		db:       db,
		conn:     conn,
		path:     path,
		cfg:      cfg,
		openedAt: time.Now(),
		lastUsed: time.Now(),
	}

	if err := c.applyCipher(ctx, key); err != nil {
		c.Close()
		span.RecordError(err)
		return nil, err
	}

	if err := c.validateKey(ctx); err != nil {
		c.Close()
		span.RecordError(err)
		// A wrong-key failure may actually be a cipher-version mismatch.
		// Probe the other supported version before settling on WrongKey.
		if probeVersions && errors.IsCode(err, errors.ErrCodeWrongKey) && path != security.MemoryPath {
			if found, ok := probeOtherVersion(ctx, path, cfg, key); ok {
				return nil, errors.NewIncompatibleVersionError(cfg.Version.String(), found.String())
			}
		}
		return nil, err
	}

	return c, nil
}

// applyCipher issues the key pragma first, then the remaining cipher
// pragmas in the mandated order.
func (c *Connection) applyCipher(ctx context.Context, key *security.EncryptionKey) error {
	if _, err := c.conn.ExecContext(ctx, keyPragma(key)); err != nil {
		return classifyOpenError(c.path, err)
	}
	for _, pragma := range cipherPragmas(c.cfg, "") {
		if _, err := c.conn.ExecContext(ctx, pragma); err != nil {
			// Cipher pragmas never contain key material, safe to record.
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to apply cipher pragma").
				WithContext("pragma", pragma)
		}
	}
	return nil
}

// validateKey forces decryption of the database header right after open.
// PRAGMA user_version reads the header page; the sqlite_master count walks
// the schema, catching corruption the header read would miss.
func (c *Connection) validateKey(ctx context.Context) error {
	var userVersion int
	if err := c.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&userVersion); err != nil {
		return classifyOpenError(c.path, err)
	}

	var count int
	if err := c.conn.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&count); err != nil {
		return classifyOpenError(c.path, err)
	}

	return nil
}

// probeOtherVersion attempts a read with the alternate cipher version to
// distinguish IncompatibleVersion from a plainly wrong key.
func probeOtherVersion(ctx context.Context, path string, cfg models.CipherConfig, key *security.EncryptionKey) (models.CipherVersion, bool) {
	var probe models.CipherConfig
	if cfg.Version == models.CipherV4 {
		probe = models.CipherConfigV3()
	} else {
		probe = models.DefaultCipherConfig()
	}

	conn, err := open(ctx, path, probe, key, false)
	if err != nil {
		return 0, false
	}
	conn.Close()
	return probe.Version, true
}

// applySessionPragmas applies the per-connection tuning pragmas the pool
// mandates: journal mode, foreign keys and busy timeout. These come after
// the cipher pragmas and before the connection is handed to callers.
func (c *Connection) applySessionPragmas(ctx context.Context, cfg models.PoolConfig) error {
	if cfg.EnableWAL && c.path != security.MemoryPath {
		if _, err := c.conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return errors.NewIOError("enable WAL", err)
		}
		if _, err := c.conn.ExecContext(ctx, "PRAGMA wal_autocheckpoint=1000"); err != nil {
			return errors.NewIOError("set wal_autocheckpoint", err)
		}
	}
	if _, err := c.conn.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		return errors.NewIOError("set synchronous", err)
	}
	if cfg.EnableForeignKeys {
		if _, err := c.conn.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			return errors.NewIOError("enable foreign keys", err)
		}
	}
	if cfg.BusyTimeout > 0 {
		stmt := fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds())
		if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
			return errors.NewIOError("set busy timeout", err)
		}
	}
	return nil
}

// ExecContext executes a statement on the pinned connection
func (c *Connection) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.lastUsed = time.Now()
	return c.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pinned connection
func (c *Connection) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	c.lastUsed = time.Now()
	return c.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pinned connection
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	c.lastUsed = time.Now()
	return c.conn.QueryRowContext(ctx, query, args...)
}

// Ping is the cheap liveness check the pool runs before handing out a
// connection that has been idle.
func (c *Connection) Ping(ctx context.Context) error {
	var one int
	if err := c.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.NewIOError("liveness check", err)
	}
	return nil
}

// Path returns the database file path the connection is bound to
func (c *Connection) Path() string {
	return c.path
}

// Config returns the cipher config the connection was opened with
func (c *Connection) Config() models.CipherConfig {
	return c.cfg
}

// IdleSince returns the time of last use
func (c *Connection) IdleSince() time.Time {
	return c.lastUsed
}

// Close releases the pinned driver connection and the handle
func (c *Connection) Close() error {
	return closeQuietly(c.db, c.conn)
}

func closeQuietly(db *sql.DB, conn *sql.Conn) error {
	var firstErr error
	if conn != nil {
		if err := conn.Close(); err != nil {
			firstErr = err
		}
	}
	if db != nil {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return errors.NewIOError("close connection", firstErr)
	}
	return nil
}
