package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

// testKey returns a fresh 32-byte key. Each call builds its own buffer
// because key construction consumes the input slice.
func testKey(t *testing.T, fill byte) *security.EncryptionKey {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = fill
	}
	key, err := security.NewKey(raw)
	require.NoError(t, err)
	return key
}

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// fastPoolConfig keeps pool tests snappy: short timeouts, no WAL tuning
// surprises, health checks on.
func fastPoolConfig() models.PoolConfig {
	cfg := models.DefaultPoolConfig()
	cfg.MaxConnections = 2
	cfg.MinIdle = 0
	cfg.ConnectionTimeout = 2 * time.Second
	return cfg
}

// createPopulatedDB opens the database, writes a small table and closes,
// leaving an on-disk file whose header is bound to the given key and config.
func createPopulatedDB(t *testing.T, path string, cfg models.CipherConfig, key *security.EncryptionKey, rows int) {
	t.Helper()
	ctx := context.Background()

	conn, err := Open(ctx, path, cfg, key)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS entries (id INTEGER PRIMARY KEY, payload TEXT NOT NULL)")
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		_, err = conn.ExecContext(ctx, "INSERT INTO entries (payload) VALUES (?)", "row-payload")
		require.NoError(t, err)
	}
	_, err = conn.ExecContext(ctx, "PRAGMA user_version = 7")
	require.NoError(t, err)
}

func countEntries(t *testing.T, conn *Connection) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRowContext(context.Background(), "SELECT count(*) FROM entries").Scan(&n))
	return n
}

// requireSQLCipher skips tests that depend on actual page encryption when
// the driver is built against plain SQLite. Key handling, pragma ordering
// and pool mechanics are still exercised either way; only wrong-key
// rejection and cross-key export need the real cipher.
func requireSQLCipher(t *testing.T) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var version string
	if err := db.QueryRow("PRAGMA cipher_version").Scan(&version); err != nil || version == "" {
		t.Skip("driver built without SQLCipher support")
	}
}
