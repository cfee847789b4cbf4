package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultlite/internal/errors"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

func TestOpenCreatesAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)
	key := testKey(t, 0x11)

	createPopulatedDB(t, path, models.DefaultCipherConfig(), key, 5)

	conn, err := Open(ctx, path, models.DefaultCipherConfig(), key)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, 5, countEntries(t, conn))
	assert.Equal(t, path, conn.Path())
	assert.Equal(t, models.CipherV4, conn.Config().Version)
}

func TestOpenMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	key := testKey(t, 0x22)

	conn, err := Open(ctx, security.MemoryPath, models.DefaultCipherConfig(), key)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid cipher config", func(t *testing.T) {
		cfg := models.DefaultCipherConfig()
		cfg.KDF.Iterations = 10
		_, err := Open(ctx, testDBPath(t), cfg, testKey(t, 0x01))
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidConfig, errors.GetCode(err))
	})

	t.Run("invalid path", func(t *testing.T) {
		_, err := Open(ctx, "../../../etc/shadow.db", models.DefaultCipherConfig(), testKey(t, 0x01))
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
	})

	t.Run("nil key", func(t *testing.T) {
		_, err := Open(ctx, testDBPath(t), models.DefaultCipherConfig(), nil)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
	})

	t.Run("zeroized key", func(t *testing.T) {
		key := testKey(t, 0x01)
		key.Zeroize()
		_, err := Open(ctx, testDBPath(t), models.DefaultCipherConfig(), key)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetCode(err))
	})
}

func TestOpenErrorNeverContainsKey(t *testing.T) {
	ctx := context.Background()
	key := testKey(t, 0x5a)
	hexForm := key.Hex()

	_, err := Open(ctx, "../bad-path.db", models.DefaultCipherConfig(), key)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), hexForm)
}

func TestSessionPragmas(t *testing.T) {
	ctx := context.Background()
	path := testDBPath(t)
	key := testKey(t, 0x33)

	conn, err := Open(ctx, path, models.DefaultCipherConfig(), key)
	require.NoError(t, err)
	defer conn.Close()

	poolCfg := models.DefaultPoolConfig()
	require.NoError(t, conn.applySessionPragmas(ctx, poolCfg))

	var journalMode string
	require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fk int
	require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var busy int
	require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 5000, busy)
}

func TestSessionPragmasSkipWALForMemory(t *testing.T) {
	ctx := context.Background()
	key := testKey(t, 0x44)

	conn, err := Open(ctx, security.MemoryPath, models.DefaultCipherConfig(), key)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.applySessionPragmas(ctx, models.DefaultPoolConfig()))

	var journalMode string
	require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "memory", journalMode)
}

func TestPing(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, testDBPath(t), models.DefaultCipherConfig(), testKey(t, 0x55))
	require.NoError(t, err)

	assert.NoError(t, conn.Ping(ctx))

	conn.Close()
	assert.Error(t, conn.Ping(ctx))
}

func TestIdleSinceAdvances(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, testDBPath(t), models.DefaultCipherConfig(), testKey(t, 0x66))
	require.NoError(t, err)
	defer conn.Close()

	before := conn.IdleSince()
	_, err = conn.ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)

	assert.False(t, conn.IdleSince().Before(before))
}

func TestOpenWrongKey(t *testing.T) {
	requireSQLCipher(t)
	ctx := context.Background()
	path := testDBPath(t)

	createPopulatedDB(t, path, models.DefaultCipherConfig(), testKey(t, 0x11), 1)

	_, err := Open(ctx, path, models.DefaultCipherConfig(), testKey(t, 0x99))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeWrongKey, errors.GetCode(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestOpenDetectsVersionMismatch(t *testing.T) {
	requireSQLCipher(t)
	ctx := context.Background()
	path := testDBPath(t)
	key := testKey(t, 0x11)

	createPopulatedDB(t, path, models.DefaultCipherConfig(), key, 1)

	// Same key, wrong cipher generation: the probe distinguishes this from
	// a plainly wrong key.
	_, err := Open(ctx, path, models.CipherConfigV3(), testKey(t, 0x11))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeIncompatibleVersion, errors.GetCode(err))
}

func TestOpenWrongKeyErrorOmitsKeys(t *testing.T) {
	requireSQLCipher(t)
	ctx := context.Background()
	path := testDBPath(t)

	goodKey := testKey(t, 0x11)
	createPopulatedDB(t, path, models.DefaultCipherConfig(), goodKey, 1)

	badKey := testKey(t, 0x99)
	_, err := Open(ctx, path, models.DefaultCipherConfig(), badKey)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), goodKey.Hex())
	assert.NotContains(t, err.Error(), badKey.Hex())
}
