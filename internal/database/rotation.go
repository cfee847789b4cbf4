package database

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"vaultlite/internal/constants"
	"vaultlite/internal/errors"
	"vaultlite/internal/metrics"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

// RotationJob re-encrypts a database under a new key or new cipher
// parameters through an explicit state machine:
//
//	Preparing → Rekeying → Verifying → Committed
//
// with RolledBack reachable from Preparing, Rekeying or Verifying on any
// failure. The on-disk file is only ever in one of two externally
// observable states: fully decodable by the old key, or fully decodable by
// the new one. All work happens against a staged copy that is swapped in
// with a rename, never by overwriting the original in place.
type RotationJob struct {
	path   string
	oldCfg models.CipherConfig
	oldKey *security.EncryptionKey
	newCfg models.CipherConfig
	newKey *security.EncryptionKey

	pool      *Pool
	phaseHook func(models.RotationPhase) error

	mu    sync.Mutex
	phase models.RotationPhase
}

// RotationOption customizes a rotation job
type RotationOption func(*RotationJob)

// WithPool couples the job to a live pool: the pool is quiesced before
// Rekeying begins and resumed when the job finishes, so no pooled access
// runs concurrently with the rewrite and no stale connection survives a
// committed swap.
func WithPool(p *Pool) RotationOption {
	return func(j *RotationJob) {
		j.pool = p
	}
}

// WithPhaseHook installs a callback invoked on entering each phase. A
// non-nil return aborts the job at that phase; crash-recovery tests use
// this to verify rollback behavior at every stage.
func WithPhaseHook(hook func(models.RotationPhase) error) RotationOption {
	return func(j *RotationJob) {
		j.phaseHook = hook
	}
}

// NewRekeyJob builds a job that re-encrypts the database under a new key,
// keeping the cipher parameters unchanged.
func NewRekeyJob(path string, cfg models.CipherConfig, oldKey, newKey *security.EncryptionKey, opts ...RotationOption) *RotationJob {
	j := &RotationJob{
		path:   path,
		oldCfg: cfg,
		oldKey: oldKey,
		newCfg: cfg,
		newKey: newKey,
		phase:  models.PhasePreparing,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// NewMigrationJob builds a job that rewrites the database under new cipher
// parameters (version, KDF cost, page size) with the same key.
func NewMigrationJob(path string, key *security.EncryptionKey, fromCfg, toCfg models.CipherConfig, opts ...RotationOption) *RotationJob {
	return NewRotationJob(path, fromCfg, key, toCfg, key, opts...)
}

// NewRotationJob builds a job that changes key and cipher parameters in one
// pass. Callers deriving raw keys from a passphrase need this when the KDF
// cost is part of the cipher config: the post-migration file must be keyed
// under the bytes the target config's derivation produces, or the passphrase
// stops opening it.
func NewRotationJob(path string, fromCfg models.CipherConfig, oldKey *security.EncryptionKey, toCfg models.CipherConfig, newKey *security.EncryptionKey, opts ...RotationOption) *RotationJob {
	j := &RotationJob{
		path:   path,
		oldCfg: fromCfg,
		oldKey: oldKey,
		newCfg: toCfg,
		newKey: newKey,
		phase:  models.PhasePreparing,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Rekey re-encrypts the database at path under newKey without data loss.
// The original file is untouched unless the whole job commits.
func Rekey(ctx context.Context, path string, cfg models.CipherConfig, oldKey, newKey *security.EncryptionKey, opts ...RotationOption) error {
	return NewRekeyJob(path, cfg, oldKey, newKey, opts...).Run(ctx)
}

// MigrateVersion rewrites the database at path from one cipher config to
// another, following the same state machine as Rekey.
func MigrateVersion(ctx context.Context, path string, key *security.EncryptionKey, fromCfg, toCfg models.CipherConfig, opts ...RotationOption) error {
	return NewMigrationJob(path, key, fromCfg, toCfg, opts...).Run(ctx)
}

// Rotate rewrites the database under a new cipher config and a new key in a
// single job.
func Rotate(ctx context.Context, path string, fromCfg models.CipherConfig, oldKey *security.EncryptionKey, toCfg models.CipherConfig, newKey *security.EncryptionKey, opts ...RotationOption) error {
	return NewRotationJob(path, fromCfg, oldKey, toCfg, newKey, opts...).Run(ctx)
}

// Phase returns the phase the state machine has reached. Inspectable from
// other goroutines and after Run returns.
func (j *RotationJob) Phase() models.RotationPhase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

func (j *RotationJob) enterPhase(p models.RotationPhase) error {
	j.mu.Lock()
	j.phase = p
	j.mu.Unlock()
	// Committed is only counted once the swap has actually landed; commit()
	// emits it after the renames succeed.
	if p != models.PhaseCommitted {
		metrics.IncrementCounter("rotation_phase_" + p.String() + "_total")
	}
	if j.phaseHook != nil {
		if err := j.phaseHook(p); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the rotation. On any failure before Committed the original
// file is left byte-for-byte unmodified, the staged copy is deleted and the
// job is safely retryable.
func (j *RotationJob) Run(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db.rotate")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.path", j.path),
		attribute.String("db.cipher_from", j.oldCfg.Version.String()),
		attribute.String("db.cipher_to", j.newCfg.Version.String()),
	)

	if err := j.newCfg.Validate(); err != nil {
		return j.rollback("", errors.Wrap(err, errors.ErrCodeInvalidConfig, "target cipher config rejected"))
	}
	if j.path == security.MemoryPath {
		return j.rollback("", errors.NewValidationError("path", "cannot rotate an in-memory database"))
	}

	stagedPath := j.path + constants.StagedFileSuffix

	if j.pool != nil {
		if err := j.pool.Quiesce(ctx); err != nil {
			return j.rollback(stagedPath, errors.NewRotationError(models.PhasePreparing.String(), err))
		}
		defer func() {
			// Idle handles still reference the pre-swap inode; drop them
			// before new borrows re-open the file.
			j.pool.CloseIdle()
			j.pool.Resume()
		}()
	}

	if err := j.prepare(ctx, stagedPath); err != nil {
		span.RecordError(err)
		return err
	}
	if err := j.rekeyToStaged(ctx, stagedPath); err != nil {
		span.RecordError(err)
		return err
	}
	if err := j.verifyStaged(ctx, stagedPath); err != nil {
		span.RecordError(err)
		return err
	}
	if err := j.commit(stagedPath); err != nil {
		span.RecordError(err)
		return err
	}

	metrics.IncrementCounter("rotation_committed_total")
	return nil
}

// prepare confirms the old key decrypts the whole file (fail fast with
// WrongKey otherwise) and clears any stale staged copy from an earlier
// aborted attempt.
func (j *RotationJob) prepare(ctx context.Context, stagedPath string) error {
	if err := j.enterPhase(models.PhasePreparing); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhasePreparing.String(), err))
	}

	conn, err := Open(ctx, j.path, j.oldCfg, j.oldKey)
	if err != nil {
		// WrongKey and friends surface as-is: nothing was touched yet.
		return j.rollback("", err)
	}
	conn.Close()

	if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
		return j.rollback(stagedPath, errors.NewIOError("remove stale staged copy", err))
	}
	return nil
}

// rekeyToStaged writes every page re-encrypted under the new key and
// config into the staged file. The export runs on a single connection in
// one transaction scope; a crash here leaves the original intact and the
// staged copy discardable.
func (j *RotationJob) rekeyToStaged(ctx context.Context, stagedPath string) error {
	if err := j.enterPhase(models.PhaseRekeying); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
	}

	conn, err := Open(ctx, j.path, j.oldCfg, j.oldKey)
	if err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, rekeyAttachStmt(stagedPath, j.newKey)); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), classifyOpenError(stagedPath, err)))
	}

	// Target cipher parameters must be in place before the first page is
	// written to the attached database.
	for _, pragma := range cipherPragmas(j.newCfg, "staged") {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
		}
	}

	if _, err := conn.ExecContext(ctx, "SELECT sqlcipher_export('staged')"); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
	}

	// Carry the schema version over; sqlcipher_export copies data and
	// schema but not user_version.
	var userVersion int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&userVersion); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA staged.user_version = %d", userVersion)); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
	}

	if _, err := conn.ExecContext(ctx, "DETACH DATABASE staged"); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseRekeying.String(), err))
	}

	return nil
}

// verifyStaged reopens the rekeyed result with the new key and runs a
// structural check before anything replaces the original.
func (j *RotationJob) verifyStaged(ctx context.Context, stagedPath string) error {
	if err := j.enterPhase(models.PhaseVerifying); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseVerifying.String(), err))
	}

	conn, err := Open(ctx, stagedPath, j.newCfg, j.newKey)
	if err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseVerifying.String(), err))
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseVerifying.String(), classifyOpenError(stagedPath, err)))
	}
	if result != "ok" {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseVerifying.String(),
			errors.NewCorruptedDatabaseError(stagedPath, fmt.Errorf("integrity check reported %q", result))))
	}

	return nil
}

// commit atomically replaces the original with the verified staged copy.
// The original is parked under a backup name first, so a failure between
// the two renames still leaves a complete copy on disk to restore.
func (j *RotationJob) commit(stagedPath string) error {
	if err := j.enterPhase(models.PhaseCommitted); err != nil {
		return j.rollback(stagedPath, errors.NewRotationError(models.PhaseCommitted.String(), err))
	}

	backupPath := j.path + constants.BackupFileSuffix
	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return j.rollback(stagedPath, errors.NewIOError("remove stale backup", err))
	}

	if err := os.Rename(j.path, backupPath); err != nil {
		return j.rollback(stagedPath, errors.NewIOError("park original", err))
	}
	if err := os.Rename(stagedPath, j.path); err != nil {
		// Restore the original; the staged copy stays for inspection.
		if restoreErr := os.Rename(backupPath, j.path); restoreErr != nil {
			return errors.NewRotationError(models.PhaseCommitted.String(),
				fmt.Errorf("swap failed (%v) and restore failed (%v)", err, restoreErr))
		}
		return j.rollback(stagedPath, errors.NewIOError("swap staged copy", err))
	}

	// WAL sidecars of the old file must not be replayed into the new one.
	removeSidecars(backupPath)
	removeSidecars(j.path)
	os.Remove(backupPath)

	metrics.IncrementCounter("rotation_phase_" + models.PhaseCommitted.String() + "_total")
	return nil
}

// rollback deletes the staged copy, marks the job RolledBack and returns
// the causing error. The original file is never touched here.
func (j *RotationJob) rollback(stagedPath string, cause error) error {
	if stagedPath != "" {
		if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
			cause = errors.NewRotationError(j.Phase().String(),
				fmt.Errorf("rotation failed (%v) and staged cleanup failed (%v)", cause, err))
		}
		removeSidecars(stagedPath)
	}
	j.setPhase(models.PhaseRolledBack)
	metrics.IncrementCounter("rotation_rolled_back_total")
	return cause
}

func (j *RotationJob) setPhase(p models.RotationPhase) {
	j.mu.Lock()
	j.phase = p
	j.mu.Unlock()
}

func removeSidecars(path string) {
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
}
