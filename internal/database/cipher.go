package database

import (
	"fmt"
	"strings"

	"vaultlite/internal/errors"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

// keyPragma builds the raw-key pragma. The key is passed in SQLCipher's
// x'hex' form so the engine uses the bytes directly instead of running its
// internal KDF a second time. The returned string is sensitive; callers
// execute it and let it go out of scope.
func keyPragma(key *security.EncryptionKey) string {
	return fmt.Sprintf(`PRAGMA key = "x'%s'"`, key.Hex())
}

func rekeyAttachStmt(stagedPath string, key *security.EncryptionKey) string {
	return fmt.Sprintf(`ATTACH DATABASE '%s' AS staged KEY "x'%s'"`, stagedPath, key.Hex())
}

// cipherPragmas returns the encryption pragmas in the mandated order:
// cipher version, KDF algorithm and iterations, HMAC algorithm, page sizes,
// memory security, compatibility flags. The order matters: page size must
// be set before the first write, and later pragmas depend on earlier ones.
// The key pragma is NOT included here; it must already have been issued as
// the very first statement on the handle.
func cipherPragmas(cfg models.CipherConfig, schema string) []string {
	prefix := ""
	if schema != "" {
		prefix = schema + "."
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA %scipher_compatibility = %d", prefix, int(cfg.Version)),
	}

	switch cfg.KDF.Algorithm {
	case models.KDFPBKDF2SHA256:
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_kdf_algorithm = PBKDF2_HMAC_SHA256", prefix))
	case models.KDFPBKDF2SHA512:
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_kdf_algorithm = PBKDF2_HMAC_SHA512", prefix))
	}
	if cfg.KDF.Iterations > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %skdf_iter = %d", prefix, cfg.KDF.Iterations))
	}

	switch cfg.HMAC {
	case models.HMACSHA1:
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_hmac_algorithm = HMAC_SHA1", prefix))
	case models.HMACSHA256:
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_hmac_algorithm = HMAC_SHA256", prefix))
	case models.HMACSHA512:
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_hmac_algorithm = HMAC_SHA512", prefix))
	}

	pragmas = append(pragmas,
		fmt.Sprintf("PRAGMA %scipher_page_size = %d", prefix, cfg.CipherPageSize),
		fmt.Sprintf("PRAGMA %spage_size = %d", prefix, cfg.PageSize),
	)

	if cfg.MemorySecurity {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_memory_security = ON", prefix))
	} else {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_memory_security = OFF", prefix))
	}

	if cfg.CompatibilityMode {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %scipher_default_compatibility = %d", prefix, int(cfg.Version)))
	}

	return pragmas
}

// wrongKeyIndicators are the error fragments the engine produces when a key
// cannot decrypt the database header. The underlying file format cannot
// distinguish "wrong key" from "not a database" without decrypting.
var wrongKeyIndicators = []string{
	"file is not a database",
	"file is encrypted",
	"notadb",
	"unsupported file format",
	"authentication failed",
}

var corruptionIndicators = []string{
	"database disk image is malformed",
	"malformed database schema",
	"database corruption",
}

// classifyOpenError maps a raw driver error from the open/validate sequence
// to the storage error taxonomy. The original error is preserved as the
// cause; the key never appears in the result.
func classifyOpenError(path string, err error) *errors.AppError {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())

	for _, indicator := range wrongKeyIndicators {
		if strings.Contains(msg, indicator) {
			return errors.NewWrongKeyError(path, err)
		}
	}
	for _, indicator := range corruptionIndicators {
		if strings.Contains(msg, indicator) {
			return errors.NewCorruptedDatabaseError(path, err)
		}
	}
	if strings.Contains(msg, "unable to open database") || strings.Contains(msg, "permission denied") {
		return errors.NewIOError("open database", err)
	}

	return errors.NewIOError("validate database", err)
}
