// Package kdf turns a passphrase and salt into a fixed-length symmetric
// key. The algorithm and its cost parameters travel with the persisted
// cipher config so a database can always be reopened deterministically.
package kdf

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"vaultlite/internal/constants"
	"vaultlite/internal/errors"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

// Derive produces an encryption key from secret material and a salt using
// the configured KDF. The derivation is deterministic for a fixed
// (secret, salt, params) tuple and runs in time proportional to the
// configured cost.
//
// The secret must be non-empty and the salt at least 16 bytes; a short
// salt is a hard validation failure, not a warning. outputLen must match
// the cipher's expected key size.
func Derive(secret, salt []byte, params models.KDFParams, outputLen int) (*security.EncryptionKey, error) {
	if len(secret) == 0 {
		return nil, errors.NewKeyDerivationError("secret must not be empty")
	}
	if len(salt) < constants.MinSaltBytes {
		return nil, errors.NewValidationError("salt",
			fmt.Sprintf("salt must be at least %d bytes, got %d", constants.MinSaltBytes, len(salt)))
	}
	if outputLen != constants.KeySizeBytes {
		return nil, errors.NewKeyDerivationError(
			fmt.Sprintf("output length must be %d bytes, got %d", constants.KeySizeBytes, outputLen))
	}

	var raw []byte
	switch params.Algorithm {
	case models.KDFPBKDF2SHA256:
		key, err := derivePBKDF2(secret, salt, params.Iterations, outputLen, sha256.New)
		if err != nil {
			return nil, err
		}
		raw = key
	case models.KDFPBKDF2SHA512:
		key, err := derivePBKDF2(secret, salt, params.Iterations, outputLen, sha512.New)
		if err != nil {
			return nil, err
		}
		raw = key
	case models.KDFArgon2id:
		key, err := deriveArgon2id(secret, salt, params, outputLen)
		if err != nil {
			return nil, err
		}
		raw = key
	default:
		return nil, errors.NewKeyDerivationError(
			fmt.Sprintf("unsupported kdf algorithm: %q", params.Algorithm))
	}

	// NewKey takes ownership and wipes raw
	key, err := security.NewKey(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKeyDerivation, "derived key rejected")
	}
	return key, nil
}

func derivePBKDF2(secret, salt []byte, iterations, outputLen int, h func() hash.Hash) ([]byte, error) {
	if iterations < 1 {
		return nil, errors.NewKeyDerivationError(
			fmt.Sprintf("pbkdf2 iterations must be at least 1, got %d", iterations))
	}
	return pbkdf2.Key(secret, salt, iterations, outputLen, h), nil
}

func deriveArgon2id(secret, salt []byte, params models.KDFParams, outputLen int) ([]byte, error) {
	if params.MemoryKiB < constants.MinArgon2MemoryKiB {
		return nil, errors.NewKeyDerivationError(
			fmt.Sprintf("argon2 memory cost %d KiB below minimum %d KiB", params.MemoryKiB, constants.MinArgon2MemoryKiB))
	}
	if params.Time < 1 {
		return nil, errors.NewKeyDerivationError(
			fmt.Sprintf("argon2 time cost must be at least 1, got %d", params.Time))
	}
	if params.Threads < 1 || params.Threads > 255 {
		return nil, errors.NewKeyDerivationError(
			fmt.Sprintf("argon2 threads must be in [1, 255], got %d", params.Threads))
	}
	return argon2.IDKey(secret, salt,
		uint32(params.Time), uint32(params.MemoryKiB), uint8(params.Threads), uint32(outputLen)), nil
}

// DefaultArgon2Params returns Argon2id cost parameters following OWASP
// recommendations.
func DefaultArgon2Params() models.KDFParams {
	return models.KDFParams{
		Algorithm: models.KDFArgon2id,
		MemoryKiB: constants.DefaultArgon2MemoryKiB,
		Time:      constants.DefaultArgon2Time,
		Threads:   constants.DefaultArgon2Threads,
	}
}
