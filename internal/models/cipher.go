package models

import (
	"fmt"

	"vaultlite/internal/constants"
)

// CipherVersion identifies the generation of encryption parameters a
// database file was written with.
type CipherVersion int

const (
	CipherV3 CipherVersion = 3
	CipherV4 CipherVersion = 4
)

// String returns the string representation of the cipher version
func (v CipherVersion) String() string {
	switch v {
	case CipherV3:
		return "v3"
	case CipherV4:
		return "v4"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// KDFAlgorithm identifies the key derivation function
type KDFAlgorithm string

const (
	KDFPBKDF2SHA256 KDFAlgorithm = "pbkdf2-sha256"
	KDFPBKDF2SHA512 KDFAlgorithm = "pbkdf2-sha512"
	KDFArgon2id     KDFAlgorithm = "argon2id"
)

// HMACAlgorithm identifies the per-page HMAC algorithm
type HMACAlgorithm string

const (
	HMACSHA1   HMACAlgorithm = "sha1"
	HMACSHA256 HMACAlgorithm = "sha256"
	HMACSHA512 HMACAlgorithm = "sha512"
)

// KDFParams holds cost parameters for key derivation. Iterations applies to
// the PBKDF2 algorithms; MemoryKiB/Time/Threads apply to Argon2id.
type KDFParams struct {
	Algorithm  KDFAlgorithm `json:"algorithm"`
	Iterations int          `json:"iterations"`
	MemoryKiB  int          `json:"memory_kib,omitempty"`
	Time       int          `json:"time,omitempty"`
	Threads    int          `json:"threads,omitempty"`
}

// CipherConfig is the immutable description of how an encrypted database
// file is configured: cipher generation, KDF cost, HMAC, page layout and
// memory-security toggles. A config is validated before any I/O happens.
type CipherConfig struct {
	Version           CipherVersion `json:"version"`
	KDF               KDFParams     `json:"kdf"`
	HMAC              HMACAlgorithm `json:"hmac"`
	PageSize          int           `json:"page_size"`
	CipherPageSize    int           `json:"cipher_page_size"`
	MemorySecurity    bool          `json:"memory_security"`
	CompatibilityMode bool          `json:"compatibility_mode"`
}

// DefaultCipherConfig returns the SQLCipher 4.x defaults
func DefaultCipherConfig() CipherConfig {
	return CipherConfig{
		Version: CipherV4,
		KDF: KDFParams{
			Algorithm:  KDFPBKDF2SHA512,
			Iterations: constants.DefaultKDFIterationsV4,
		},
		HMAC:           HMACSHA512,
		PageSize:       constants.DefaultPageSizeV4,
		CipherPageSize: constants.DefaultPageSizeV4,
		MemorySecurity: true,
	}
}

// CipherConfigV3 returns a config compatible with SQLCipher 3.x files
func CipherConfigV3() CipherConfig {
	return CipherConfig{
		Version: CipherV3,
		KDF: KDFParams{
			Algorithm:  KDFPBKDF2SHA256,
			Iterations: constants.DefaultKDFIterationsV3,
		},
		HMAC:              HMACSHA1,
		PageSize:          constants.DefaultPageSizeV3,
		CipherPageSize:    constants.DefaultPageSizeV3,
		MemorySecurity:    true,
		CompatibilityMode: true,
	}
}

// Validate checks that every field is within the ranges the chosen cipher
// version supports. It is called before any file I/O; an out-of-range config
// never reaches a connection.
func (c CipherConfig) Validate() error {
	switch c.Version {
	case CipherV3, CipherV4:
	default:
		return fmt.Errorf("unsupported cipher version: %d", int(c.Version))
	}

	switch c.KDF.Algorithm {
	case KDFPBKDF2SHA256, KDFPBKDF2SHA512:
		minIter := constants.MinKDFIterationsV4
		if c.Version == CipherV3 {
			minIter = constants.MinKDFIterationsV3
		}
		if c.KDF.Iterations < minIter {
			return fmt.Errorf("kdf iterations %d below minimum %d for cipher %s", c.KDF.Iterations, minIter, c.Version)
		}
	case KDFArgon2id:
		if c.KDF.MemoryKiB < constants.MinArgon2MemoryKiB {
			return fmt.Errorf("argon2 memory %d KiB below minimum %d KiB", c.KDF.MemoryKiB, constants.MinArgon2MemoryKiB)
		}
		if c.KDF.Time < 1 {
			return fmt.Errorf("argon2 time cost must be at least 1, got %d", c.KDF.Time)
		}
		if c.KDF.Threads < 1 {
			return fmt.Errorf("argon2 threads must be at least 1, got %d", c.KDF.Threads)
		}
	default:
		return fmt.Errorf("unsupported kdf algorithm: %q", c.KDF.Algorithm)
	}

	switch c.HMAC {
	case HMACSHA1, HMACSHA256, HMACSHA512:
	default:
		return fmt.Errorf("unsupported hmac algorithm: %q", c.HMAC)
	}

	if err := validatePageSize("page_size", c.PageSize); err != nil {
		return err
	}
	if err := validatePageSize("cipher_page_size", c.CipherPageSize); err != nil {
		return err
	}

	return nil
}

func validatePageSize(field string, size int) error {
	if size < constants.MinPageSize || size > constants.MaxPageSize {
		return fmt.Errorf("%s %d outside supported range [%d, %d]", field, size, constants.MinPageSize, constants.MaxPageSize)
	}
	if size&(size-1) != 0 {
		return fmt.Errorf("%s %d is not a power of two", field, size)
	}
	return nil
}
