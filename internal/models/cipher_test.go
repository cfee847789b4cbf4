package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultlite/internal/constants"
)

func TestDefaultCipherConfig(t *testing.T) {
	cfg := DefaultCipherConfig()

	assert.Equal(t, CipherV4, cfg.Version)
	assert.Equal(t, KDFPBKDF2SHA512, cfg.KDF.Algorithm)
	assert.Equal(t, constants.DefaultKDFIterationsV4, cfg.KDF.Iterations)
	assert.Equal(t, HMACSHA512, cfg.HMAC)
	assert.Equal(t, constants.DefaultPageSizeV4, cfg.PageSize)
	assert.True(t, cfg.MemorySecurity)
	assert.False(t, cfg.CompatibilityMode)

	require.NoError(t, cfg.Validate())
}

func TestCipherConfigV3(t *testing.T) {
	cfg := CipherConfigV3()

	assert.Equal(t, CipherV3, cfg.Version)
	assert.Equal(t, KDFPBKDF2SHA256, cfg.KDF.Algorithm)
	assert.Equal(t, HMACSHA1, cfg.HMAC)
	assert.True(t, cfg.CompatibilityMode)

	require.NoError(t, cfg.Validate())
}

func TestCipherConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CipherConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *CipherConfig) {},
		},
		{
			name:    "unknown cipher version",
			mutate:  func(c *CipherConfig) { c.Version = CipherVersion(7) },
			wantErr: "unsupported cipher version",
		},
		{
			name:    "iterations below v4 minimum",
			mutate:  func(c *CipherConfig) { c.KDF.Iterations = constants.MinKDFIterationsV4 - 1 },
			wantErr: "below minimum",
		},
		{
			name: "v4 minimum iterations accepted",
			mutate: func(c *CipherConfig) {
				c.KDF.Iterations = constants.MinKDFIterationsV4
			},
		},
		{
			name: "v3 allows lower iterations",
			mutate: func(c *CipherConfig) {
				*c = CipherConfigV3()
				c.KDF.Iterations = constants.MinKDFIterationsV3
			},
		},
		{
			name:    "unknown kdf algorithm",
			mutate:  func(c *CipherConfig) { c.KDF.Algorithm = "md5" },
			wantErr: "unsupported kdf algorithm",
		},
		{
			name: "argon2 below memory minimum",
			mutate: func(c *CipherConfig) {
				c.KDF = KDFParams{Algorithm: KDFArgon2id, MemoryKiB: 1024, Time: 3, Threads: 4}
			},
			wantErr: "below minimum",
		},
		{
			name: "argon2 zero time cost",
			mutate: func(c *CipherConfig) {
				c.KDF = KDFParams{Algorithm: KDFArgon2id, MemoryKiB: constants.DefaultArgon2MemoryKiB, Time: 0, Threads: 4}
			},
			wantErr: "time cost",
		},
		{
			name: "argon2 valid",
			mutate: func(c *CipherConfig) {
				c.KDF = KDFParams{
					Algorithm: KDFArgon2id,
					MemoryKiB: constants.DefaultArgon2MemoryKiB,
					Time:      constants.DefaultArgon2Time,
					Threads:   constants.DefaultArgon2Threads,
				}
			},
		},
		{
			name:    "unknown hmac algorithm",
			mutate:  func(c *CipherConfig) { c.HMAC = "crc32" },
			wantErr: "unsupported hmac algorithm",
		},
		{
			name:    "page size not a power of two",
			mutate:  func(c *CipherConfig) { c.PageSize = 3000 },
			wantErr: "not a power of two",
		},
		{
			name:    "page size too small",
			mutate:  func(c *CipherConfig) { c.PageSize = 256 },
			wantErr: "outside supported range",
		},
		{
			name:    "cipher page size too large",
			mutate:  func(c *CipherConfig) { c.CipherPageSize = 131072 },
			wantErr: "outside supported range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCipherConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCipherVersionString(t *testing.T) {
	assert.Equal(t, "v3", CipherV3.String())
	assert.Equal(t, "v4", CipherV4.String())
	assert.Equal(t, "unknown(9)", CipherVersion(9).String())
}
