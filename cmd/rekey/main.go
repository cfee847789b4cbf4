// Command rekey changes the encryption key of a database file in place, or
// migrates it between cipher generations. The operation is atomic: the
// original file is replaced only after the re-encrypted copy verifies
// cleanly, so a crash mid-run leaves the original untouched.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"vaultlite/internal/constants"
	"vaultlite/internal/database"
	"vaultlite/internal/kdf"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

func main() {
	dbPath := flag.String("db", "", "Path to the database file")
	saltHex := flag.String("salt", "", "Hex-encoded key derivation salt (at least 16 bytes)")
	mode := flag.String("mode", "rekey", "Operation: rekey or migrate")
	oldKeyEnv := flag.String("old-key-env", "VAULTLITE_OLD_KEY", "Environment variable holding the current passphrase")
	newKeyEnv := flag.String("new-key-env", "VAULTLITE_NEW_KEY", "Environment variable holding the new passphrase (rekey mode)")
	cipherVersion := flag.Int("cipher-version", 4, "Cipher version of the database (rekey mode)")
	fromVersion := flag.Int("from-version", 3, "Current cipher version (migrate mode)")
	toVersion := flag.Int("to-version", 4, "Target cipher version (migrate mode)")
	timeoutSec := flag.Int("timeout", constants.RotationTimeoutMs/1000, "Operation timeout in seconds")
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("-db is required")
	}
	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Database file not found: %s", *dbPath)
	}

	salt, err := hex.DecodeString(*saltHex)
	if err != nil || len(salt) < constants.MinSaltBytes {
		log.Fatalf("-salt must be valid hex of at least %d bytes", constants.MinSaltBytes)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()

	switch *mode {
	case "rekey":
		runRekey(ctx, *dbPath, salt, *oldKeyEnv, *newKeyEnv, *cipherVersion)
	case "migrate":
		runMigrate(ctx, *dbPath, salt, *oldKeyEnv, *fromVersion, *toVersion)
	default:
		log.Fatalf("Unknown mode %q (expected rekey or migrate)", *mode)
	}
}

func runRekey(ctx context.Context, dbPath string, salt []byte, oldKeyEnv, newKeyEnv string, cipherVersion int) {
	cfg, err := cipherConfigForVersion(cipherVersion)
	if err != nil {
		log.Fatalf("Invalid -cipher-version: %v", err)
	}

	oldKey := deriveFromEnv(oldKeyEnv, salt, cfg.KDF)
	defer oldKey.Zeroize()
	newKey := deriveFromEnv(newKeyEnv, salt, cfg.KDF)
	defer newKey.Zeroize()

	fmt.Printf("Rekeying %s...\n", dbPath)
	if err := database.Rekey(ctx, dbPath, cfg, oldKey, newKey); err != nil {
		log.Fatalf("Rekey failed: %v", err)
	}
	fmt.Println("Rekey completed successfully. The old passphrase no longer opens the database.")
}

// runMigrate changes the cipher parameters of the file AND moves the raw key
// to the one the target config's KDF derives from the same passphrase. The
// two must travel together: the KDF cost is part of the cipher config, so a
// file migrated under the old raw key would be unreachable from any config
// that validates for the new version.
func runMigrate(ctx context.Context, dbPath string, salt []byte, keyEnv string, fromVersion, toVersion int) {
	fromCfg, err := cipherConfigForVersion(fromVersion)
	if err != nil {
		log.Fatalf("Invalid -from-version: %v", err)
	}
	toCfg, err := cipherConfigForVersion(toVersion)
	if err != nil {
		log.Fatalf("Invalid -to-version: %v", err)
	}
	if fromVersion == toVersion {
		fmt.Printf("Database is already at cipher version %d, nothing to do.\n", toVersion)
		return
	}

	oldKey := deriveFromEnv(keyEnv, salt, fromCfg.KDF)
	defer oldKey.Zeroize()
	newKey := deriveFromEnv(keyEnv, salt, toCfg.KDF)
	defer newKey.Zeroize()

	fmt.Printf("Migrating %s from cipher %s to %s...\n", dbPath, fromCfg.Version, toCfg.Version)
	if err := database.Rotate(ctx, dbPath, fromCfg, oldKey, toCfg, newKey); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("Migration completed successfully. The same passphrase opens the database under the new cipher config.")
}

func cipherConfigForVersion(version int) (models.CipherConfig, error) {
	switch models.CipherVersion(version) {
	case models.CipherV3:
		return models.CipherConfigV3(), nil
	case models.CipherV4:
		return models.DefaultCipherConfig(), nil
	default:
		return models.CipherConfig{}, fmt.Errorf("unsupported cipher version: %d", version)
	}
}

func deriveFromEnv(envName string, salt []byte, params models.KDFParams) *security.EncryptionKey {
	passphrase := os.Getenv(envName)
	if passphrase == "" {
		log.Fatalf("Environment variable %s is not set", envName)
	}

	secret := []byte(passphrase)
	defer security.Wipe(secret)
	security.WipeString(&passphrase)

	key, err := kdf.Derive(secret, salt, params, constants.KeySizeBytes)
	if err != nil {
		log.Fatalf("Key derivation failed: %v", err)
	}
	return key
}
