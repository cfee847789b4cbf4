package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"vaultlite/internal/constants"
	"vaultlite/internal/models"
	"vaultlite/internal/security"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
	ErrMissingKeyEnv = models.ConfigError{Message: "missing key environment variable name"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateDatabasePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if err := security.ValidateDatabasePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
	}
	if c.Database.KeyEnv == "" {
		return ErrMissingKeyEnv
	}

	if c.Database.SaltHex != "" {
		salt, err := hex.DecodeString(c.Database.SaltHex)
		if err != nil {
			return models.ConfigError{Message: "salt_hex is not valid hex"}
		}
		if len(salt) < constants.MinSaltBytes {
			return models.ConfigError{Message: fmt.Sprintf("salt must be at least %d bytes", constants.MinSaltBytes)}
		}
	}

	// Fill cipher defaults so partial config files still validate.
	if c.Database.Cipher.Version == 0 {
		c.Database.Cipher = models.DefaultCipherConfig()
	}
	if err := c.Database.Cipher.Validate(); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid cipher config: %v", err)}
	}

	if c.Database.Pool.MaxConnections == 0 {
		c.Database.Pool = models.DefaultPoolConfig()
	}
	if err := c.Database.Pool.Validate(); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid pool config: %v", err)}
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultStatsPort
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("VAULTLITE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if keyEnv := os.Getenv("VAULTLITE_KEY_ENV"); keyEnv != "" {
		c.Database.KeyEnv = keyEnv
	}
	if salt := os.Getenv("VAULTLITE_SALT_HEX"); salt != "" {
		c.Database.SaltHex = salt
	}
	if port := os.Getenv("VAULTLITE_STATS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv("VAULTLITE_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
