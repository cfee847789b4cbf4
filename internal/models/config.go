package models

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig `json:"database"`
	Server   ServerConfig   `json:"server"`
	LogLevel string         `json:"log_level"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path   string       `json:"path"`
	Cipher CipherConfig `json:"cipher"`
	Pool   PoolConfig   `json:"pool"`
	// KeyEnv names the environment variable holding the passphrase. The
	// secret itself never appears in the config file.
	KeyEnv  string `json:"key_env"`
	SaltHex string `json:"salt_hex"`
}

// ServerConfig holds stats server related configurations
type ServerConfig struct {
	Port int `json:"port"`
}

// ConfigError represents a configuration validation failure
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
