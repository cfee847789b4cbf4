package models

import (
	"fmt"
	"time"

	"vaultlite/internal/constants"
)

// PoolConfig holds connection pool tuning
type PoolConfig struct {
	MaxConnections    int           `json:"max_connections"`
	MinIdle           int           `json:"min_idle"`
	ConnectionTimeout time.Duration `json:"connection_timeout_ms"`
	BusyTimeout       time.Duration `json:"busy_timeout_ms"`
	DrainGrace        time.Duration `json:"drain_grace_ms"`
	EnableWAL         bool          `json:"enable_wal"`
	EnableForeignKeys bool          `json:"enable_foreign_keys"`
	IdleHealthCheck   bool          `json:"idle_health_check"`
}

// DefaultPoolConfig returns production pool defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:    constants.DefaultMaxConnections,
		MinIdle:           constants.DefaultMinIdle,
		ConnectionTimeout: constants.DefaultConnectionTimeoutSec * time.Second,
		BusyTimeout:       constants.DefaultBusyTimeoutMs * time.Millisecond,
		DrainGrace:        constants.DefaultDrainGraceSec * time.Second,
		EnableWAL:         true,
		EnableForeignKeys: true,
		IdleHealthCheck:   constants.DefaultIdleHealthCheck,
	}
}

// Validate checks pool configuration consistency
func (c PoolConfig) Validate() error {
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1, got %d", c.MaxConnections)
	}
	if c.MinIdle < 0 {
		return fmt.Errorf("min_idle cannot be negative, got %d", c.MinIdle)
	}
	if c.MinIdle > c.MaxConnections {
		return fmt.Errorf("min_idle %d exceeds max_connections %d", c.MinIdle, c.MaxConnections)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive, got %v", c.ConnectionTimeout)
	}
	return nil
}

// PoolStats is a point-in-time snapshot of pool state, exposed for the
// stats endpoint and tests.
type PoolStats struct {
	Live     int  `json:"live"`
	Idle     int  `json:"idle"`
	Borrowed int  `json:"borrowed"`
	Waiting  int  `json:"waiting"`
	Max      int  `json:"max"`
	Draining bool `json:"draining"`
	Closed   bool `json:"closed"`
}

// HealthStatus reports whether the pool can currently serve a connection
type HealthStatus struct {
	Healthy bool      `json:"healthy"`
	Reason  string    `json:"reason,omitempty"`
	Stats   PoolStats `json:"stats"`
	Checked time.Time `json:"checked"`
}
