package constants

// Default cipher configuration values
const (
	DefaultKDFIterationsV4 = 256000
	DefaultKDFIterationsV3 = 64000
	MinKDFIterationsV4     = 100000
	MinKDFIterationsV3     = 4000
	DefaultPageSizeV4      = 4096
	DefaultPageSizeV3      = 1024
	MinPageSize            = 512
	MaxPageSize            = 65536
	KeySizeBytes           = 32
	MinSaltBytes           = 16
)

// Default Argon2id cost parameters
const (
	DefaultArgon2MemoryKiB = 64 * 1024
	DefaultArgon2Time      = 3
	DefaultArgon2Threads   = 4
	MinArgon2MemoryKiB     = 8 * 1024
)

// Default pool configuration values
const (
	DefaultMaxConnections       = 10
	DefaultMinIdle              = 2
	DefaultConnectionTimeoutSec = 5
	DefaultBusyTimeoutMs        = 5000
	DefaultDrainGraceSec        = 10
	DefaultIdleHealthCheck      = true
)

// Default retry and backoff values
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultBackoffMultiplier     = 2.0
)

// Default stats server values
const (
	DefaultStatsPort            = 8084
	DefaultServerReadTimeoutSec = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
)

// Rotation values
const (
	StagedFileSuffix  = ".rekey-staged"
	BackupFileSuffix  = ".rekey-backup"
	RotationTimeoutMs = 300000
)
