package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vaultlite/internal/config"
	"vaultlite/internal/constants"
	"vaultlite/internal/database"
	"vaultlite/internal/kdf"
	"vaultlite/internal/models"
	"vaultlite/internal/retry"
	"vaultlite/internal/security"
	"vaultlite/internal/tracing"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("vaultlite %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting vaultlite")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.DefaultTracingConfig(), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	key, err := deriveKey(cfg)
	if err != nil {
		return err
	}

	// Open the pool with exponential backoff; transient open failures such
	// as a locked database file are retried, wrong-key errors are not.
	var pool *database.Pool
	backoff := retry.NewBackoff(retry.DefaultBackoffConfig())
	err = backoff.RetryWithPredicate(ctx, func() error {
		var openErr error
		pool, openErr = database.NewPool(ctx, cfg.Database.Path, cfg.Database.Cipher, cfg.Database.Pool, key)
		if openErr != nil {
			logger.Warnf("Failed to open connection pool: %v", openErr)
		}
		return openErr
	}, database.IsTransient)
	if err != nil {
		return fmt.Errorf("failed to open connection pool after retries: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":            cfg.Database.Path,
		"cipher_version":  cfg.Database.Cipher.Version.String(),
		"max_connections": cfg.Database.Pool.MaxConnections,
	}).Info("Connection pool ready")

	server := NewServer(cfg, pool, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Failed to shutdown server gracefully: %v", err)
	}

	if err := pool.Close(shutdownCtx); err != nil {
		return fmt.Errorf("failed to close connection pool: %w", err)
	}

	logger.Info("Shutdown completed")
	return nil
}

// deriveKey reads the passphrase from the configured environment variable
// and derives the database key. The passphrase and derived material are
// wiped as soon as they are consumed.
func deriveKey(cfg *models.Config) (*security.EncryptionKey, error) {
	passphrase := os.Getenv(cfg.Database.KeyEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.Database.KeyEnv)
	}
	if cfg.Database.SaltHex == "" {
		return nil, fmt.Errorf("salt_hex is required to derive the database key")
	}
	salt, err := hex.DecodeString(cfg.Database.SaltHex)
	if err != nil {
		return nil, fmt.Errorf("salt_hex is not valid hex")
	}

	secret := []byte(passphrase)
	defer security.Wipe(secret)
	security.WipeString(&passphrase)

	key, err := kdf.Derive(secret, salt, cfg.Database.Cipher.KDF, constants.KeySizeBytes)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
