// Package config loads engine configuration from the environment, with an
// optional TOML file overlay for the scheduling knobs operators tune most.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // FINCH_DATABASE_URL (empty = in-memory store, dev only)
	HTTPAddr    string // FINCH_HTTP_ADDR (default ":8080")
	NATSURL     string // FINCH_NATS_URL (optional, empty = no relay)

	// Detector scheduling
	OverdueInterval  time.Duration // FINCH_DETECT_OVERDUE_INTERVAL (default 1h)
	ContractInterval time.Duration // FINCH_DETECT_CONTRACT_INTERVAL (default 24h)
	StockInterval    time.Duration // FINCH_DETECT_STOCK_INTERVAL (default 1h)
	CleanupInterval  time.Duration // FINCH_DETECT_CLEANUP_INTERVAL (default 6h)

	// Distributed lock bounds
	LockMaxHold time.Duration // FINCH_LOCK_MAX_HOLD (default 10m)
	LockMinHold time.Duration // FINCH_LOCK_MIN_HOLD (default 1m)

	// Housekeeping
	NotificationRetention time.Duration // FINCH_NOTIFICATION_RETENTION (default 720h)

	// Activity archive (enabled when bucket is set)
	ArchiveS3Bucket   string        // FINCH_ARCHIVE_S3_BUCKET
	ArchiveS3Endpoint string        // FINCH_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // FINCH_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // FINCH_ARCHIVE_S3_PREFIX (default "activity")
	ArchiveInterval   time.Duration // FINCH_ARCHIVE_INTERVAL (default 1h)
}

// fileOverlay is the TOML shape of FINCH_CONFIG_FILE. Durations are Go
// duration strings. Only the scheduling knobs are file-configurable; the
// connection settings stay in the environment.
type fileOverlay struct {
	Detectors struct {
		Overdue  string `toml:"overdue"`
		Contract string `toml:"contract"`
		Stock    string `toml:"stock"`
		Cleanup  string `toml:"cleanup"`
	} `toml:"detectors"`
	Lock struct {
		MaxHold string `toml:"max_hold"`
		MinHold string `toml:"min_hold"`
	} `toml:"lock"`
}

// Load reads configuration from the environment and, when FINCH_CONFIG_FILE
// is set, overlays the scheduling sections from that TOML file.
func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("FINCH_DATABASE_URL"),
		HTTPAddr:          envOrDefault("FINCH_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("FINCH_NATS_URL"),
		ArchiveS3Bucket:   os.Getenv("FINCH_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("FINCH_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("FINCH_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("FINCH_ARCHIVE_S3_PREFIX", "activity"),
	}

	var err error
	if c.OverdueInterval, err = envDuration("FINCH_DETECT_OVERDUE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.ContractInterval, err = envDuration("FINCH_DETECT_CONTRACT_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.StockInterval, err = envDuration("FINCH_DETECT_STOCK_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.CleanupInterval, err = envDuration("FINCH_DETECT_CLEANUP_INTERVAL", 6*time.Hour); err != nil {
		return nil, err
	}
	if c.LockMaxHold, err = envDuration("FINCH_LOCK_MAX_HOLD", 10*time.Minute); err != nil {
		return nil, err
	}
	if c.LockMinHold, err = envDuration("FINCH_LOCK_MIN_HOLD", time.Minute); err != nil {
		return nil, err
	}
	if c.NotificationRetention, err = envDuration("FINCH_NOTIFICATION_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = envDuration("FINCH_ARCHIVE_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	if path := os.Getenv("FINCH_CONFIG_FILE"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}

	if c.LockMinHold > c.LockMaxHold {
		return nil, fmt.Errorf("FINCH_LOCK_MIN_HOLD (%s) exceeds FINCH_LOCK_MAX_HOLD (%s)", c.LockMinHold, c.LockMaxHold)
	}

	return c, nil
}

func (c *Config) applyFile(path string) error {
	var o fileOverlay
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	for _, f := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{o.Detectors.Overdue, &c.OverdueInterval, "detectors.overdue"},
		{o.Detectors.Contract, &c.ContractInterval, "detectors.contract"},
		{o.Detectors.Stock, &c.StockInterval, "detectors.stock"},
		{o.Detectors.Cleanup, &c.CleanupInterval, "detectors.cleanup"},
		{o.Lock.MaxHold, &c.LockMaxHold, "lock.max_hold"},
		{o.Lock.MinHold, &c.LockMinHold, "lock.min_hold"},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, f.name, err)
		}
		*f.dst = d
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
