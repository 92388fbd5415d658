package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMinio    = "minio"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		AllowedOrigins  []string      `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Store struct {
		Driver       string `yaml:"driver"`
		EnsureSchema bool   `yaml:"ensureSchema"`
	} `yaml:"store"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`

	Scan struct {
		DedupWindow time.Duration `yaml:"dedupWindow"`
		Capture     string        `yaml:"capture"` // feed | zbar
		FeedBuffer  int           `yaml:"feedBuffer"`
		Zbar        struct {
			Mode   string `yaml:"mode"` // local | docker
			Device string `yaml:"device"`
			Binary string `yaml:"binary"`
			Image  string `yaml:"image"`
		} `yaml:"zbar"`
	} `yaml:"scan"`

	Auth struct {
		BiometricKind    string        `yaml:"biometricKind"` // none | fingerprint | face
		BiometricTimeout time.Duration `yaml:"biometricTimeout"`
		MaxPinFailures   int           `yaml:"maxPinFailures"`
		LockoutCooldown  time.Duration `yaml:"lockoutCooldown"`
		MinPinLength     int           `yaml:"minPinLength"`
		MaxPinLength     int           `yaml:"maxPinLength"`
		Argon2           struct {
			MemoryKiB   uint32 `yaml:"memoryKiB"`
			Iterations  uint32 `yaml:"iterations"`
			Parallelism uint8  `yaml:"parallelism"`
		} `yaml:"argon2"`
	} `yaml:"auth"`

	Security struct {
		DeviceKeys   []string `yaml:"deviceKeys"`
		PinRateRPS   int      `yaml:"pinRateRPS"`
		PinRateBurst int      `yaml:"pinRateBurst"`
	} `yaml:"security"`
}

// Default returns a config usable for local development.
func Default() *Config {
	var c Config
	c.Server.Port = 8080
	c.Server.ShutdownTimeout = 5 * time.Second
	c.Log.Env = "development"
	c.Store.Driver = DriverSQLite
	c.Store.EnsureSchema = true
	c.SQLite.Path = "qr-biometric.db"
	c.Database.Port = 3306
	c.Scan.Capture = "feed"
	c.Scan.FeedBuffer = 16
	c.Scan.Zbar.Mode = "local"
	c.Scan.Zbar.Device = "/dev/video0"
	c.Auth.BiometricKind = "none"
	c.Auth.BiometricTimeout = 30 * time.Second
	c.Auth.MaxPinFailures = 5
	c.Auth.LockoutCooldown = 30 * time.Second
	c.Auth.MinPinLength = 4
	c.Auth.MaxPinLength = 8
	c.Auth.Argon2.MemoryKiB = 64 * 1024
	c.Auth.Argon2.Iterations = 3
	c.Auth.Argon2.Parallelism = 4
	c.Security.PinRateRPS = 1
	c.Security.PinRateBurst = 5
	return &c
}

// Load baca file config.yaml di atas default, lalu env override. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("QRB_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("QRB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("QRB_LOG_ENV"); v != "" {
		c.Log.Env = v
	}
	if v := os.Getenv("QRB_SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QRB_SERVER_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite, DriverMinio:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Scan.DedupWindow < 0 {
		return errors.New("scan.dedupWindow must not be negative")
	}
	switch c.Scan.Capture {
	case "feed", "zbar":
	default:
		return fmt.Errorf("unknown capture driver %q", c.Scan.Capture)
	}
	if c.Auth.MaxPinFailures < 0 {
		return errors.New("auth.maxPinFailures must not be negative")
	}
	if c.Auth.MinPinLength <= 0 || c.Auth.MaxPinLength < c.Auth.MinPinLength {
		return fmt.Errorf("invalid pin length bounds %d-%d", c.Auth.MinPinLength, c.Auth.MaxPinLength)
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}
