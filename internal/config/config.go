// Package config loads the YAML configuration shared by the command-line
// tools, with .env and INSPECTION_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"manhole-inspection/internal/meter"
)

const (
	BlobFile  = "file"
	BlobRedis = "redis"

	EnvPrefix = "INSPECTION"
)

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Backup  BackupConfig  `yaml:"backup"`
	Log     LogConfig     `yaml:"log"`
	Meter   MeterConfig   `yaml:"meter"`
}

type StorageConfig struct {
	DBPath    string     `yaml:"db_path"`
	Blob      BlobConfig `yaml:"blob"`
	ExportDir string     `yaml:"export_dir"`
}

type BlobConfig struct {
	Backend string      `yaml:"backend"` // file | redis
	Dir     string      `yaml:"dir"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackupConfig struct {
	AutoInterval time.Duration `yaml:"auto_interval"`
	DisableAuto  bool          `yaml:"disable_auto"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MeterConfig struct {
	Panels    []meter.Panel   `yaml:"panels"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// SimulatorConfig drives the bench panel simulator: it serves one panel's
// points and steps through the rows of a CSV file whose columns are field
// names.
type SimulatorConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	EquipmentID    int64         `yaml:"equipment_id"`
	CSVFile        string        `yaml:"csv_file"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DBPath:    "data/inspections.sqlite",
			Blob:      BlobConfig{Backend: BlobFile, Dir: "data/blobs", Redis: RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "inspection:"}},
			ExportDir: "exports",
		},
		Backup: BackupConfig{AutoInterval: 30 * time.Minute},
		Log:    LogConfig{Level: "info", Format: "json"},
		Meter: MeterConfig{Simulator: SimulatorConfig{
			ListenAddress:  ":1502",
			UpdateInterval: 5 * time.Second,
		}},
	}
}

// Load reads path (optional; "" means defaults only), then a .env file in the
// working directory if present, then INSPECTION_* variables, and validates
// the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.LoadFromEnv(EnvPrefix); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv overrides settings from <prefix>_* environment variables.
func (c *Config) LoadFromEnv(prefix string) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(prefix + "_" + name); v != "" {
			*dst = v
		}
	}
	str("DB_PATH", &c.Storage.DBPath)
	str("EXPORT_DIR", &c.Storage.ExportDir)
	str("BLOB_BACKEND", &c.Storage.Blob.Backend)
	str("BLOB_DIR", &c.Storage.Blob.Dir)
	str("REDIS_ADDR", &c.Storage.Blob.Redis.Addr)
	str("REDIS_PASSWORD", &c.Storage.Blob.Redis.Password)
	str("REDIS_KEY_PREFIX", &c.Storage.Blob.Redis.KeyPrefix)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v := os.Getenv(prefix + "_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s_REDIS_DB: %w", prefix, err)
		}
		c.Storage.Blob.Redis.DB = n
	}
	if v := os.Getenv(prefix + "_BACKUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s_BACKUP_INTERVAL: %w", prefix, err)
		}
		c.Backup.AutoInterval = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	c.Storage.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Blob.Backend))
	if c.Storage.Blob.Backend == "" {
		c.Storage.Blob.Backend = BlobFile
	}
	if c.Storage.Blob.Dir == "" {
		c.Storage.Blob.Dir = def.Storage.Blob.Dir
	}
	if c.Backup.AutoInterval <= 0 {
		c.Backup.AutoInterval = def.Backup.AutoInterval
	}
	if c.Meter.Simulator.UpdateInterval <= 0 {
		c.Meter.Simulator.UpdateInterval = def.Meter.Simulator.UpdateInterval
	}
}

// Validate reports the first configuration problem.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path must be set")
	}
	switch c.Storage.Blob.Backend {
	case BlobFile:
	case BlobRedis:
		if c.Storage.Blob.Redis.Addr == "" {
			return errors.New("storage.blob.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage.blob.backend %q (expected file or redis)", c.Storage.Blob.Backend)
	}
	for _, p := range c.Meter.Panels {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("meter: %w", err)
		}
	}
	return nil
}
