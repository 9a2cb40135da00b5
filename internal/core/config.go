package core

import (
	"fmt"
	"os"
	"strings"

	"docrepo/internal/blob"
	"docrepo/pkg/domain"

	"gopkg.in/yaml.v3"
)

// StorageDriver identifies a concrete DocumentStore implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageMySQL    StorageDriver = "mysql"    // MySQL server
	StorageBolt     StorageDriver = "bolt"     // embedded bbolt file
)

// ConfigEnv names the variable LoadConfig reads the config path from when no
// explicit path is given.
const ConfigEnv = "DOCREPO_CONFIG"

// Config is the process configuration. Values come from an optional YAML
// file, then environment variables override them.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    blob.Config   `yaml:"blob"`
	Log     LogConfig     `yaml:"log"`
	// Tables maps Go record type names to explicit table names.
	Tables map[string]string `yaml:"tables"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	MySQLDSN    string        `yaml:"mysql_dsn"`
	BoltPath    string        `yaml:"bolt_path"`
}

// LogConfig configures the slog logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads path (or $DOCREPO_CONFIG when path is empty), applies
// environment overrides and validates the result. With no file at all the
// defaults plus environment are returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
//
//	DOCREPO_STORAGE_DRIVER: memory|sqlite|postgres|mysql|bolt (default sqlite)
//	DOCREPO_SQLITE_PATH, DOCREPO_POSTGRES_DSN, DOCREPO_MYSQL_DSN, DOCREPO_BOLT_PATH
//	DOCREPO_BLOB_DRIVER: fs|s3|memory (default fs)
//	DOCREPO_BLOB_FS_ROOT
//	DOCREPO_BLOB_S3_BUCKET, DOCREPO_BLOB_S3_REGION, DOCREPO_BLOB_S3_ENDPOINT,
//	DOCREPO_BLOB_S3_PATH_STYLE
//	DOCREPO_LOG_LEVEL, DOCREPO_LOG_FORMAT
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var driver, blobDriver, pathStyle string
	set("DOCREPO_STORAGE_DRIVER", &driver)
	if driver != "" {
		c.Storage.Driver = StorageDriver(strings.ToLower(driver))
	}
	set("DOCREPO_SQLITE_PATH", &c.Storage.SQLitePath)
	set("DOCREPO_POSTGRES_DSN", &c.Storage.PostgresDSN)
	set("DOCREPO_MYSQL_DSN", &c.Storage.MySQLDSN)
	set("DOCREPO_BOLT_PATH", &c.Storage.BoltPath)

	set("DOCREPO_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		c.Blob.Driver = blob.Driver(strings.ToLower(blobDriver))
	}
	set("DOCREPO_BLOB_FS_ROOT", &c.Blob.FSRoot)
	set("DOCREPO_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	set("DOCREPO_BLOB_S3_REGION", &c.Blob.S3.Region)
	set("DOCREPO_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	set("DOCREPO_BLOB_S3_PATH_STYLE", &pathStyle)
	if pathStyle != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(pathStyle, "true")
	}

	set("DOCREPO_LOG_LEVEL", &c.Log.Level)
	set("DOCREPO_LOG_FORMAT", &c.Log.Format)
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageSQLite
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = blob.DriverFilesystem
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects unknown drivers, log settings and table overrides.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres, StorageMySQL, StorageBolt:
	default:
		return fmt.Errorf("unknown storage driver %s", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory, blob.DriverS3:
	default:
		return fmt.Errorf("unknown blob driver %s", c.Blob.Driver)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %s", c.Log.Format)
	}
	for typeName, table := range c.Tables {
		if err := domain.ValidateTable(table); err != nil {
			return fmt.Errorf("table override for %s: %w", typeName, err)
		}
	}
	return nil
}

// TableFor returns the configured table override for a record type name.
func (c *Config) TableFor(typeName string) (string, bool) {
	if c == nil {
		return "", false
	}
	table, ok := c.Tables[typeName]
	return table, ok
}
