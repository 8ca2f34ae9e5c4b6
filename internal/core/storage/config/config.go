package config

import (
	"fmt"
	"os"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"

	FilesNative = "native"
	FilesMinio  = "minio"
)

type Config struct {
	Backend string `yaml:"backend"` // "memory", "mongo" or "postgres"
	Files   string `yaml:"files"`   // "native" or "minio"

	// Retention is how long archived documents are kept before eviction.
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	Memory   MemoryConfig   `yaml:"memory"`
	Minio    MinioConfig    `yaml:"minio"`
}

type MongoConfig struct {
	URI                string `yaml:"uri"`
	DatabaseName       string `yaml:"database_name"`
	DocumentCollection string `yaml:"document_collection"`
	PipelineCollection string `yaml:"pipeline_collection"`
	FileBucket         string `yaml:"file_bucket"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	DocumentTable   string        `yaml:"document_table"`
	FileTable       string        `yaml:"file_table"`
	PipelineTable   string        `yaml:"pipeline_table"`
}

type MemoryConfig struct {
	// MaxInactive bounds the number of archived documents kept in memory.
	MaxInactive int `yaml:"max_inactive"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func DefaultConfig() Config {
	return Config{
		Backend:       BackendMongo,
		Files:         FilesNative,
		Retention:     24 * time.Hour,
		SweepInterval: 5 * time.Minute,
		Mongo: MongoConfig{
			URI:                "mongodb://localhost:27017",
			DatabaseName:       "stagehand",
			DocumentCollection: "documents",
			PipelineCollection: "pipelines",
			FileBucket:         "attachments",
		},
		Postgres: PostgresConfig{
			DSN:             "postgres://localhost:5432/stagehand?sslmode=disable",
			MaxConns:        10,
			ConnMaxLifetime: 30 * time.Minute,
			DocumentTable:   "documents",
			FileTable:       "document_files",
			PipelineTable:   "pipelines",
		},
		Memory: MemoryConfig{
			MaxInactive: 10000,
		},
		Minio: MinioConfig{
			Endpoint: "localhost:9000",
			Bucket:   "stagehand-files",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.Files == "" {
		c.Files = defaults.Files
	}
	if c.Retention == 0 {
		c.Retention = defaults.Retention
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaults.SweepInterval
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.DocumentCollection == "" {
		c.Mongo.DocumentCollection = defaults.Mongo.DocumentCollection
	}
	if c.Mongo.PipelineCollection == "" {
		c.Mongo.PipelineCollection = defaults.Mongo.PipelineCollection
	}
	if c.Mongo.FileBucket == "" {
		c.Mongo.FileBucket = defaults.Mongo.FileBucket
	}
	if c.Postgres.DSN == "" {
		c.Postgres.DSN = defaults.Postgres.DSN
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = defaults.Postgres.MaxConns
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = defaults.Postgres.ConnMaxLifetime
	}
	if c.Postgres.DocumentTable == "" {
		c.Postgres.DocumentTable = defaults.Postgres.DocumentTable
	}
	if c.Postgres.FileTable == "" {
		c.Postgres.FileTable = defaults.Postgres.FileTable
	}
	if c.Postgres.PipelineTable == "" {
		c.Postgres.PipelineTable = defaults.Postgres.PipelineTable
	}
	if c.Memory.MaxInactive == 0 {
		c.Memory.MaxInactive = defaults.Memory.MaxInactive
	}
	if c.Minio.Endpoint == "" {
		c.Minio.Endpoint = defaults.Minio.Endpoint
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = defaults.Minio.Bucket
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("STAGEHAND_STORAGE_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("STAGEHAND_MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("STAGEHAND_DB_NAME"); val != "" {
		c.Mongo.DatabaseName = val
	}
	if val := os.Getenv("STAGEHAND_POSTGRES_DSN"); val != "" {
		c.Postgres.DSN = val
	}
	if val := os.Getenv("STAGEHAND_MINIO_ENDPOINT"); val != "" {
		c.Minio.Endpoint = val
		c.Files = FilesMinio
	}
	if val := os.Getenv("STAGEHAND_MINIO_ACCESS_KEY"); val != "" {
		c.Minio.AccessKey = val
	}
	if val := os.Getenv("STAGEHAND_MINIO_SECRET_KEY"); val != "" {
		c.Minio.SecretKey = val
	}
}

// ResolvePaths is a no-op; storage has no file paths.
func (c *Config) ResolvePaths(_ string) { _ = c }

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendMongo, BackendPostgres:
	default:
		return fmt.Errorf("storage.backend: unsupported backend %q", c.Backend)
	}
	switch c.Files {
	case FilesNative:
	case FilesMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio: endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("storage.files: unsupported file backend %q", c.Files)
	}
	if c.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}
	return nil
}
