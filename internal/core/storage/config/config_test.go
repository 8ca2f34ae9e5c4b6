package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.Equal(t, FilesNative, cfg.Files)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "stagehand", cfg.Mongo.DatabaseName)
	assert.Equal(t, "documents", cfg.Mongo.DocumentCollection)
	assert.Equal(t, "document_files", cfg.Postgres.FileTable)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Backend: BackendMemory}
	cfg.ApplyDefaults()

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, FilesNative, cfg.Files)
	assert.Equal(t, 10000, cfg.Memory.MaxInactive)
	assert.Equal(t, "pipelines", cfg.Postgres.PipelineTable)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Files = "s3"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Files = FilesMinio
	cfg.Minio.Bucket = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retention = -time.Second
	assert.Error(t, cfg.Validate())
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("STAGEHAND_STORAGE_BACKEND", "postgres")
	t.Setenv("STAGEHAND_MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("STAGEHAND_DB_NAME", "testdb")
	t.Setenv("STAGEHAND_POSTGRES_DSN", "postgres://pg/db")
	t.Setenv("STAGEHAND_MINIO_ENDPOINT", "minio:9000")
	t.Setenv("STAGEHAND_MINIO_ACCESS_KEY", "ak")
	t.Setenv("STAGEHAND_MINIO_SECRET_KEY", "sk")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, "testdb", cfg.Mongo.DatabaseName)
	assert.Equal(t, "postgres://pg/db", cfg.Postgres.DSN)
	assert.Equal(t, FilesMinio, cfg.Files)
	assert.Equal(t, "minio:9000", cfg.Minio.Endpoint)
	assert.Equal(t, "ak", cfg.Minio.AccessKey)
	assert.Equal(t, "sk", cfg.Minio.SecretKey)
}
