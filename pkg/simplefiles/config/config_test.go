package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-files/pkg/simplefiles"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseURL)
	assert.Equal(t, "memory://", cfg.StorageURL)
	assert.Equal(t, 255*1024, cfg.ChunkSizeBytes)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "sqlite:///var/lib/files/files.db")
	t.Setenv("STORAGE_URL", "file:///var/lib/files/blobs")
	t.Setenv("CHUNK_SIZE_BYTES", "1024")
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ENABLE_METRICS", "false")

	cfg, err := Load(FromEnv())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 1024, cfg.ChunkSizeBytes)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.EnableMetrics)

	db, err := cfg.Database()
	require.NoError(t, err)
	assert.Equal(t, DatabaseTarget{Kind: DatabaseSQLite, DSN: "/var/lib/files/files.db"}, db)

	storage, err := cfg.Storage()
	require.NoError(t, err)
	assert.Equal(t, StorageFS, storage.Kind)
	assert.Equal(t, "/var/lib/files/blobs", storage.BaseDir)
}

// clearEnv unsets every variable ServerConfig reads for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	typ := reflect.TypeOf(ServerConfig{})
	for i := 0; i < typ.NumField(); i++ {
		key := typ.Field(i).Tag.Get("env")
		if key == "" {
			continue
		}
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_FromEnvKeepsDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)

	fromEnv, err := Load(FromEnv())
	require.NoError(t, err)
	plain, err := Load()
	require.NoError(t, err)

	assert.Equal(t, plain, fromEnv)
	assert.True(t, fromEnv.MigrateOnStart)
	assert.Equal(t, 5*time.Minute, fromEnv.LockTTL)
}

func TestLoad_FromEnvFalseOverridesTrueDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_MIGRATE", "false")
	t.Setenv("ENABLE_EVENT_LOGGING", "false")

	cfg, err := Load(FromEnv())
	require.NoError(t, err)
	assert.False(t, cfg.MigrateOnStart)
	assert.False(t, cfg.EnableEventLogging)
	assert.True(t, cfg.EnableMetrics)
}

func TestLoad_ExplicitOptionsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "9090")

	cfg, err := Load(FromEnv(), WithPort("7070"), WithMetrics(false))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.False(t, cfg.EnableMetrics)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		msg  string
	}{
		{"empty port", []Option{WithPort("")}, "port is required"},
		{"zero chunk size", []Option{WithChunkSize(0)}, "chunk_size_bytes"},
		{"zero upload limit", []Option{WithMaxUploadBytes(0)}, "max_upload_bytes"},
		{"unknown database", []Option{WithDatabaseURL("mysql://db")}, "unsupported DATABASE_URL"},
		{"empty sqlite path", []Option{WithDatabaseURL("sqlite://")}, "sqlite path"},
		{"unknown storage", []Option{WithStorageURL("gs://bucket")}, "unsupported STORAGE_URL"},
		{"empty fs path", []Option{WithStorageURL("file://")}, "filesystem path"},
		{"empty bucket", []Option{WithStorageURL("s3://?region=us-east-1")}, "bucket name"},
		{"bad path_style", []Option{WithStorageURL("s3://files?path_style=maybe")}, "path_style"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestStorage_S3(t *testing.T) {
	cfg, err := Load(WithStorageURL("s3://files/uploads/?region=eu-west-1&endpoint=http://localhost:9000&path_style=true&create_bucket=1"))
	require.NoError(t, err)

	target, err := cfg.Storage()
	require.NoError(t, err)
	assert.Equal(t, StorageTarget{
		Kind:         StorageS3,
		Bucket:       "files",
		Prefix:       "uploads/",
		Region:       "eu-west-1",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
		CreateBucket: true,
	}, target)
}

func TestDatabase_Postgres(t *testing.T) {
	for _, dsn := range []string{"postgres://u:p@localhost/files", "postgresql://u:p@localhost/files"} {
		cfg, err := Load(WithDatabaseURL(dsn))
		require.NoError(t, err)
		target, err := cfg.Database()
		require.NoError(t, err)
		assert.Equal(t, DatabasePostgres, target.Kind)
		assert.Equal(t, dsn, target.DSN)
	}
}

func roundTrip(t *testing.T, svc simplefiles.Service) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.Create(ctx, simplefiles.CreateFileRequest{
		Title: "logo", OriginalFilename: "logo.png", UploadedBy: "alice", Reader: strings.NewReader("ABC"),
	})
	require.NoError(t, err)

	result, err := svc.Update(ctx, simplefiles.UpdateFileRequest{
		Title: "logo", OriginalFilename: "logo_v2.png", Reader: strings.NewReader("XYZ"),
	})
	require.NoError(t, err)
	require.NoError(t, result.CleanupErr)

	_, rc, err := svc.FetchByTitle(ctx, "logo")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "XYZ", string(data))
}

func TestBuild_Memory(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	app, err := cfg.Build(context.Background(), nil)
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Metrics)
	assert.True(t, app.Service.Health(context.Background()).Healthy())
	roundTrip(t, app.Service)
}

func TestBuild_FilesystemAndSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(
		WithDatabaseURL("sqlite://"+filepath.Join(dir, "files.db")),
		WithStorageURL("file://"+filepath.Join(dir, "blobs")),
		WithChunkSize(2),
		WithMetrics(false),
	)
	require.NoError(t, err)

	app, err := cfg.Build(context.Background(), nil)
	require.NoError(t, err)

	assert.Nil(t, app.Metrics)
	assert.True(t, app.Service.Health(context.Background()).Healthy())
	roundTrip(t, app.Service)

	require.NoError(t, app.Close())
	// closing twice is a no-op
	require.NoError(t, app.Close())
}

func TestBuild_BadRedisURL(t *testing.T) {
	cfg, err := Load(WithRedisURL("not-a-redis-url"))
	require.NoError(t, err)

	_, err = cfg.Build(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestEnvUsage(t *testing.T) {
	usage := EnvUsage()
	assert.Contains(t, usage, "STORAGE_URL")
	assert.Contains(t, usage, "DATABASE_URL")
}
