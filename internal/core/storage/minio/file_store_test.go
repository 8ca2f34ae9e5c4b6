package minio

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/stagehand/internal/core/storage/config"
	"github.com/syntrixbase/stagehand/pkg/model"
)

func setupStore(t *testing.T) *FileStore {
	t.Helper()
	endpoint := os.Getenv("STAGEHAND_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("STAGEHAND_TEST_MINIO_ENDPOINT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewFileStore(ctx, config.MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("STAGEHAND_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("STAGEHAND_TEST_MINIO_SECRET_KEY"),
		Bucket:    fmt.Sprintf("stagehand-test-%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Skipf("minio not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for obj := range store.mc.ListObjects(ctx, store.bucket, minio.ListObjectsOptions{Recursive: true}) {
			_ = store.mc.RemoveObject(ctx, store.bucket, obj.Key, minio.RemoveObjectOptions{})
		}
		_ = store.mc.RemoveBucket(ctx, store.bucket)
	})
	return store
}

func TestFileStore_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	got, err := s.GetFile(ctx, "doc1", "raw.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SaveFile(ctx, &model.DocumentFile{
		DocumentID: "doc1", Name: "raw.txt", Encoding: "utf-8", MimeType: "text/plain", Data: []byte("hello"),
	}))
	require.NoError(t, s.SaveFile(ctx, &model.DocumentFile{DocumentID: "doc1", Name: "b.bin", Data: []byte{1}}))
	require.NoError(t, s.SaveFile(ctx, &model.DocumentFile{DocumentID: "doc10", Name: "other", Data: []byte{2}}))

	got, err = s.GetFile(ctx, "doc1", "raw.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("hello"), got.Data)
	assert.Equal(t, "utf-8", got.Encoding)
	assert.Equal(t, "text/plain", got.MimeType)

	names, err := s.GetFileNames(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.bin", "raw.txt"}, names)

	ok, err := s.DeleteFile(ctx, "doc1", "raw.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteFile(ctx, "doc1", "raw.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteFiles(ctx, "doc1"))
	files, err := s.GetFiles(ctx, "doc1")
	require.NoError(t, err)
	assert.Empty(t, files)

	names, err = s.GetFileNames(ctx, "doc10")
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, names)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.Equal(t, "d/n", objectKey("d", "n"))
}
