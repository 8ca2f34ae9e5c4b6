// Package minio stores document attachments in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/syntrixbase/stagehand/internal/core/storage/config"
	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
)

const encodingMetaKey = "Encoding"

// FileStore maps attachment (docID, name) to the object key "docID/name".
type FileStore struct {
	mc     *minio.Client
	bucket string
}

var _ types.FileStore = (*FileStore)(nil)

// NewFileStore connects to the endpoint and creates the bucket if needed.
func NewFileStore(ctx context.Context, cfg config.MinioConfig) (*FileStore, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	s := &FileStore{mc: mc, bucket: cfg.Bucket}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) ensureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", model.ErrDatabaseUnavailable, err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func objectKey(docID, name string) string {
	return docID + "/" + name
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

func (s *FileStore) GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error) {
	key := objectKey(docID, name)
	info, err := s.mc.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("download %s: %w", key, err)
	}

	f := &model.DocumentFile{
		DocumentID: docID,
		Name:       name,
		MimeType:   info.ContentType,
		UploadedAt: info.LastModified.UTC(),
		Data:       data,
	}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, encodingMetaKey) {
			f.Encoding = v
		}
	}
	return f, nil
}

func (s *FileStore) GetFileNames(ctx context.Context, docID string) ([]string, error) {
	prefix := docID + "/"
	var names []string
	for obj := range s.mc.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		names = append(names, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error) {
	names, err := s.GetFileNames(ctx, docID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.DocumentFile, 0, len(names))
	for _, name := range names {
		f, err := s.GetFile(ctx, docID, name)
		if err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *FileStore) SaveFile(ctx context.Context, file *model.DocumentFile) error {
	opts := minio.PutObjectOptions{ContentType: file.MimeType}
	if file.Encoding != "" {
		opts.UserMetadata = map[string]string{encodingMetaKey: file.Encoding}
	}
	key := objectKey(file.DocumentID, file.Name)
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(file.Data), int64(len(file.Data)), opts)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// DeleteFile stats before removing since RemoveObject succeeds for missing keys.
func (s *FileStore) DeleteFile(ctx context.Context, docID, name string) (bool, error) {
	key := objectKey(docID, name)
	if _, err := s.mc.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	if err := s.mc.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("remove %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) DeleteFiles(ctx context.Context, docID string) error {
	names, err := s.GetFileNames(ctx, docID)
	if err != nil {
		return err
	}
	for _, name := range names {
		key := objectKey(docID, name)
		if err := s.mc.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := s.mc.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDatabaseUnavailable, err)
	}
	return nil
}

func (s *FileStore) Close(context.Context) error {
	return nil
}
