package mongo

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/syntrixbase/stagehand/internal/core/storage/types"
	"github.com/syntrixbase/stagehand/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FileStore keeps attachments in a GridFS bucket. The owning document id
// and attachment name live in the file metadata.
type FileStore struct {
	db     *mongo.Database
	bucket string
}

var _ types.FileStore = (*FileStore)(nil)

type fileMetadata struct {
	DocumentID string `bson:"document_id"`
	Name       string `bson:"name"`
	Encoding   string `bson:"encoding,omitempty"`
	MimeType   string `bson:"mime_type,omitempty"`
}

type fileRecord struct {
	ID         primitive.ObjectID `bson:"_id"`
	UploadDate time.Time          `bson:"uploadDate"`
	Metadata   fileMetadata       `bson:"metadata"`
}

func NewFileStore(db *mongo.Database, bucket string) *FileStore {
	return &FileStore{db: db, bucket: bucket}
}

// open returns a fresh bucket; gridfs.Bucket carries per-call deadlines and
// buffers, so it is not shared between goroutines.
func (s *FileStore) open(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.bucket))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.SetReadDeadline(deadline)
		_ = b.SetWriteDeadline(deadline)
	}
	return b, nil
}

func fileFilter(docID, name string) bson.M {
	f := bson.M{"metadata.document_id": docID}
	if name != "" {
		f["metadata.name"] = name
	}
	return f
}

func (s *FileStore) find(ctx context.Context, b *gridfs.Bucket, docID, name string) ([]fileRecord, error) {
	opts := options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := b.FindContext(ctx, fileFilter(docID, name), opts)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var recs []fileRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, wrapError(err)
	}
	return recs, nil
}

func (s *FileStore) download(b *gridfs.Bucket, rec fileRecord) (*model.DocumentFile, error) {
	var buf bytes.Buffer
	if _, err := b.DownloadToStream(rec.ID, &buf); err != nil {
		return nil, wrapError(fmt.Errorf("download %s/%s: %w", rec.Metadata.DocumentID, rec.Metadata.Name, err))
	}
	return &model.DocumentFile{
		DocumentID: rec.Metadata.DocumentID,
		Name:       rec.Metadata.Name,
		Encoding:   rec.Metadata.Encoding,
		MimeType:   rec.Metadata.MimeType,
		UploadedAt: rec.UploadDate.UTC(),
		Data:       buf.Bytes(),
	}, nil
}

func (s *FileStore) GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error) {
	b, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := s.find(ctx, b, docID, name)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return s.download(b, recs[0])
}

func (s *FileStore) GetFileNames(ctx context.Context, docID string) ([]string, error) {
	b, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := s.find(ctx, b, docID, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(recs))
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, dup := seen[r.Metadata.Name]; dup {
			continue
		}
		seen[r.Metadata.Name] = struct{}{}
		names = append(names, r.Metadata.Name)
	}
	return names, nil
}

func (s *FileStore) GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error) {
	b, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := s.find(ctx, b, docID, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(recs))
	out := make([]*model.DocumentFile, 0, len(recs))
	for _, r := range recs {
		if _, dup := seen[r.Metadata.Name]; dup {
			continue
		}
		seen[r.Metadata.Name] = struct{}{}
		f, err := s.download(b, r)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SaveFile uploads the new revision first and then removes older ones, so
// a reader never observes a missing attachment during an overwrite.
func (s *FileStore) SaveFile(ctx context.Context, file *model.DocumentFile) error {
	b, err := s.open(ctx)
	if err != nil {
		return err
	}
	meta := fileMetadata{
		DocumentID: file.DocumentID,
		Name:       file.Name,
		Encoding:   file.Encoding,
		MimeType:   file.MimeType,
	}
	id, err := b.UploadFromStream(file.DocumentID+"/"+file.Name, bytes.NewReader(file.Data),
		options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return wrapError(fmt.Errorf("upload %s/%s: %w", file.DocumentID, file.Name, err))
	}

	recs, err := s.find(ctx, b, file.DocumentID, file.Name)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID == id {
			continue
		}
		if err := b.DeleteContext(ctx, r.ID); err != nil && err != gridfs.ErrFileNotFound {
			return wrapError(err)
		}
	}
	return nil
}

func (s *FileStore) DeleteFile(ctx context.Context, docID, name string) (bool, error) {
	return s.delete(ctx, docID, name)
}

func (s *FileStore) DeleteFiles(ctx context.Context, docID string) error {
	_, err := s.delete(ctx, docID, "")
	return err
}

func (s *FileStore) delete(ctx context.Context, docID, name string) (bool, error) {
	b, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	recs, err := s.find(ctx, b, docID, name)
	if err != nil {
		return false, err
	}
	deleted := false
	for _, r := range recs {
		err := b.DeleteContext(ctx, r.ID)
		if err == gridfs.ErrFileNotFound {
			continue
		}
		if err != nil {
			return deleted, wrapError(err)
		}
		deleted = true
	}
	return deleted, nil
}
