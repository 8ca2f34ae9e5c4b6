package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/syntrixbase/stagehand/pkg/model"
)

func cloneFile(f *model.DocumentFile) *model.DocumentFile {
	cp := *f
	cp.Data = slices.Clone(f.Data)
	return &cp
}

func (s *Store) GetFile(ctx context.Context, docID, name string) (*model.DocumentFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[docID][name]
	if !ok {
		return nil, nil
	}
	return cloneFile(f), nil
}

func (s *Store) GetFileNames(ctx context.Context, docID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.files[docID])), nil
}

func (s *Store) GetFiles(ctx context.Context, docID string) ([]*model.DocumentFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := s.files[docID]
	out := make([]*model.DocumentFile, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		out = append(out, cloneFile(byName[name]))
	}
	return out, nil
}

func (s *Store) SaveFile(ctx context.Context, file *model.DocumentFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := cloneFile(file)
	if cp.UploadedAt.IsZero() {
		cp.UploadedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.files[file.DocumentID]
	if !ok {
		byName = make(map[string]*model.DocumentFile)
		s.files[file.DocumentID] = byName
	}
	byName[file.Name] = cp
	return nil
}

func (s *Store) DeleteFile(ctx context.Context, docID, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.files[docID]
	if !ok {
		return false, nil
	}
	if _, ok := byName[name]; !ok {
		return false, nil
	}
	delete(byName, name)
	if len(byName) == 0 {
		delete(s.files, docID)
	}
	return true, nil
}

func (s *Store) DeleteFiles(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, docID)
	return nil
}
