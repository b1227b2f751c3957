package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agridetect/internal/models"
)

const queueFileName = "pending.json"

// FileStore keeps the whole queue in one JSON file, for hosts where Badger
// cannot run. Writes go through a temp file and rename.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create queue directory %s: %w", dir, err)
	}
	s := &FileStore{filePath: filepath.Join(dir, queueFileName)}
	// fail early on a corrupt file
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Add(_ context.Context, p *models.PendingDetection) error {
	if p.ID == "" {
		return errors.New("pending detection has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	for _, v := range items {
		if v.ID == p.ID {
			return ErrDuplicate
		}
	}
	cp := *p
	return s.save(append(items, &cp))
}

func (s *FileStore) List(_ context.Context) ([]*models.PendingDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	sortOldestFirst(items)
	return items, nil
}

func (s *FileStore) Get(_ context.Context, id string) (*models.PendingDetection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) Update(_ context.Context, p *models.PendingDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	for i, v := range items {
		if v.ID == p.ID {
			cp := *p
			items[i] = &cp
			return s.save(items)
		}
	}
	return ErrNotFound
}

func (s *FileStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, v := range items {
		if v.ID != id {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return s.save(kept)
}

// Clear removes all pending detections from the store
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items, err := s.load()
	return len(items), err
}

func (s *FileStore) Close() error { return nil }

// load reads the queue file; a missing file is an empty queue.
func (s *FileStore) load() ([]*models.PendingDetection, error) {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return []*models.PendingDetection{}, nil
	}
	if err != nil {
		return nil, err
	}
	var items []*models.PendingDetection
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.filePath, err)
	}
	return items, nil
}

func (s *FileStore) save(items []*models.PendingDetection) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), queueFileName+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.filePath)
}
