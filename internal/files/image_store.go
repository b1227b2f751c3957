package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agridetect/internal/crypto"

	"github.com/google/uuid"
)

const (
	uploadSubdir = "uploads/detections"
	encSuffix    = ".enc"
)

var ErrImageNotFound = errors.New("image not found")

// ImageStore keeps uploaded detection images on local disk, optionally AES-GCM encrypted.
type ImageStore struct {
	dir string
	key []byte // nil when encryption is off
}

// NewImageStore creates <dataDir>/uploads/detections. A non-nil key enables encryption at rest.
func NewImageStore(dataDir string, key []byte) (*ImageStore, error) {
	if key != nil && len(key) != 32 {
		return nil, crypto.ErrInvalidKeyLength
	}
	dir := filepath.Join(dataDir, uploadSubdir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &ImageStore{dir: dir, key: key}, nil
}

func (s *ImageStore) Encrypted() bool { return s.key != nil }

// Save writes data under a fresh UUID name and returns the path relative to the store.
func (s *ImageStore) Save(data []byte, ext string) (string, error) {
	name := uuid.New().String() + ext
	payload := data
	if s.key != nil {
		enc, err := crypto.EncryptAESGCM(s.key, data)
		if err != nil {
			return "", fmt.Errorf("encrypt image: %w", err)
		}
		payload = enc
		name += encSuffix
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), payload, 0600); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return name, nil
}

// Read returns the plaintext image stored under name.
func (s *ImageStore) Read(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrImageNotFound
		}
		return nil, err
	}
	if !strings.HasSuffix(name, encSuffix) {
		return blob, nil
	}
	if s.key == nil {
		return nil, errors.New("image is encrypted but no key is configured")
	}
	return crypto.DecryptAESGCM(s.key, blob)
}

// Delete removes name; a missing file is not an error.
func (s *ImageStore) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *ImageStore) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}
