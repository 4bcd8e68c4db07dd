package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/achievetrack/apiserver/config"
	"github.com/google/uuid"
)

var (
	// ErrDisabled is returned when no object storage backend is configured.
	ErrDisabled = errors.New("object storage is not configured")

	// ErrObjectNotFound is returned by Get when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
)

// Metadata keys attached to every proof document.
const (
	MetaStudentID = "student-id"
	MetaChecksum  = "sha256"
)

// Object is an open stored object. The caller closes it.
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
	Metadata    map[string]string
}

// ObjectStorage is implemented by each storage backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
	Close() error
}

// Storage holds proof documents on top of an ObjectStorage backend. A nil
// *Storage means uploads are disabled.
type Storage struct {
	backend ObjectStorage
}

func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open builds the backend selected by cfg.Backend and makes sure its bucket
// exists. It returns nil and no error when storage is disabled.
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case config.StorageBackendNone, "":
		return nil, nil
	case config.StorageBackendMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case config.StorageBackendGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	case config.StorageBackendMemory:
		backend = NewMemoryStorage("proofs")
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := backend.EnsureBucket(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return NewStorage(backend), nil
}

func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// ProofKey returns a fresh object key for a student's proof document.
// The key never contains the client supplied file name.
func ProofKey(studentID int, extension string) string {
	return path.Join("proofs", strconv.Itoa(studentID), uuid.NewString()+extension)
}

// PutProof stores a proof document tagged with its owner and checksum and
// returns its key.
func (s *Storage) PutProof(ctx context.Context, studentID int, data []byte, contentType, extension string) (string, error) {
	if s == nil {
		return "", ErrDisabled
	}
	sum := sha256.Sum256(data)
	key := ProofKey(studentID, extension)
	metadata := map[string]string{
		MetaStudentID: strconv.Itoa(studentID),
		MetaChecksum:  hex.EncodeToString(sum[:]),
	}
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, metadata); err != nil {
		return "", fmt.Errorf("upload proof: %w", err)
	}
	return key, nil
}

// OpenProof opens the proof stored under key.
func (s *Storage) OpenProof(ctx context.Context, key string) (*Object, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	obj, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open proof %s: %w", key, err)
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, nil
}

// DeleteProof removes a proof document. Missing keys are not an error.
func (s *Storage) DeleteProof(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return nil
	}
	return s.backend.Delete(ctx, key)
}

// Close releases the backend's client. It is safe on a nil *Storage.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	return s.backend.Close()
}
