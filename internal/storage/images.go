package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/gatherly/backend/internal/errors"
)

// MaxImageBytes caps uploaded venue photos and event covers.
const MaxImageBytes = 5 << 20

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// DetectImage sniffs data and returns its content type, or a ValidationError.
func DetectImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperrors.ValidationError("Image is empty.")
	}
	if len(data) > MaxImageBytes {
		return "", apperrors.ValidationError(fmt.Sprintf("Image must be at most %d MiB.", MaxImageBytes>>20))
	}
	ct := http.DetectContentType(data)
	if !allowedImageTypes[ct] {
		return "", apperrors.ValidationError("Image must be PNG, JPEG, GIF or WebP.")
	}
	return ct, nil
}

// ImageStore saves and serves uploaded images.
type ImageStore interface {
	// Save stores data and returns its key. Identical content yields the same key.
	Save(ctx context.Context, data []byte) (key string, err error)
	Open(ctx context.Context, key string) (*Object, error)
}

// Images writes through S3Storage and reads through the minio Client.
type Images struct {
	writer *S3Storage
	reader *Client
}

var _ ImageStore = (*Images)(nil)

func NewImages(writer *S3Storage, reader *Client) *Images {
	return &Images{writer: writer, reader: reader}
}

func (i *Images) Save(ctx context.Context, data []byte) (string, error) {
	ct, err := DetectImage(data)
	if err != nil {
		return "", err
	}
	key, _, err := i.writer.Put(ctx, data, ct)
	if err != nil {
		return "", apperrors.StorageError("failed to store image").WithCause(err)
	}
	return key, nil
}

func (i *Images) Open(ctx context.Context, key string) (*Object, error) {
	return i.reader.Open(ctx, key)
}

// MemoryImages keeps images in process memory. Used with STORE=memory and in tests.
type MemoryImages struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

var _ ImageStore = (*MemoryImages)(nil)

func NewMemoryImages() *MemoryImages {
	return &MemoryImages{objects: make(map[string]memoryObject)}
}

func (m *MemoryImages) Save(ctx context.Context, data []byte) (string, error) {
	ct, err := DetectImage(data)
	if err != nil {
		return "", err
	}
	key := ContentKey(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		m.objects[key] = memoryObject{data: bytes.Clone(data), contentType: ct, modTime: time.Now()}
	}
	return key, nil
}

type nopSeekCloser struct{ *bytes.Reader }

func (nopSeekCloser) Close() error { return nil }

var _ io.ReadSeekCloser = nopSeekCloser{}

func (m *MemoryImages) Open(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &Object{
		ReadSeekCloser: nopSeekCloser{bytes.NewReader(obj.data)},
		Size:           int64(len(obj.data)),
		ContentType:    obj.contentType,
		ModTime:        obj.modTime,
	}, nil
}
