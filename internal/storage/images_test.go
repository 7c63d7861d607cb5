package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	apperrors "github.com/gatherly/backend/internal/errors"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDetectImage(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"png", pngHeader, "image/png", false},
		{"gif", []byte("GIF89a......"), "image/gif", false},
		{"empty", nil, "", true},
		{"text", []byte("hello world"), "", true},
		{"too large", append(bytes.Clone(pngHeader), make([]byte, MaxImageBytes)...), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectImage(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectImage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && apperrors.TypeOf(err) != apperrors.TypeValidationError {
				t.Errorf("error type = %s, want ValidationError", apperrors.TypeOf(err))
			}
			if got != tt.want {
				t.Errorf("DetectImage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemoryImages_DedupesByContent(t *testing.T) {
	m := NewMemoryImages()
	ctx := context.Background()

	k1, err := m.Save(ctx, pngHeader)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	k2, _ := m.Save(ctx, bytes.Clone(pngHeader))
	if k1 != k2 {
		t.Errorf("identical content got different keys %q and %q", k1, k2)
	}
	if k1 != ContentKey(pngHeader) {
		t.Errorf("key = %q, want content key", k1)
	}

	obj, err := m.Open(ctx, k1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer obj.Close()

	got, _ := io.ReadAll(obj)
	if !bytes.Equal(got, pngHeader) || obj.ContentType != "image/png" {
		t.Errorf("Open returned %q (%s)", got, obj.ContentType)
	}

	if _, err := m.Open(ctx, "images/missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrObjectNotFound", err)
	}
}
