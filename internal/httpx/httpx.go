// Package httpx holds request parsing shared by the API handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/storage"
)

const (
	maxJSONBytes = 1 << 20

	DefaultLimit = 20
	MaxLimit     = 100
)

// DecodeJSON reads a JSON request body, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.BadRequest("invalid request body").WithCause(err)
	}
	return nil
}

// PathID parses the {id} path value. A malformed id cannot name an existing
// resource, so it is reported as not found.
func PathID(r *http.Request, resource string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, apperrors.NotFound(resource)
	}
	return id, nil
}

// QueryUUID parses an optional uuid query parameter.
func QueryUUID(r *http.Request, name string) (uuid.NullUUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.NullUUID{}, apperrors.ValidationError("The parameter '" + name + "' must be a valid id.")
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

// Page reads limit/offset, defaulting limit to DefaultLimit and capping it at MaxLimit.
func Page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, apperrors.ValidationError("The parameter 'limit' must be a positive integer.")
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, apperrors.ValidationError("The parameter 'offset' must be a non-negative integer.")
		}
	}
	return limit, offset, nil
}

// ReadImage returns the uploaded bytes from either a multipart "image" field
// or a raw request body.
func ReadImage(r *http.Request) ([]byte, error) {
	body := r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		r.Body = http.MaxBytesReader(nil, r.Body, storage.MaxImageBytes+1<<20)
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, apperrors.BadRequest("missing 'image' form field").WithCause(err)
		}
		defer file.Close()
		body = file
	}

	data, err := io.ReadAll(io.LimitReader(body, storage.MaxImageBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.ValidationError("Image must be at most 5 MiB.")
		}
		return nil, apperrors.BadRequest("failed to read upload").WithCause(err)
	}
	return data, nil
}

// ServeObject streams a stored object with range and conditional request support.
func ServeObject(w http.ResponseWriter, r *http.Request, obj *storage.Object) {
	defer obj.Close()
	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.ETag != "" {
		w.Header().Set("ETag", `"`+obj.ETag+`"`)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeContent(w, r, "", obj.ModTime, obj)
}
