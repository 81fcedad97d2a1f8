// Package intake enforces the upload policy for CV attachments.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// FieldName is the multipart field carrying the CV.
const FieldName = "cv"

// DefaultMaxBytes is the CV size ceiling.
const DefaultMaxBytes int64 = 5 << 20

// DefaultAllowedTypes lists PDF and the two Word document types.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// Upload is an accepted file buffered in memory.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the number of buffered bytes.
func (u *Upload) Size() int64 {
	return int64(len(u.Data))
}

// Policy holds the size ceiling and MIME allow-list.
type Policy struct {
	maxBytes int64
	allowed  map[string]struct{}
}

// NewPolicy normalizes the allow-list. Zero values fall back to the defaults.
func NewPolicy(maxBytes int64, allowedTypes []string) Policy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedTypes
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		allowed[t] = struct{}{}
	}
	return Policy{maxBytes: maxBytes, allowed: allowed}
}

// MaxBytes returns the size ceiling.
func (p Policy) MaxBytes() int64 {
	return p.maxBytes
}

// CheckType validates a declared Content-Type and returns its bare media type.
func (p Policy) CheckType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, contentType)
	}
	mediaType = strings.ToLower(mediaType)
	if _, ok := p.allowed[mediaType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, mediaType)
	}
	return mediaType, nil
}

// CheckSize rejects a declared size above the ceiling.
func (p Policy) CheckSize(size int64) error {
	if size > p.maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, p.maxBytes)
	}
	return nil
}

// Read checks the declared type first, then buffers r up to the ceiling.
// Reading stops as soon as the ceiling is crossed.
func (p Policy) Read(filename, contentType string, r io.Reader) (*Upload, error) {
	mediaType, err := p.CheckType(contentType)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: request body limit reached", ErrFileTooLarge)
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := p.CheckSize(n); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(filename)
	if name != "" {
		name = filepath.Base(name)
	}
	return &Upload{
		Filename:    name,
		ContentType: mediaType,
		Data:        buf.Bytes(),
	}, nil
}
