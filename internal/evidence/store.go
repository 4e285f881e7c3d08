// Package evidence stores proof-of-pickup photos uploaded by agents.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
)

const MaxUploadBytes = 10 << 20

var (
	// ErrInvalidUpload marks uploads rejected for their id or content type.
	ErrInvalidUpload = errors.New("invalid evidence upload")
	ErrTooLarge      = fmt.Errorf("evidence exceeds %d bytes", MaxUploadBytes)
)

// Store persists one evidence object per upload and returns its URI.
type Store interface {
	Put(ctx context.Context, requestID, contentType string, body io.Reader, size int64) (string, error)
}

type Config struct {
	Backend   string `yaml:"backend"`
	LocalDir  string `yaml:"local_dir"`
	Endpoint  string `yaml:"minio_endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	Bucket    string `yaml:"minio_bucket"`
	UseSSL    bool   `yaml:"minio_use_ssl"`
}

func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "minio", "s3":
		return NewMinIOStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported evidence backend %q", cfg.Backend)
	}
}

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// extensionFor validates contentType and returns the object suffix for it.
func extensionFor(contentType string) (string, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: content type %q: %v", ErrInvalidUpload, contentType, err)
	}
	ext, ok := allowedTypes[mt]
	if !ok {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrInvalidUpload, mt)
	}
	return ext, nil
}

// readBounded reads body to the end, failing once it yields more than
// MaxUploadBytes. A declared size is not trusted: chunked bodies report -1.
func readBounded(body io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(body, MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxUploadBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}

func checkRequest(requestID string, size int64) error {
	if !validRequestID(requestID) {
		return fmt.Errorf("%w: request id %q", ErrInvalidUpload, requestID)
	}
	if size > MaxUploadBytes {
		return ErrTooLarge
	}
	return nil
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !ok {
			return false
		}
	}
	return true
}
