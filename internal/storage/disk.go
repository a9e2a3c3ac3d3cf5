package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// DiskStore writes photos below a local directory which the HTTP server
// exposes under BaseURL.
type DiskStore struct {
	Dir     string
	BaseURL string
	now     func() time.Time
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &DiskStore{Dir: dir, BaseURL: baseURL, now: time.Now}, nil
}

func (d *DiskStore) Save(ctx context.Context, userId int, ext, contentType string, r io.Reader) (string, error) {
	key := objectKey(userId, ext, d.now())
	dst := filepath.Join(d.Dir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create photo dir: %w", err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create photo: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write photo: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("close photo: %w", err)
	}

	return joinURL(d.BaseURL, key), nil
}
