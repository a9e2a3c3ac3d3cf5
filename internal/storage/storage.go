// Package storage persists uploaded profile photos.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PhotoStore saves an image and returns the URL it is served from.
type PhotoStore interface {
	Save(ctx context.Context, userId int, ext, contentType string, r io.Reader) (string, error)
}

// objectKey returns a unique key like profile-pictures/42/2024/05/01/<uuid>.png.
func objectKey(userId int, ext string, now time.Time) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return path.Join(
		"profile-pictures",
		fmt.Sprint(userId),
		now.UTC().Format("2006/01/02"),
		uuid.NewString()+ext,
	)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
