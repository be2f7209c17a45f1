package grant

import (
	"os"

	"github.com/sammhicks/file-sharer/internal/fsutil"
	"github.com/sammhicks/file-sharer/internal/resource"
)

// UploadAuthorizer resolves incoming file names against an upload's
// destination directory. Names are sandboxed to that directory, never the
// files root.
type UploadAuthorizer struct {
	// UploadDir maps an upload to its destination directory; provided by
	// the store so the token → location strategy stays in one place.
	UploadDir func(*resource.Upload) string
}

// Authorize returns the absolute destination path for incomingName. size
// is the declared size in bytes, or negative if unknown; a known size
// over the ceiling is rejected before any bytes land. An unknown size is
// admitted and cut off by the streaming layer at Limit.
func (a UploadAuthorizer) Authorize(up *resource.Upload, incomingName string, size int64) (string, error) {
	dir := a.UploadDir(up)
	abs, err := fsutil.ResolveWithin(dir, incomingName)
	if err != nil {
		return "", err
	}
	if limit := a.Limit(up); limit > 0 && size > limit {
		return "", ErrTooLarge
	}
	if _, err := os.Lstat(abs); err == nil {
		return "", ErrNameConflict
	}
	return abs, nil
}

// Limit is the byte ceiling the surrounding I/O layer must enforce as a
// streaming cutoff. Zero means unlimited.
func (a UploadAuthorizer) Limit(up *resource.Upload) int64 {
	return up.MaxBytes
}
