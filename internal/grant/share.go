// Package grant turns a looked-up resource plus a request into a concrete
// filesystem path, or a rejection. Authorizers hold no state of their own;
// they are pure functions of the resource and the request.
package grant

import (
	"errors"

	"github.com/sammhicks/file-sharer/internal/fsutil"
	"github.com/sammhicks/file-sharer/internal/resource"
)

var (
	// ErrDenied reports a valid resource that does not cover the request.
	ErrDenied = errors.New("not covered by grant")
	// ErrNameConflict reports an upload name that already exists at the
	// destination. Uploads are never overwritten; retries of a completed
	// upload surface this instead of duplicating data.
	ErrNameConflict = errors.New("name already exists")
	// ErrTooLarge reports an upload whose declared size exceeds the
	// grant's ceiling, rejected before any bytes are written.
	ErrTooLarge = errors.New("upload too large")
)

// ShareAuthorizer resolves download requests against a share's enumerated
// file set. A share grants exactly its listed files, never the whole
// files root.
type ShareAuthorizer struct {
	FilesRoot string
}

// Authorize returns the absolute path to serve for requested, which must
// match one of the share's references after normalization.
func (a ShareAuthorizer) Authorize(sh *resource.Share, requested string) (string, error) {
	rel, err := fsutil.NormalizeRel(requested)
	if err != nil {
		return "", err
	}
	for _, ref := range sh.Files {
		if rel == ref {
			return fsutil.ResolveWithin(a.FilesRoot, ref)
		}
	}
	return "", ErrDenied
}

// List returns the share's file references for rendering to the
// recipient. Purely informational.
func (a ShareAuthorizer) List(sh *resource.Share) []string {
	out := make([]string, len(sh.Files))
	copy(out, sh.Files)
	return out
}
