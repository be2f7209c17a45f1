// Package resource owns the durable token → resource mapping. The
// directory layout under the state dir is the record: a share is a
// manifest at shares/<token>.json, an upload is a destination directory
// uploads/<token>/ plus a manifest next to it. Manifests are published by
// writing a temp file and renaming it into place, so a lookup either sees
// a complete record or none at all.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sammhicks/file-sharer/internal/fsutil"
	"github.com/sammhicks/file-sharer/internal/token"
)

var (
	// ErrNotFound reports a well-formed token with no bound resource.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidReference reports a share file reference that escapes the
	// files root or does not exist.
	ErrInvalidReference = errors.New("invalid file reference")
	// ErrConflict reports a creation collision on the storage location.
	ErrConflict = errors.New("resource already exists")
)

// Share grants read access to an enumerated set of files under the files
// root. Files holds normalized slash-relative paths.
type Share struct {
	Token     token.Token `json:"token"`
	Files     []string    `json:"files"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Upload grants write access to a single destination directory. MaxBytes
// of zero means no ceiling.
type Upload struct {
	Token     token.Token `json:"token"`
	Label     string      `json:"label"`
	MaxBytes  int64       `json:"maxBytes,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// A Resource is a tagged union: exactly one of Share or Upload is set.
// Lookup returns value copies, so a resource deleted mid-request keeps
// serving the request that already holds it (snapshot semantics).
type Resource struct {
	Share  *Share
	Upload *Upload
}

// Minter produces fresh tokens. Split out from the store so tests can pin
// token values and so the token → location mapping can change without
// touching the authorizers.
type Minter func() (token.Token, error)

// Store is the process-wide mapping, safe for arbitrary concurrent use.
// All mutation is mkdir/rename on the state dirs; there is no in-memory
// index to fall out of sync.
type Store struct {
	filesRoot  string
	sharesDir  string
	uploadsDir string
	mint       Minter
}

// New prepares a store rooted at the three resolved directories, creating
// the share and upload dirs if needed.
func New(filesRoot, sharesDir, uploadsDir string) (*Store, error) {
	for _, dir := range []string{sharesDir, uploadsDir, filepath.Join(uploadsDir, tmpDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}
	if _, err := os.Stat(filesRoot); err != nil {
		return nil, fmt.Errorf("files root: %w", err)
	}
	return &Store{
		filesRoot:  filesRoot,
		sharesDir:  sharesDir,
		uploadsDir: uploadsDir,
		mint:       token.Generate,
	}, nil
}

// SetMinter overrides token generation; nil restores the default.
func (s *Store) SetMinter(m Minter) {
	if m == nil {
		m = token.Generate
	}
	s.mint = m
}

// FilesRoot is the sandbox all share references resolve against.
func (s *Store) FilesRoot() string { return s.filesRoot }

// UploadDir is the sandbox for an upload's incoming files.
func (s *Store) UploadDir(u *Upload) string {
	return filepath.Join(s.uploadsDir, u.Token.String())
}

// TempDir holds in-flight upload bodies before they are linked into place.
// It lives beside the destinations so the final link never crosses
// filesystems.
func (s *Store) TempDir() string {
	return filepath.Join(s.uploadsDir, tmpDirName)
}

const tmpDirName = ".tmp"

// mintAttempts bounds collision regeneration; with 128-bit tokens more
// than one round means the random source is broken.
const mintAttempts = 5

// CreateShare validates every reference against the files root and
// publishes a share manifest under a fresh token.
func (s *Store) CreateShare(fileRefs []string) (*Share, error) {
	if len(fileRefs) == 0 {
		return nil, fmt.Errorf("%w: empty file set", ErrInvalidReference)
	}
	files := make([]string, 0, len(fileRefs))
	seen := make(map[string]bool, len(fileRefs))
	for _, ref := range fileRefs {
		abs, err := fsutil.ResolveWithin(s.filesRoot, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
		st, err := os.Stat(abs)
		if err != nil || !st.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
		rel, err := fsutil.NormalizeRel(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
		if !seen[rel] {
			seen[rel] = true
			files = append(files, rel)
		}
	}

	for i := 0; i < mintAttempts; i++ {
		tok, err := s.mint()
		if err != nil {
			return nil, err
		}
		if s.exists(tok) {
			continue
		}
		sh := &Share{Token: tok, Files: files, CreatedAt: time.Now().UTC()}
		if err := writeManifest(s.shareManifest(tok), sh); err != nil {
			return nil, err
		}
		return sh, nil
	}
	return nil, ErrConflict
}

// CreateUpload claims a fresh destination directory for the token and
// publishes its manifest. The mkdir is the atomic create-if-absent claim:
// two concurrent creations can never end up sharing a directory.
func (s *Store) CreateUpload(label string, maxBytes int64) (*Upload, error) {
	if err := fsutil.SafeSegment(label); err != nil {
		return nil, fmt.Errorf("upload label: %w", err)
	}
	if maxBytes < 0 {
		maxBytes = 0
	}

	for i := 0; i < mintAttempts; i++ {
		tok, err := s.mint()
		if err != nil {
			return nil, err
		}
		if s.exists(tok) {
			continue
		}
		up := &Upload{Token: tok, Label: label, MaxBytes: maxBytes, CreatedAt: time.Now().UTC()}
		dir := s.UploadDir(up)
		if err := os.Mkdir(dir, 0o755); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("claim upload dir: %w", err)
		}
		if err := writeManifest(s.uploadManifest(tok), up); err != nil {
			_ = os.Remove(dir)
			return nil, err
		}
		return up, nil
	}
	return nil, ErrConflict
}

// Lookup reads the resource bound to tok. The returned value is a
// snapshot; concurrent deletion does not invalidate it.
func (s *Store) Lookup(tok token.Token) (Resource, error) {
	var sh Share
	err := readManifest(s.shareManifest(tok), &sh)
	if err == nil && sh.Token == tok {
		return Resource{Share: &sh}, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Resource{}, err
	}

	var up Upload
	err = readManifest(s.uploadManifest(tok), &up)
	if err == nil && up.Token == tok {
		return Resource{Upload: &up}, nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Resource{}, err
	}
	return Resource{}, ErrNotFound
}

// Delete removes the binding. Shared files under the files root are not
// touched; an upload's received files are removed with its directory.
func (s *Store) Delete(tok token.Token) error {
	if err := os.Remove(s.shareManifest(tok)); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	err := os.Remove(s.uploadManifest(tok))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.uploadsDir, tok.String()))
}

// Shares lists all live shares, oldest first.
func (s *Store) Shares() ([]*Share, error) {
	var out []*Share
	err := s.eachManifest(s.sharesDir, func(path string) error {
		var sh Share
		if err := readManifest(path, &sh); err != nil {
			return nil // skip records deleted mid-listing
		}
		out = append(out, &sh)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

// Uploads lists all live uploads, oldest first.
func (s *Store) Uploads() ([]*Upload, error) {
	var out []*Upload
	err := s.eachManifest(s.uploadsDir, func(path string) error {
		var up Upload
		if err := readManifest(path, &up); err != nil {
			return nil
		}
		out = append(out, &up)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (s *Store) exists(tok token.Token) bool {
	if _, err := os.Lstat(s.shareManifest(tok)); err == nil {
		return true
	}
	if _, err := os.Lstat(s.uploadManifest(tok)); err == nil {
		return true
	}
	if _, err := os.Lstat(filepath.Join(s.uploadsDir, tok.String())); err == nil {
		return true
	}
	return false
}

func (s *Store) shareManifest(tok token.Token) string {
	return filepath.Join(s.sharesDir, tok.String()+".json")
}

func (s *Store) uploadManifest(tok token.Token) string {
	return filepath.Join(s.uploadsDir, tok.String()+".json")
}

func (s *Store) eachManifest(dir string, fn func(path string) error) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := fn(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// writeManifest publishes atomically: temp file, fsync, rename.
func writeManifest(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readManifest(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
