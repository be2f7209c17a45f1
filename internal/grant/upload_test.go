package grant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammhicks/file-sharer/internal/fsutil"
	"github.com/sammhicks/file-sharer/internal/resource"
)

func testUploadAuthorizer(t *testing.T) (UploadAuthorizer, string) {
	t.Helper()
	dir := t.TempDir()
	a := UploadAuthorizer{
		UploadDir: func(*resource.Upload) string { return dir },
	}
	return a, dir
}

func TestUploadAuthorize_ResolvesUnderDestination(t *testing.T) {
	a, dir := testUploadAuthorizer(t)
	up := &resource.Upload{}

	abs, err := a.Authorize(up, "report.pdf", 100)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.pdf"), abs)

	// nested names are allowed; the directory is created on receive
	abs, err = a.Authorize(up, "photos/1.jpg", 100)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photos", "1.jpg"), abs)
}

func TestUploadAuthorize_RejectsTraversal(t *testing.T) {
	a, _ := testUploadAuthorizer(t)
	up := &resource.Upload{}

	for _, name := range []string{"../escape.txt", "/etc/passwd", "a\x00b", "..", ""} {
		_, err := a.Authorize(up, name, 1)
		assert.ErrorIs(t, err, fsutil.ErrPathEscape, "name %q", name)
	}
}

func TestUploadAuthorize_NameConflict(t *testing.T) {
	a, dir := testUploadAuthorizer(t)
	up := &resource.Upload{}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken.bin"), []byte("x"), 0o644))

	_, err := a.Authorize(up, "taken.bin", 1)
	assert.ErrorIs(t, err, ErrNameConflict)
}

func TestUploadAuthorize_SizeCeiling(t *testing.T) {
	a, _ := testUploadAuthorizer(t)
	up := &resource.Upload{MaxBytes: 1000}

	_, err := a.Authorize(up, "ok.bin", 1000)
	assert.NoError(t, err)

	_, err = a.Authorize(up, "big.bin", 1001)
	assert.ErrorIs(t, err, ErrTooLarge)

	// unknown declared size is admitted here and enforced during receive
	_, err = a.Authorize(up, "unknown.bin", -1)
	assert.NoError(t, err)

	// zero ceiling means unlimited
	unlimited := &resource.Upload{}
	_, err = a.Authorize(unlimited, "any.bin", 1<<40)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), a.Limit(unlimited))
	assert.Equal(t, int64(1000), a.Limit(up))
}
