package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammhicks/file-sharer/internal/config"
	"github.com/sammhicks/file-sharer/internal/resource"
	"github.com/sammhicks/file-sharer/internal/token"
)

func mustToken(t *testing.T, raw string) token.Token {
	t.Helper()
	tok, err := token.Parse(raw)
	require.NoError(t, err)
	return tok
}

type testServer struct {
	srv   *Server
	store *resource.Store
	admin http.Handler
	user  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	base := t.TempDir()
	files := filepath.Join(base, "files")
	require.NoError(t, os.MkdirAll(filepath.Join(files, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(files, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(files, "b", "c.txt"), []byte("gamma"), 0o644))

	cfg := config.Config{FilesRoot: files, StateDir: filepath.Join(base, "state")}
	require.NoError(t, cfg.Normalize())

	store, err := resource.New(cfg.FilesRoot, cfg.SharesDir, cfg.UploadsDir)
	require.NoError(t, err)

	log := zerolog.Nop()
	srv, err := New(Options{Config: cfg, Log: &log, Store: store})
	require.NoError(t, err)

	return &testServer{
		srv:   srv,
		store: store,
		admin: srv.AdminHandler(),
		user:  srv.UserHandler(),
	}
}

func (ts *testServer) mintShare(t *testing.T, files ...string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"files": files})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Token, 32)
	return out.Token
}

func (ts *testServer) mintUpload(t *testing.T, label string, maxBytes int64) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{"label": label, "maxBytes": maxBytes})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token
}

func (ts *testServer) userGet(path string, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	ts.user.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (ts *testServer) userUpload(t *testing.T, tok string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/upload/"+tok, body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	ts.user.ServeHTTP(rec, req)
	return rec
}

func TestShareFlow(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintShare(t, "a.txt", "b/c.txt")

	rec := ts.userGet("/share/"+tok, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Files []struct {
			Name string `json:"name"`
			Path string `json:"path"`
			Href string `json:"href"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Files, 2)
	assert.Equal(t, "a.txt", listing.Files[0].Name)
	assert.Equal(t, "b/c.txt", listing.Files[1].Path)

	rec = ts.userGet("/share/"+tok+"/f/a.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alpha", rec.Body.String())

	rec = ts.userGet("/share/"+tok+"/f/b/c.txt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gamma", rec.Body.String())

	rec = ts.userGet("/share/"+tok+"/f/a.txt?dl=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
}

func TestShare_RejectionsAreUniform404s(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintShare(t, "a.txt")
	upTok := ts.mintUpload(t, "inbox", 0)

	const want = "no such file\n"
	cases := []string{
		"/share/" + strings.Repeat("0", 32), // well-formed, unbound
		"/share/not-a-token",                // malformed token
		"/share/" + strings.ToLower(tok),    // case matters
		"/share/" + upTok,                   // upload token on the share surface
		"/share/" + tok + "/f/b/c.txt",      // exists under root, not granted
	}
	for _, p := range cases {
		rec := ts.userGet(p, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", p)
		assert.Equal(t, want, rec.Body.String(), "path %s", p)
	}
}

func TestShare_SurvivesDeletionMidSnapshot(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintShare(t, "a.txt")

	req := httptest.NewRequest(http.MethodDelete, "/api/resources/"+tok, nil)
	rec := httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.userGet("/share/"+tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.userGet("/share/"+tok+"/f/a.txt", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadFlow(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintUpload(t, "inbox", 0)

	rec := ts.userGet("/upload/"+tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "multipart/form-data")

	rec = ts.userUpload(t, tok, map[string]string{"report.pdf": "pdf-bytes"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res, err := ts.store.Lookup(mustToken(t, tok))
	require.NoError(t, err)
	require.NotNil(t, res.Upload)
	got, err := os.ReadFile(filepath.Join(ts.store.UploadDir(res.Upload), "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(got))
}

func TestUpload_ConflictAndLimits(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintUpload(t, "inbox", 1000)

	rec := ts.userUpload(t, tok, map[string]string{"one.bin": "0123456789"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// same name again: the completed upload is never clobbered
	rec = ts.userUpload(t, tok, map[string]string{"one.bin": "different"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// request body over the ceiling is refused before any bytes land
	rec = ts.userUpload(t, tok, map[string]string{"big.bin": strings.Repeat("x", 2000)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpload_ChunkedBodyCannotExceedCeiling(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintUpload(t, "inbox", 1000)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("files", "first.bin")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("a"), 1000))
	require.NoError(t, err)
	fw, err = w.CreateFormFile("files", "second.bin")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("b"), 50000))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// io.MultiReader hides the length, as a chunked request would
	req := httptest.NewRequest(http.MethodPost, "/upload/"+tok, io.MultiReader(&buf))
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.Equal(t, int64(-1), req.ContentLength)

	rec := httptest.NewRecorder()
	ts.user.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	// the first part fit the budget and stays; the second never lands
	res, err := ts.store.Lookup(mustToken(t, tok))
	require.NoError(t, err)
	dir := ts.store.UploadDir(res.Upload)
	st, err := os.Stat(filepath.Join(dir, "first.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), st.Size())
	_, err = os.Stat(filepath.Join(dir, "second.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUpload_RejectionsAreUniform404s(t *testing.T) {
	ts := newTestServer(t)
	shTok := ts.mintShare(t, "a.txt")

	for _, tok := range []string{strings.Repeat("F", 32), "junk", shTok} {
		rec := ts.userUpload(t, tok, map[string]string{"f.bin": "x"})
		assert.Equal(t, http.StatusNotFound, rec.Code, "token %s", tok)
		assert.Equal(t, "no such file\n", rec.Body.String(), "token %s", tok)
	}
}

func TestUpload_TraversalNameNeverEscapes(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintUpload(t, "inbox", 0)

	// multipart filenames are reduced to their base name, so the hostile
	// name lands inside the destination, never beside it
	rec := ts.userUpload(t, tok, map[string]string{"../escape.txt": "x"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res, err := ts.store.Lookup(mustToken(t, tok))
	require.NoError(t, err)
	dir := ts.store.UploadDir(res.Upload)
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUpload_NoFilePartsIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintUpload(t, "inbox", 0)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no files here"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload/"+tok, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.user.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_ShareFormAndListing(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"files": {"a.txt\nb/c.txt\n\n"}}
	req := httptest.NewRequest(http.MethodPost, "/share", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/share/")

	req = httptest.NewRequest(http.MethodGet, "/api/resources", nil)
	rec = httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Shares []struct {
			Files []string `json:"files"`
		} `json:"shares"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Shares, 1)
	assert.Equal(t, []string{"a.txt", "b/c.txt"}, out.Shares[0].Files)
}

func TestAdmin_ShareRejectsBadReferences(t *testing.T) {
	ts := newTestServer(t)

	for _, files := range [][]string{
		{"missing.txt"},
		{"../a.txt"},
		{},
	} {
		body, err := json.Marshal(map[string]any{"files": files})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		ts.admin.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "files %v", files)
	}
}

func TestAdmin_Delete(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.mintUpload(t, "inbox", 0)

	req := httptest.NewRequest(http.MethodDelete, "/api/resources/not-a-token", nil)
	rec := httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/resources/"+strings.Repeat("A", 32), nil)
	rec = httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/resources/"+tok, nil)
	rec = httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// idempotence is not promised: the second delete reports the absence
	req = httptest.NewRequest(http.MethodDelete, "/api/resources/"+tok, nil)
	rec = httptest.NewRecorder()
	ts.admin.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	for _, h := range []http.Handler{ts.admin, ts.user} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok\n", rec.Body.String())
	}
}
