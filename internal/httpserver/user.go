package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sammhicks/file-sharer/internal/grant"
	"github.com/sammhicks/file-sharer/internal/resource"
	"github.com/sammhicks/file-sharer/internal/token"
)

// UserHandler is the public surface. The access token in the URL is the
// only credential; every rejection that could leak grant structure is
// reported as a plain 404.
func (s *Server) UserHandler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger(s.log))

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("file-sharer\n"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/share/{token}", s.handleShareList).Methods(http.MethodGet)
	r.HandleFunc("/share/{token}/thumb", s.handleShareThumb).Methods(http.MethodGet)
	r.HandleFunc("/share/{token}/f/{file:.*}", s.handleShareDownload).Methods(http.MethodGet)

	r.HandleFunc("/upload/{token}", s.handleUploadPage).Methods(http.MethodGet)
	r.HandleFunc("/upload/{token}", s.handleUploadPost).Methods(http.MethodPost)

	return r
}

// lookup runs the token state machine shared by all user handlers:
// parse, then look up. Failures are logged with their real cause and
// reported uniformly by the caller.
func (s *Server) lookup(r *http.Request) (resource.Resource, error) {
	tok, err := token.Parse(mux.Vars(r)["token"])
	if err != nil {
		return resource.Resource{}, err
	}
	return s.store.Lookup(tok)
}

func (s *Server) shareFor(w http.ResponseWriter, r *http.Request) *resource.Share {
	res, err := s.lookup(r)
	if err != nil || res.Share == nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("share rejected")
		notFound(w)
		return nil
	}
	return res.Share
}

func (s *Server) uploadFor(w http.ResponseWriter, r *http.Request) *resource.Upload {
	res, err := s.lookup(r)
	if err != nil || res.Upload == nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("upload rejected")
		notFound(w)
		return nil
	}
	return res.Upload
}

type shareEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Href  string `json:"href"`
	Thumb string `json:"thumb,omitempty"`
	Size  int64  `json:"size"`
}

func (s *Server) handleShareList(w http.ResponseWriter, r *http.Request) {
	sh := s.shareFor(w, r)
	if sh == nil {
		return
	}
	base := "/share/" + sh.Token.String()
	entries := make([]shareEntry, 0, len(sh.Files))
	for _, ref := range s.shares.List(sh) {
		e := shareEntry{
			Name: path.Base(ref),
			Path: ref,
			Href: base + "/f/" + escapePath(ref),
		}
		if abs, err := s.shares.Authorize(sh, ref); err == nil {
			if st, err := os.Stat(abs); err == nil {
				e.Size = st.Size()
			}
		}
		if isImageExt(strings.ToLower(path.Ext(ref))) {
			e.Thumb = base + "/thumb?file=" + url.QueryEscape(ref)
		}
		entries = append(entries, e)
	}

	if wantsJSON(r) {
		writeJSON(w, map[string]any{"files": entries})
		return
	}
	s.render(w, "user_share.html", struct {
		Entries []shareEntry
	}{entries})
}

func (s *Server) handleShareDownload(w http.ResponseWriter, r *http.Request) {
	sh := s.shareFor(w, r)
	if sh == nil {
		return
	}
	abs, err := s.shares.Authorize(sh, mux.Vars(r)["file"])
	if err != nil {
		s.log.Warn().Err(err).Str("token", sh.Token.String()).Msg("download rejected")
		notFound(w)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		notFound(w)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		notFound(w)
		return
	}

	if ct := contentTypeForName(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if r.URL.Query().Get("dl") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", st.Name()))
	}
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
}

func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	up := s.uploadFor(w, r)
	if up == nil {
		return
	}
	s.render(w, "user_upload.html", struct {
		Label    string
		MaxBytes int64
	}{up.Label, s.uploads.Limit(up)})
}

func (s *Server) handleUploadPost(w http.ResponseWriter, r *http.Request) {
	up := s.uploadFor(w, r)
	if up == nil {
		return
	}
	limit := s.uploads.Limit(up)
	if limit > 0 && r.ContentLength > limit {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "bad multipart", http.StatusBadRequest)
		return
	}

	var stored []string
	limited := limit > 0
	remaining := limit
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("multipart read failed")
			http.Error(w, "upload failed", http.StatusBadRequest)
			return
		}
		name := part.FileName()
		if name == "" {
			continue // non-file form field
		}

		dst, err := s.uploads.Authorize(up, name, r.ContentLength)
		if err != nil {
			s.uploadReject(w, up, name, err)
			return
		}
		n, err := s.receive(part, dst, remaining, limited)
		if err != nil {
			s.uploadReject(w, up, name, err)
			return
		}
		if limited {
			remaining -= n
		}
		rel, _ := filepath.Rel(s.store.UploadDir(up), dst)
		stored = append(stored, filepath.ToSlash(rel))
		s.log.Info().Str("token", up.Token.String()).Str("file", rel).Int64("bytes", n).Msg("upload stored")
	}

	if len(stored) == 0 {
		http.Error(w, "missing filename", http.StatusBadRequest)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, map[string]any{"ok": true, "files": stored})
		return
	}
	s.render(w, "user_upload_success.html", struct {
		Files []string
	}{stored})
}

func (s *Server) uploadReject(w http.ResponseWriter, up *resource.Upload, name string, err error) {
	s.log.Warn().Err(err).Str("token", up.Token.String()).Str("file", name).Msg("upload rejected")
	switch {
	case errors.Is(err, grant.ErrTooLarge):
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, grant.ErrNameConflict):
		http.Error(w, "name already exists", http.StatusConflict)
	default:
		notFound(w)
	}
}

// receive streams body into a temp file and links it into place. The link
// fails if the final name exists, so completed uploads are never
// clobbered; the temp file is removed on every path, so an aborted body
// leaves nothing behind at the final name. When limited, remaining is the
// byte budget left for this grant; a spent budget rejects even an empty
// body, so a run of parts can never stream past the ceiling.
func (s *Server) receive(body io.Reader, dst string, remaining int64, limited bool) (int64, error) {
	if limited && remaining <= 0 {
		return 0, grant.ErrTooLarge
	}
	tmp := filepath.Join(s.store.TempDir(), uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() { _ = os.Remove(tmp) }()

	src := body
	if limited {
		src = io.LimitReader(body, remaining+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if limited && n > remaining {
		_ = f.Close()
		return 0, grant.ErrTooLarge
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	if err := os.Link(tmp, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, grant.ErrNameConflict
		}
		return 0, err
	}
	return n, nil
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
