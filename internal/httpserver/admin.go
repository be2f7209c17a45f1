package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/net/webdav"

	"github.com/sammhicks/file-sharer/internal/auth"
	"github.com/sammhicks/file-sharer/internal/resource"
	"github.com/sammhicks/file-sharer/internal/token"
)

// AdminHandler is the operator surface. It is meant to be bound to
// loopback; BasicAuth on top is optional (see config.AdminUsers).
func (s *Server) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger(s.log))

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleAdminHome).Methods(http.MethodGet)
	r.HandleFunc("/share", s.handleNewShare).Methods(http.MethodPost)
	r.HandleFunc("/upload", s.handleNewUpload).Methods(http.MethodPost)
	r.HandleFunc("/delete", s.handleDeleteForm).Methods(http.MethodPost)

	r.HandleFunc("/api/resources", s.handleListResources).Methods(http.MethodGet)
	r.HandleFunc("/api/resources/{token}", s.handleDeleteResource).Methods(http.MethodDelete)

	// Read-only view of the files root so the operator can browse what a
	// share could reference.
	dav := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(s.store.FilesRoot()),
		LockSystem: webdav.NewMemLS(),
	}
	r.PathPrefix("/dav/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			dav.ServeHTTP(w, r)
		default:
			http.Error(w, "read only", http.StatusMethodNotAllowed)
		}
	}))

	return auth.Require(s.cfg, r)
}

type shareView struct {
	Token   string   `json:"token"`
	URL     string   `json:"url"`
	Files   []string `json:"files"`
	Created string   `json:"created"`
}

type uploadView struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Label    string `json:"label"`
	MaxBytes int64  `json:"maxBytes"`
	Created  string `json:"created"`
}

func (s *Server) shareView(sh *resource.Share) shareView {
	return shareView{
		Token:   sh.Token.String(),
		URL:     s.shareURL(sh.Token),
		Files:   sh.Files,
		Created: sh.CreatedAt.Format("2006-01-02 15:04"),
	}
}

func (s *Server) uploadView(up *resource.Upload) uploadView {
	return uploadView{
		Token:    up.Token.String(),
		URL:      s.uploadURL(up.Token),
		Label:    up.Label,
		MaxBytes: up.MaxBytes,
		Created:  up.CreatedAt.Format("2006-01-02 15:04"),
	}
}

func (s *Server) handleAdminHome(w http.ResponseWriter, r *http.Request) {
	shares, err := s.store.Shares()
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	uploads, err := s.store.Uploads()
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	data := struct {
		Shares  []shareView
		Uploads []uploadView
	}{}
	for _, sh := range shares {
		data.Shares = append(data.Shares, s.shareView(sh))
	}
	for _, up := range uploads {
		data.Uploads = append(data.Uploads, s.uploadView(up))
	}
	s.render(w, "admin.html", data)
}

func (s *Server) handleNewShare(w http.ResponseWriter, r *http.Request) {
	var files []string
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Files []string `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		files = req.Files
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		for _, line := range strings.Split(r.FormValue("files"), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, line)
			}
		}
	}

	sh, err := s.store.CreateShare(files)
	if err != nil {
		if errors.Is(err, resource.ErrInvalidReference) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Msg("create share failed")
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	s.log.Info().Str("token", sh.Token.String()).Int("files", len(sh.Files)).Msg("share created")

	if wantsJSON(r) {
		writeJSON(w, s.shareView(sh))
		return
	}
	s.render(w, "admin_share.html", s.shareView(sh))
}

func (s *Server) handleNewUpload(w http.ResponseWriter, r *http.Request) {
	var (
		label    string
		maxBytes int64
	)
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Label    string `json:"label"`
			MaxBytes int64  `json:"maxBytes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		label, maxBytes = req.Label, req.MaxBytes
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		label = strings.TrimSpace(r.FormValue("label"))
		if v := r.FormValue("maxBytes"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "bad maxBytes", http.StatusBadRequest)
				return
			}
			maxBytes = n
		}
	}
	if maxBytes <= 0 {
		maxBytes = s.cfg.MaxUploadBytes
	}

	up, err := s.store.CreateUpload(label, maxBytes)
	if err != nil {
		if errors.Is(err, resource.ErrConflict) {
			http.Error(w, "conflict", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Info().Str("token", up.Token.String()).Str("label", up.Label).Msg("upload created")

	if wantsJSON(r) {
		writeJSON(w, s.uploadView(up))
		return
	}
	s.render(w, "admin_upload.html", s.uploadView(up))
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if s.deleteByRawToken(w, r.FormValue("token")) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	if s.deleteByRawToken(w, mux.Vars(r)["token"]) {
		writeJSON(w, map[string]any{"ok": true})
	}
}

func (s *Server) deleteByRawToken(w http.ResponseWriter, raw string) bool {
	tok, err := token.Parse(raw)
	if err != nil {
		http.Error(w, "invalid token", http.StatusBadRequest)
		return false
	}
	if err := s.store.Delete(tok); err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
		} else {
			http.Error(w, "delete failed", http.StatusInternalServerError)
		}
		return false
	}
	s.log.Info().Str("token", tok.String()).Msg("resource deleted")
	return true
}

func (s *Server) handleListResources(w http.ResponseWriter, _ *http.Request) {
	shares, err := s.store.Shares()
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	uploads, err := s.store.Uploads()
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	out := struct {
		Shares  []shareView  `json:"shares"`
		Uploads []uploadView `json:"uploads"`
	}{Shares: []shareView{}, Uploads: []uploadView{}}
	for _, sh := range shares {
		out.Shares = append(out.Shares, s.shareView(sh))
	}
	for _, up := range uploads {
		out.Uploads = append(out.Uploads, s.uploadView(up))
	}
	writeJSON(w, out)
}
