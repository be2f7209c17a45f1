// Package httpserver provides the two HTTP surfaces: an operator-facing
// admin app that mints and deletes grants, and a public user app that
// serves shares and receives uploads. All authorization decisions are
// delegated to the token/resource/grant packages; handlers only map their
// outcomes onto HTTP.
package httpserver

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sammhicks/file-sharer/internal/config"
	"github.com/sammhicks/file-sharer/internal/grant"
	"github.com/sammhicks/file-sharer/internal/resource"
	"github.com/sammhicks/file-sharer/internal/token"
)

//go:embed web/*.html
var embeddedWeb embed.FS

type Options struct {
	Config config.Config
	Log    *zerolog.Logger
	Store  *resource.Store
}

type Server struct {
	cfg     config.Config
	log     *zerolog.Logger
	store   *resource.Store
	shares  grant.ShareAuthorizer
	uploads grant.UploadAuthorizer
	tpl     *template.Template
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("httpserver: store is required")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("httpserver: logger is required")
	}
	tpl, err := template.ParseFS(embeddedWeb, "web/*.html")
	if err != nil {
		return nil, fmt.Errorf("httpserver: parse templates: %w", err)
	}
	return &Server{
		cfg:     opts.Config,
		log:     opts.Log,
		store:   opts.Store,
		shares:  grant.ShareAuthorizer{FilesRoot: opts.Store.FilesRoot()},
		uploads: grant.UploadAuthorizer{UploadDir: opts.Store.UploadDir},
		tpl:     tpl,
	}, nil
}

func (s *Server) shareURL(tok token.Token) string {
	return strings.TrimSuffix(s.cfg.ExternalURL, "/") + "/share/" + tok.String()
}

func (s *Server) uploadURL(tok token.Token) string {
	return strings.TrimSuffix(s.cfg.ExternalURL, "/") + "/upload/" + tok.String()
}

// notFound is the uniform public answer for unknown tokens, files outside
// a grant, and escape attempts alike, so probing cannot tell them apart.
// The internal reason is logged before calling this.
func notFound(w http.ResponseWriter) {
	http.Error(w, "no such file", http.StatusNotFound)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error().Err(err).Str("template", name).Msg("render failed")
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	default:
		return ""
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func thumbCacheDir(cfg config.Config) string {
	return filepath.Join(cfg.StateDir, "thumbs")
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
