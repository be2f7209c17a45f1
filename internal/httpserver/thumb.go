package httpserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const thumbMaxEdge = 256

// handleShareThumb serves a small jpeg preview of an image inside a
// share. The file goes through the same authorization as a download;
// thumbnails never reveal files the share does not cover.
func (s *Server) handleShareThumb(w http.ResponseWriter, r *http.Request) {
	sh := s.shareFor(w, r)
	if sh == nil {
		return
	}
	ref := r.URL.Query().Get("file")
	abs, err := s.shares.Authorize(sh, ref)
	if err != nil {
		s.log.Warn().Err(err).Str("token", sh.Token.String()).Msg("thumb rejected")
		notFound(w)
		return
	}
	st, err := os.Stat(abs)
	if err != nil || st.IsDir() || !isImageExt(strings.ToLower(filepath.Ext(abs))) {
		notFound(w)
		return
	}

	cacheDir := thumbCacheDir(s.cfg)
	if err := ensureDir(cacheDir); err != nil {
		http.Error(w, "thumb failed", http.StatusInternalServerError)
		return
	}
	key := fmt.Sprintf("%s-%d.jpg", thumbKey(ref), st.ModTime().Unix())
	cached := filepath.Join(cacheDir, key)
	if b, err := os.ReadFile(cached); err == nil {
		serveThumb(w, b)
		return
	}

	b, err := renderThumb(abs, thumbMaxEdge)
	if err != nil {
		notFound(w)
		return
	}
	_ = os.WriteFile(cached, b, 0o644)
	serveThumb(w, b)
}

func serveThumb(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(b)
}

// thumbKey must be collision-free across refs: distinct files in a share
// may only differ by a separator, and a lossy key would serve one file's
// cached thumbnail for the other.
func thumbKey(rel string) string {
	sum := sha256.Sum256([]byte(rel))
	return hex.EncodeToString(sum[:])
}

// renderThumb decodes abs, scales it to fit max on its longest edge, and
// encodes a jpeg. Supports jpg/png/gif/webp input.
func renderThumb(abs string, max int) ([]byte, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}

	scale := 1.0
	if w >= h && w > max {
		scale = float64(max) / float64(w)
	} else if h > w && h > max {
		scale = float64(max) / float64(h)
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
