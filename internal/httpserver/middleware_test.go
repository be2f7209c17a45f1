package httpserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger_RecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := requestLogger(&log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	logged := buf.String()
	assert.Contains(t, logged, `"status":418`)
	assert.Contains(t, logged, `"path":"/pot"`)
	assert.Contains(t, logged, `"level":"warn"`)
}

func TestRequestLogger_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	h := requestLogger(&log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "request panic")
}
