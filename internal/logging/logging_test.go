package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBuffer(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	config := DefaultConfig()
	config.Level = level
	config.Output = &buf
	require.NoError(t, Setup(config))
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := map[LogLevel]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetupRejectsBadFormat(t *testing.T) {
	config := DefaultConfig()
	config.Format = "xml"
	assert.Error(t, Setup(config))
}

func TestSetupGlobalFields(t *testing.T) {
	buf := setupBuffer(t, LevelInfo)

	logger := Component("tracker")
	logger.Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "idled", entry["service"])
	assert.Equal(t, "tracker", entry["component"])
	assert.Equal(t, "hello", entry["message"])
}

func TestHTTPMiddleware(t *testing.T) {
	buf := setupBuffer(t, LevelInfo)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware())
	r.Get("/seats/{seat}", func(w http.ResponseWriter, r *http.Request) {
		logger := FromContext(r.Context())
		logger.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/seats/seat0", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inside, completed map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.NoError(t, json.Unmarshal(lines[1], &completed))
	assert.Equal(t, "/seats/seat0", inside["path"])
	assert.Equal(t, "warn", completed["level"])
	assert.Equal(t, float64(http.StatusTeapot), completed["status"])
	assert.Equal(t, "/seats/{seat}", completed["route"])

	// Health checks stay quiet at info level
	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String())
}

func TestResponseWriterHijack(t *testing.T) {
	var _ http.Hijacker = &responseWriter{}

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
	assert.False(t, rw.hijacked)
}
