package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupRejectsSamplingRatio(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.SamplingRatio = 2
	_, err := Setup(context.Background(), config)
	assert.Error(t, err)
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "idled.test")
	defer span.End()

	assert.Equal(t, span, SpanFromContext(ctx))
	assert.False(t, span.SpanContext().IsSampled())
	AddSpanAttributes(ctx, SeatKey.String("seat0"))
	AddSpanEvent(ctx, "noop")
	MarkSpanError(ctx, errors.New("boom"))
}

func TestStartSpanTagsLogger(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background())

	ctx, span := StartSpan(ctx, "idled.create_notification")
	AddSpanAttributes(ctx, SessionKey.String("s1"), SeatKey.String("seat0"))
	zerolog.Ctx(ctx).Info().Msg("handled")
	MarkSpanError(ctx, errors.New("unknown seat"))
	span.End()

	assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())
	assert.Contains(t, buf.String(), `"span_id"`)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "idled.create_notification", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), SeatKey.String("seat0"))
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestHTTPMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware(ServiceName))
	r.Get("/seats/{seat}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, SpanFromContext(r.Context()))
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/seats/seat0", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResponseWriterIsHijacker(t *testing.T) {
	var _ http.Hijacker = &responseWriter{}
	var _ http.Flusher = &responseWriter{}
}
