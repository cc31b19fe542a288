package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasure_CountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, unmatched, "418"))

	h := Measure(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/some/raw/path", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, unmatched, "418")))
	assert.Zero(t, testutil.ToFloat64(InFlight))
}

func TestMeasure_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Measure)
	r.Get("/target/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	ok := RequestsTotal.WithLabelValues(http.MethodGet, "/target/{id}", "200")
	missing := RequestsTotal.WithLabelValues(http.MethodGet, unmatched, "404")
	beforeOK, beforeMissing := testutil.ToFloat64(ok), testutil.ToFloat64(missing)

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/target/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, beforeOK+3, testutil.ToFloat64(ok))
	assert.Equal(t, beforeMissing+1, testutil.ToFloat64(missing))
}

func TestAccessLog(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	var ctxLogged bool
	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		ctxLogged = true
		w.WriteHeader(http.StatusNotFound)
	}))

	t.Run("generates an id", func(t *testing.T) {
		buf.Reset()
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/target/9", nil))

		id := w.Header().Get(RequestIDHeader)
		require.Len(t, id, 36)
		assert.True(t, ctxLogged)
		assert.Contains(t, buf.String(), `"request_id":"`+id+`"`)
		assert.Contains(t, buf.String(), `"status":404`)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), `"route":"unmatched"`)
	})

	t.Run("keeps the client id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
		assert.Contains(t, buf.String(), `"request_id":"abc-123"`)
	})
}
