package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMeterProvider(t *testing.T) {
	t.Parallel()

	t.Run("disabled_returns_noop_and_no_handler", func(t *testing.T) {
		t.Parallel()
		provider, handler, err := NewMeterProvider(context.Background())
		require.NoError(t, err)
		require.NotNil(t, provider)
		assert.Nil(t, handler)
	})

	t.Run("enabled_serves_scrape_endpoint", func(t *testing.T) {
		t.Parallel()
		provider, handler, err := NewMeterProvider(context.Background(),
			WithMetricsEnabled(true),
			WithMeterServiceName("memkit-test"),
			WithMeterServiceVersion("1.2.3"),
		)
		require.NoError(t, err)
		require.NotNil(t, provider)
		require.NotNil(t, handler)

		// Record something so the scrape has content.
		metrics, err := NewCollectionMetrics(provider)
		require.NoError(t, err)
		metrics.RecordWorkers(4)

		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "memkit_gc_workers")
	})
}
