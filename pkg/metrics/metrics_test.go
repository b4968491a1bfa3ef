package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.IncConnections()
	m.IncConnections()
	m.SetRegisteredStreams(2)
	m.IncPipelineStarts("/cam1")
	m.IncPipelineFailures("/cam1")
	m.SetViewers("/cam1", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "rtsp_connections_total 2")
	assert.Contains(t, text, "rtsp_registered_streams 2")
	assert.Contains(t, text, `rtsp_pipeline_starts_total{mount="/cam1"} 1`)
	assert.Contains(t, text, `rtsp_pipeline_failures_total{mount="/cam1"} 1`)
	assert.Contains(t, text, `rtsp_active_viewers{mount="/cam1"} 3`)
}
