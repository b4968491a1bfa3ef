package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbats183/multi-stream-server/pkg/metrics"
	"github.com/kbats183/multi-stream-server/pkg/registry"
	"github.com/kbats183/multi-stream-server/pkg/rtspserver"
)

type staticStatus map[string]*rtspserver.StreamStatus

func (s staticStatus) GetStatus(mount string) (*rtspserver.StreamStatus, bool) {
	st, ok := s[mount]
	return st, ok
}

type staticCount uint64

func (c staticCount) Count() uint64 { return uint64(c) }

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register("/cam1", "videotestsrc"))
	require.NoError(t, reg.Register("/cam2/hd", "v4l2src"))

	status := staticStatus{
		"/cam1": {MountPoint: "/cam1", Running: true, Viewers: 2, Starts: 1},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := metrics.New()
	m.IncConnections()
	return NewWebServer(":0", reg, status, staticCount(7), m, logger).Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetStreams(t *testing.T) {
	rec := get(t, newTestHandler(t), "/api/streams")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var streams []Stream
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&streams))
	require.Len(t, streams, 2)
	assert.Equal(t, "/cam1", streams[0].MountPoint)
	assert.True(t, streams[0].Shared)
	require.NotNil(t, streams[0].Status)
	assert.Equal(t, 2, streams[0].Status.Viewers)
	assert.Equal(t, "/cam2/hd", streams[1].MountPoint)
	assert.Nil(t, streams[1].Status)
}

func TestGetStreamInfo(t *testing.T) {
	rec := get(t, newTestHandler(t), "/api/streams/info?mount="+url.QueryEscape("/cam2/hd"))
	require.Equal(t, http.StatusOK, rec.Code)

	var s Stream
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Equal(t, "v4l2src", s.Pipeline)
}

func TestGetStreamStatus(t *testing.T) {
	h := newTestHandler(t)

	rec := get(t, h, "/api/streams/status?mount=/cam1")
	require.Equal(t, http.StatusOK, rec.Code)
	var st rtspserver.StreamStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.True(t, st.Running)

	rec = get(t, h, "/api/streams/status?mount=/cam2/hd")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownMountIsNotFound(t *testing.T) {
	rec := get(t, newTestHandler(t), "/api/streams/info?mount=/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body.Error, registry.StreamNotExist)
}

func TestGetConnections(t *testing.T) {
	rec := get(t, newTestHandler(t), "/api/connections")
	require.Equal(t, http.StatusOK, rec.Code)

	var c Connections
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.Equal(t, uint64(7), c.Total)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestHandler(t), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rtsp_connections_total 1")
}
