package rtspserver

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tcpTransport = gortsplib.TransportTCP

// testPublisher plays the part of the launched pipeline: once the mount has
// a run, it records to the run's publish location.
type testPublisher struct {
	client *gortsplib.Client
	media  *description.Media
	ready  chan struct{}
	err    error
}

func publishOnLaunch(s *MediaServer, mount string) *testPublisher {
	p := &testPublisher{ready: make(chan struct{})}
	go func() {
		defer close(p.ready)

		prod := s.mounts.get(mount)
		deadline := time.Now().Add(5 * time.Second)
		token := ""
		for token == "" {
			if time.Now().After(deadline) {
				p.err = fmt.Errorf("%s was never launched", mount)
				return
			}
			prod.mtx.Lock()
			if prod.run != nil {
				token = prod.run.token
			}
			prod.mtx.Unlock()
			time.Sleep(10 * time.Millisecond)
		}

		p.media = &description.Media{
			Type:    description.MediaTypeVideo,
			Formats: []format.Format{&format.H264{PayloadTyp: 96, PacketizationMode: 1}},
		}
		p.client = &gortsplib.Client{Transport: &tcpTransport}
		p.err = p.client.StartRecording(s.publishLocation(mount, token),
			&description.Session{Medias: []*description.Media{p.media}})
	}()
	return p
}

func (p *testPublisher) wait(t *testing.T) {
	t.Helper()
	select {
	case <-p.ready:
	case <-time.After(10 * time.Second):
		t.Fatal("publisher did not start")
	}
	require.NoError(t, p.err)
}

func (p *testPublisher) write(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    96,
				SequenceNumber: uint16(i),
				Timestamp:      uint32(i * 3000),
				SSRC:           0x1234,
			},
			Payload: []byte{0x01, 0x02, 0x03, 0x04},
		}
		require.NoError(t, p.client.WritePacketRTP(p.media, pkt))
		time.Sleep(time.Millisecond)
	}
}

func (p *testPublisher) close() {
	if p.client != nil {
		p.client.Close()
	}
}

func startReader(t *testing.T, address string, received *int64) *gortsplib.Client {
	t.Helper()
	u, err := base.ParseURL(address)
	require.NoError(t, err)

	c := &gortsplib.Client{Transport: &tcpTransport}
	require.NoError(t, c.Start(u.Scheme, u.Host))

	desc, _, err := c.Describe(u)
	require.NoError(t, err)
	require.NoError(t, c.SetupAll(desc.BaseURL, desc.Medias))

	c.OnPacketRTPAny(func(_ *description.Media, _ format.Format, _ *rtp.Packet) {
		atomic.AddInt64(received, 1)
	})
	_, err = c.Play(nil)
	require.NoError(t, err)
	return c
}

func runTestServer(t *testing.T, s *MediaServer) (port int, conns *int64) {
	t.Helper()
	conns = new(int64)
	s.OnConnectionEstablished(func(string) { atomic.AddInt64(conns, 1) })

	port = freePort(t)
	require.NoError(t, s.Attach(port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return port, conns
}

func TestSharedStream_ReadersShareOneLaunch(t *testing.T) {
	s, obs := newTestServer(t, MediaServerConfig{
		LaunchTemplate: "sleep {pipeline}",
		StartTimeout:   5 * time.Second,
		CloseAfter:     200 * time.Millisecond,
	})
	mountShared(t, s, "/cam", "30")
	port, conns := runTestServer(t, s)
	address := fmt.Sprintf("rtsp://127.0.0.1:%d/cam", port)

	pub := publishOnLaunch(s, "/cam")
	defer pub.close()

	var got1, got2 int64
	r1 := startReader(t, address, &got1)
	pub.wait(t)
	r2 := startReader(t, address, &got2)

	st, _ := s.GetStatus("/cam")
	require.Equal(t, 2, st.Viewers)
	assert.True(t, st.Running)

	pub.write(t, 50)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&got1) == 50 && atomic.LoadInt64(&got2) == 50
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, obs.get(obs.starts, "/cam"))
	assert.Equal(t, int64(2), atomic.LoadInt64(conns), "the pipeline publisher is not a client")

	st, _ = s.GetStatus("/cam")
	assert.True(t, st.IsLive)
	assert.NotZero(t, st.LastFrameTime)

	r1.Close()
	r2.Close()
	assert.Eventually(t, func() bool {
		st, _ := s.GetStatus("/cam")
		return !st.Running && st.Viewers == 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, obs.get(obs.failures, "/cam"))
}

func TestSharedStream_DescribeOnlyClientDoesNotKeepPipeline(t *testing.T) {
	s, obs := newTestServer(t, MediaServerConfig{
		LaunchTemplate: "sleep {pipeline}",
		StartTimeout:   5 * time.Second,
		CloseAfter:     200 * time.Millisecond,
	})
	mountShared(t, s, "/cam", "30")
	port, conns := runTestServer(t, s)

	pub := publishOnLaunch(s, "/cam")
	defer pub.close()

	u, err := base.ParseURL(fmt.Sprintf("rtsp://127.0.0.1:%d/cam", port))
	require.NoError(t, err)
	c := &gortsplib.Client{Transport: &tcpTransport}
	require.NoError(t, c.Start(u.Scheme, u.Host))
	_, _, err = c.Describe(u)
	require.NoError(t, err)
	c.Close()
	pub.wait(t)

	assert.Eventually(t, func() bool {
		st, _ := s.GetStatus("/cam")
		return !st.Running
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, obs.get(obs.starts, "/cam"))
	assert.Equal(t, int64(1), atomic.LoadInt64(conns))
}
