package rtspserver

import (
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/sirupsen/logrus"

	"github.com/kbats183/multi-stream-server/pkg/engine"
)

type MediaServer struct {
	config   MediaServerConfig
	logger   *logrus.Logger
	observer PipelineObserver

	mounts  *mountPoints
	handler *serverHandler
	server  *gortsplib.Server

	onConnect engine.ConnectionHandler
	mu        sync.RWMutex
	stopOnce  sync.Once
}

type MediaServerConfig struct {
	Port           int
	LaunchTemplate string
	StartTimeout   time.Duration
	CloseAfter     time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	EnableUDP      bool
	UDPRTPAddress  string
	UDPRTCPAddress string
}

// PipelineObserver receives per-mount lifecycle counts, e.g. for metrics.
type PipelineObserver interface {
	IncPipelineStarts(mount string)
	IncPipelineFailures(mount string)
	SetViewers(mount string, n int)
}

type nopObserver struct{}

func (nopObserver) IncPipelineStarts(string)   {}
func (nopObserver) IncPipelineFailures(string) {}
func (nopObserver) SetViewers(string, int)     {}

// MediaFactory carries a pipeline description until it is mounted.
type MediaFactory struct {
	pipeline string
	shared   bool
}

func (f *MediaFactory) Pipeline() string {
	return f.pipeline
}

func (f *MediaFactory) SetShared(shared bool) {
	f.shared = shared
}

func (f *MediaFactory) Shared() bool {
	return f.shared
}

type StreamStatus struct {
	MountPoint       string `json:"mount_point"`
	IsLive           bool   `json:"is_live"`
	Running          bool   `json:"running"`
	Viewers          int    `json:"viewers"`
	Bitrate          uint   `json:"bitrate"`
	LastFrameTime    int64  `json:"last_frame_time"`
	LastKeyframeTime int64  `json:"last_keyframe_time"`
	Starts           uint64 `json:"starts"`
	LastError        string `json:"last_error,omitempty"`
}
