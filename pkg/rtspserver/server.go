package rtspserver

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kbats183/multi-stream-server/pkg/engine"
)

const defaultLaunchTemplate = "gst-launch-1.0 -q {pipeline} ! rtspclientsink location={location}"

var ErrNotAttached = errors.New("server is not attached")

func prepareConfig(config MediaServerConfig) MediaServerConfig {
	if config.Port == 0 {
		config.Port = 8554
	}
	if config.LaunchTemplate == "" {
		config.LaunchTemplate = defaultLaunchTemplate
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = 10 * time.Second
	}
	if config.CloseAfter <= 0 {
		config.CloseAfter = 10 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.UDPRTPAddress == "" {
		config.UDPRTPAddress = ":8000"
	}
	if config.UDPRTCPAddress == "" {
		config.UDPRTCPAddress = ":8001"
	}
	return config
}

func NewMediaServer(config MediaServerConfig, logger *logrus.Logger, observer PipelineObserver) *MediaServer {
	if observer == nil {
		observer = nopObserver{}
	}
	s := &MediaServer{
		config:   prepareConfig(config),
		logger:   logger,
		observer: observer,
		mounts:   newMountPoints(),
	}
	s.handler = newServerHandler(s)
	return s
}

var _ engine.Engine = (*MediaServer)(nil)

func (s *MediaServer) NewFactory(pipeline string) engine.Factory {
	return &MediaFactory{pipeline: pipeline}
}

func (s *MediaServer) Mount(path string, factory engine.Factory) error {
	f, ok := factory.(*MediaFactory)
	if !ok {
		return fmt.Errorf("unsupported factory type %T", factory)
	}
	if !f.Shared() {
		return fmt.Errorf("mount %s: only shared media factories are supported", path)
	}
	if !s.mounts.add(path, newMediaProducer(path, f.Pipeline(), s)) {
		return fmt.Errorf("mount %s already exists", path)
	}
	return nil
}

func (s *MediaServer) OnConnectionEstablished(handler engine.ConnectionHandler) {
	s.mu.Lock()
	s.onConnect = handler
	s.mu.Unlock()
}

func (s *MediaServer) notifyConnection(remoteAddr string) {
	s.mu.RLock()
	handler := s.onConnect
	s.mu.RUnlock()
	if handler != nil {
		handler(remoteAddr)
	}
}

func (s *MediaServer) isPublisherToken(token string) bool {
	for _, prod := range s.mounts.all() {
		if prod.hasToken(token) {
			return true
		}
	}
	return false
}

// publishLocation is where a pipeline launched for mount publishes back.
func (s *MediaServer) publishLocation(mount, token string) string {
	u := url.URL{
		Scheme:   "rtsp",
		Host:     "127.0.0.1:" + strconv.Itoa(s.config.Port),
		Path:     mount,
		RawQuery: url.Values{publisherQueryKey: []string{token}}.Encode(),
	}
	return u.String()
}

func (s *MediaServer) Attach(port int) error {
	if port != 0 {
		s.config.Port = port
	}
	server := &gortsplib.Server{
		Handler:      s.handler,
		RTSPAddress:  ":" + strconv.Itoa(s.config.Port),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	if s.config.EnableUDP {
		server.UDPRTPAddress = s.config.UDPRTPAddress
		server.UDPRTCPAddress = s.config.UDPRTCPAddress
	}
	// handler callbacks read s.server as soon as the listener accepts
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	if err := server.Start(); err != nil {
		s.mu.Lock()
		s.server = nil
		s.mu.Unlock()
		return engine.BindError{Port: s.config.Port, Err: errors.Wrap(err, "rtsp listener")}
	}
	s.logger.WithField("port", s.config.Port).Debug("RTSP listener attached")
	return nil
}

func (s *MediaServer) rtspServer() *gortsplib.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server
}

func (s *MediaServer) Run(ctx context.Context) error {
	server := s.rtspServer()
	if server == nil {
		return ErrNotAttached
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	err := server.Wait()
	if ctx.Err() != nil {
		// wait for the pipelines to be killed before returning
		s.Stop()
		return nil
	}
	return errors.Wrap(err, "rtsp server")
}

// Stop closes every mount, waiting for its pipeline process to exit, then
// the listener. Concurrent callers return once the first call completes.
func (s *MediaServer) Stop() {
	s.stopOnce.Do(func() {
		for _, prod := range s.mounts.all() {
			_ = prod.Close()
		}
		if server := s.rtspServer(); server != nil {
			server.Close()
		}
	})
}

func (s *MediaServer) GetStatus(mount string) (*StreamStatus, bool) {
	prod := s.mounts.get(mount)
	if prod == nil {
		return nil, false
	}
	return prod.Status(), true
}

func (s *MediaServer) GetStatuses() []*StreamStatus {
	producers := s.mounts.all()
	statuses := make([]*StreamStatus, 0, len(producers))
	for _, prod := range producers {
		statuses = append(statuses, prod.Status())
	}
	return statuses
}
