package streamserver

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kbats183/multi-stream-server/pkg/config"
	"github.com/kbats183/multi-stream-server/pkg/engine"
	"github.com/kbats183/multi-stream-server/pkg/registry"
	"github.com/kbats183/multi-stream-server/pkg/tracker"
)

// Server wires the mount-point registry and the connection tracker into a
// streaming engine and runs it.
type Server struct {
	engine   engine.Engine
	registry registry.Registry
	tracker  *tracker.Tracker
	logger   *logrus.Logger
	out      io.Writer
}

func New(eng engine.Engine, reg registry.Registry, tr *tracker.Tracker, logger *logrus.Logger, out io.Writer) *Server {
	if out == nil {
		out = io.Discard
	}
	return &Server{
		engine:   eng,
		registry: reg,
		tracker:  tr,
		logger:   logger,
		out:      out,
	}
}

// Start mounts every registered stream, attaches to cfg.Port and blocks in
// the engine loop until ctx is done. Attach failures come back as
// engine.BindError.
func (s *Server) Start(ctx context.Context, cfg config.ServerConfig) error {
	if err := s.mount(); err != nil {
		return err
	}

	s.engine.OnConnectionEstablished(func(remoteAddr string) {
		s.tracker.OnConnect(remoteAddr)
	})

	if err := s.engine.Attach(cfg.Port); err != nil {
		var bindErr engine.BindError
		if !errors.As(err, &bindErr) {
			err = engine.BindError{Port: cfg.Port, Err: err}
		}
		return err
	}

	fmt.Fprintf(s.out, "\nRTSP server is listening on rtsp://0.0.0.0:%d/\n", cfg.Port)
	fmt.Fprintln(s.out, "Connection monitoring enabled - will show client connections")
	fmt.Fprint(s.out, "Press Ctrl+C to stop the server\n\n")
	s.logger.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"streams": s.registry.Len(),
	}).Info("Server started")

	return s.engine.Run(ctx)
}

// mount binds one factory per distinct mount point, resolving each
// descriptor exactly once.
func (s *Server) mount() error {
	for _, d := range s.registry.GetStreams() {
		desc, err := s.registry.Resolve(d.MountPoint)
		if err != nil {
			return err
		}
		factory := s.engine.NewFactory(desc.Pipeline)
		factory.SetShared(desc.Shared)
		if err := s.engine.Mount(desc.MountPoint, factory); err != nil {
			return errors.Wrapf(err, "mount %s", desc.MountPoint)
		}
		fmt.Fprintf(s.out, "Added stream: %s\n", desc.MountPoint)
		s.logger.WithField("mount", desc.MountPoint).Debug("Stream mounted")
	}
	return nil
}
