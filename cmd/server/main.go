package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kbats183/multi-stream-server/pkg/apiserver"
	"github.com/kbats183/multi-stream-server/pkg/config"
	"github.com/kbats183/multi-stream-server/pkg/engine"
	"github.com/kbats183/multi-stream-server/pkg/metrics"
	"github.com/kbats183/multi-stream-server/pkg/registry"
	"github.com/kbats183/multi-stream-server/pkg/rtspserver"
	"github.com/kbats183/multi-stream-server/pkg/streamserver"
	"github.com/kbats183/multi-stream-server/pkg/tracker"
)

const exitFailure = -1

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	envErr := config.LoadEnv()
	settings := config.LoadSettings()

	logger, closeLog, err := setupLogger(settings)
	defer closeLog()
	if err != nil {
		logger.WithError(err).Warn("Failed to open log file, logging to stderr only")
	}
	if envErr != nil {
		logger.WithError(envErr).Warn("Failed to load .env")
	}

	args, err := config.Parse(argv[1:])
	if err != nil {
		fmt.Fprint(os.Stderr, config.Usage(filepath.Base(argv[0])))
		logger.WithError(err).Debug("Invalid arguments")
		return exitFailure
	}

	streamRegistry, err := registry.Build(args.Streams)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid stream configuration: %v\n", err)
		return exitFailure
	}

	met := metrics.New()
	met.SetRegisteredStreams(streamRegistry.Len())
	connections := tracker.New(os.Stdout,
		tracker.WithLogger(logger),
		tracker.WithListener(func(tracker.ConnectionEvent) { met.IncConnections() }),
	)

	rtsp := rtspserver.NewMediaServer(rtspserver.MediaServerConfig{
		Port:           args.Server.Port,
		LaunchTemplate: settings.LaunchTemplate,
		StartTimeout:   settings.StartTimeout,
		CloseAfter:     settings.CloseAfter,
		ReadTimeout:    settings.ReadTimeout,
		WriteTimeout:   settings.WriteTimeout,
		EnableUDP:      settings.EnableUDP,
	}, logger, met)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.APIAddr != "" {
		web := apiserver.NewWebServer(settings.APIAddr, streamRegistry, rtsp, connections, met, logger)
		go func() {
			if err := web.Start(ctx); err != nil {
				logger.WithError(err).Error("Web server failed")
			}
		}()
	}

	srv := streamserver.New(rtsp, streamRegistry, connections, logger, os.Stdout)
	if err := srv.Start(ctx, args.Server); err != nil {
		var bindErr engine.BindError
		if errors.As(err, &bindErr) {
			fmt.Fprintf(os.Stderr, "Failed to attach the server: %v\n", bindErr.Err)
		} else {
			fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		}
		return exitFailure
	}

	logger.Info("Server stopped")
	return 0
}
