package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kbats183/multi-stream-server/pkg/metrics"
	"github.com/kbats183/multi-stream-server/pkg/registry"
)

type webServer struct {
	registry registry.Registry
	router   *chi.Mux
	server   *http.Server
	logger   *logrus.Logger
}

func NewWebServer(addr string, registry registry.Registry, status StatusProvider, conns ConnectionCounter, met *metrics.Metrics, logger *logrus.Logger) *webServer {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(loggerMiddleware(logger))
	router.Use(middleware.Recoverer)

	streamRouter := newStreamsRouter(router, registry, status, conns, logger)
	streamRouter.Routes()
	if met != nil {
		router.Method(http.MethodGet, "/metrics", met.Handler())
	}
	router.Mount("/debug", middleware.Profiler())

	return &webServer{
		registry: registry,
		router:   router,
		server:   &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second},
		logger:   logger,
	}
}

func (a *webServer) Handler() http.Handler {
	return a.router
}

func (a *webServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := a.Stop(); err != nil {
			a.logger.WithError(err).Error("Error stopping web server")
		}
	}()

	a.logger.Infof("Starting web server on %s", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *webServer) Stop() error {
	a.logger.Info("Stopping web server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}
