package apiserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kbats183/multi-stream-server/pkg/registry"
)

type streamRouter struct {
	r        chi.Router
	registry registry.Registry
	status   StatusProvider
	conns    ConnectionCounter
	logger   *logrus.Logger
}

func newStreamsRouter(router chi.Router, registry registry.Registry, status StatusProvider, conns ConnectionCounter, logger *logrus.Logger) *streamRouter {
	return &streamRouter{
		r:        router,
		registry: registry,
		status:   status,
		conns:    conns,
		logger:   logger,
	}
}

// Mount points contain slashes, so single-stream routes take ?mount=.
func (router *streamRouter) Routes() {
	router.r.Route("/api", func(r chi.Router) {
		r.Use(ContentTypeJson)
		r.Get("/streams", router.getStreams())
		r.Get("/streams/info", router.getStreamByMount())
		r.Get("/streams/status", router.getStreamStatusByMount())
		r.Get("/connections", router.getConnections())
	})
}

func (router *streamRouter) getStreams() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		descriptors := router.registry.GetStreams()
		streams := make([]*Stream, 0, len(descriptors))
		for _, d := range descriptors {
			streams = append(streams, streamFromRegistryObject(d, router.status))
		}
		router.encode(w, streams)
	}
}

func (router *streamRouter) getStreamByMount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := router.registry.Resolve(r.URL.Query().Get("mount"))
		if err != nil {
			router.handleErrors(w, err)
			return
		}
		router.encode(w, streamFromRegistryObject(d, router.status))
	}
}

func (router *streamRouter) getStreamStatusByMount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mount := r.URL.Query().Get("mount")
		if _, err := router.registry.Resolve(mount); err != nil {
			router.handleErrors(w, err)
			return
		}
		if router.status == nil {
			router.handleErrors(w, registry.StreamNotFound{MountPoint: mount})
			return
		}
		st, ok := router.status.GetStatus(mount)
		if !ok {
			router.handleErrors(w, registry.StreamNotFound{MountPoint: mount})
			return
		}
		router.encode(w, st)
	}
}

func (router *streamRouter) getConnections() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var total uint64
		if router.conns != nil {
			total = router.conns.Count()
		}
		router.encode(w, Connections{Total: total})
	}
}

func (router *streamRouter) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		router.handleErrors(w, err)
	}
}

// ErrorResponse represents json error structure
type ErrorResponse struct {
	Error string `json:"error"`
}

func JSONError(w http.ResponseWriter, error string, code int) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{error}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (router *streamRouter) handleErrors(w http.ResponseWriter, err error) {
	var notFound registry.StreamNotFound
	if errors.As(err, &notFound) {
		JSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	router.logger.WithError(err).Error("Request failed")
	JSONError(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
