package rtspserver

import (
	"net"
	"net/url"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/sirupsen/logrus"
)

const publisherQueryKey = "publisher"

type sessionRole int

const (
	roleReader sessionRole = iota
	rolePublisher
)

type sessionEntry struct {
	producer *MediaProducer
	role     sessionRole
}

// serverHandler implements the gortsplib server callbacks.
type serverHandler struct {
	s      *MediaServer
	logger *logrus.Logger

	mu       sync.Mutex
	pending  map[*gortsplib.ServerConn]string
	sessions map[*gortsplib.ServerSession]sessionEntry
}

func newServerHandler(s *MediaServer) *serverHandler {
	return &serverHandler{
		s:        s,
		logger:   s.logger,
		pending:  make(map[*gortsplib.ServerConn]string),
		sessions: make(map[*gortsplib.ServerSession]sessionEntry),
	}
}

// OnConnOpen reports remote clients right away. Loopback connections may be
// our own pipelines publishing back, so they are held until their first
// request shows whether they carry a publisher token.
func (h *serverHandler) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	addr := remoteHost(ctx.Conn.NetConn().RemoteAddr())
	if !isLoopback(addr) {
		h.s.notifyConnection(addr)
		return
	}
	h.mu.Lock()
	h.pending[ctx.Conn] = addr
	h.mu.Unlock()
}

func (h *serverHandler) OnRequest(conn *gortsplib.ServerConn, req *base.Request) {
	h.mu.Lock()
	addr, ok := h.pending[conn]
	delete(h.pending, conn)
	h.mu.Unlock()
	if !ok {
		return
	}
	if token := requestToken(req); token != "" && h.s.isPublisherToken(token) {
		h.logger.WithField("remote", addr).Debug("Pipeline publisher connected")
		return
	}
	h.s.notifyConnection(addr)
}

func (h *serverHandler) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	h.mu.Lock()
	delete(h.pending, ctx.Conn)
	h.mu.Unlock()
	if ctx.Error != nil {
		h.logger.WithError(ctx.Error).Debug("Connection closed")
	}
}

func (h *serverHandler) OnSessionOpen(ctx *gortsplib.ServerHandlerOnSessionOpenCtx) {
}

func (h *serverHandler) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	h.mu.Lock()
	entry, ok := h.sessions[ctx.Session]
	delete(h.sessions, ctx.Session)
	h.mu.Unlock()
	if !ok {
		return
	}
	switch entry.role {
	case rolePublisher:
		entry.producer.publisherGone(ctx.Session)
	case roleReader:
		entry.producer.removeReader(ctx.Session)
	}
}

func (h *serverHandler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	prod := h.s.mounts.match(ctx.Path)
	if prod == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}

	stream, err := prod.awaitStream()
	if err != nil {
		prod.logger.WithError(err).Warn("Stream unavailable")
		return &base.Response{StatusCode: base.StatusServiceUnavailable}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

func (h *serverHandler) OnAnnounce(ctx *gortsplib.ServerHandlerOnAnnounceCtx) (*base.Response, error) {
	prod := h.s.mounts.match(ctx.Path)
	if prod == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil
	}

	token := queryToken(ctx.Query)
	if err := prod.attachPublisher(ctx.Session, token, ctx.Description); err != nil {
		prod.logger.WithError(err).Warn("Publish refused")
		return &base.Response{StatusCode: base.StatusForbidden}, nil
	}

	h.mu.Lock()
	h.sessions[ctx.Session] = sessionEntry{producer: prod, role: rolePublisher}
	h.mu.Unlock()
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (h *serverHandler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	h.mu.Lock()
	entry, known := h.sessions[ctx.Session]
	h.mu.Unlock()
	if known && entry.role == rolePublisher {
		return &base.Response{StatusCode: base.StatusOK}, nil, nil
	}

	prod := h.s.mounts.match(ctx.Path)
	if prod == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}

	stream, err := prod.awaitStream()
	if err != nil {
		prod.logger.WithError(err).Warn("Stream unavailable")
		return &base.Response{StatusCode: base.StatusServiceUnavailable}, nil, nil
	}

	if !known {
		h.mu.Lock()
		h.sessions[ctx.Session] = sessionEntry{producer: prod, role: roleReader}
		h.mu.Unlock()
		prod.addReader(ctx.Session)
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

func (h *serverHandler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (h *serverHandler) OnRecord(ctx *gortsplib.ServerHandlerOnRecordCtx) (*base.Response, error) {
	h.mu.Lock()
	entry, ok := h.sessions[ctx.Session]
	h.mu.Unlock()
	if !ok || entry.role != rolePublisher {
		return &base.Response{StatusCode: base.StatusBadRequest}, nil
	}
	entry.producer.startRecording(ctx.Session)
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func requestToken(req *base.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return queryToken(req.URL.RawQuery)
}

func queryToken(rawQuery string) string {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}
	return values.Get(publisherQueryKey)
}

// remoteHost strips the port, mirroring what RTSP servers report as the client IP.
func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
