package tracker

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	TimestampLayout = "2006-01-02 15:04:05"
	UnknownAddress  = "unknown"
)

// ConnectionEvent is emitted once per established client connection.
type ConnectionEvent struct {
	Sequence   uint64    `json:"sequence"`
	Time       time.Time `json:"time"`
	RemoteAddr string    `json:"remote_addr"`
}

func (e ConnectionEvent) Timestamp() string {
	return e.Time.Local().Format(TimestampLayout)
}

type Listener func(ConnectionEvent)

// Tracker owns the process-wide connection counter. The counter only moves
// forward through OnConnect.
type Tracker struct {
	mu        sync.Mutex
	count     uint64
	out       io.Writer
	logger    *logrus.Logger
	now       func() time.Time
	listeners []Listener
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithListener adds a callback run inside the critical section, after the
// record is written. Listeners must not call back into the tracker.
func WithListener(l Listener) Option {
	return func(t *Tracker) { t.listeners = append(t.listeners, l) }
}

func New(out io.Writer, opts ...Option) *Tracker {
	t := &Tracker{
		out: out,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnConnect records a new connection. Increment, timestamp and output happen
// under one lock so concurrent callers get distinct, gapless sequence
// numbers and their records never interleave.
func (t *Tracker) OnConnect(remoteAddr string) ConnectionEvent {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		remoteAddr = UnknownAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	ev := ConnectionEvent{
		Sequence:   t.count,
		Time:       t.now(),
		RemoteAddr: remoteAddr,
	}

	if t.out != nil {
		_, _ = io.WriteString(t.out, Format(ev))
	}
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{
			"seq":    ev.Sequence,
			"remote": ev.RemoteAddr,
		}).Debug("Client connected")
	}
	for _, l := range t.listeners {
		l(ev)
	}
	return ev
}

func (t *Tracker) Count() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func Format(ev ConnectionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] NEW CONNECTION #%d\n", ev.Timestamp(), ev.Sequence)
	fmt.Fprintf(&b, "  Client IP: %s\n", ev.RemoteAddr)
	b.WriteString("  Connection established\n")
	b.WriteString("----------------------------------------\n")
	return b.String()
}
