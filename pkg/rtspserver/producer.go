package rtspserver

import (
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/yapingcat/gomedia/go-codec"
)

var (
	ErrSourceTimeout      = errors.New("pipeline did not start publishing in time")
	ErrSourceStopped      = errors.New("pipeline stopped")
	ErrPublisherMismatch  = errors.New("publisher token does not match the running pipeline")
	ErrPublisherAttached  = errors.New("mount already has a publisher")
	ErrPublisherGone      = errors.New("publisher disconnected")
	ErrProducerTerminated = errors.New("producer terminated")
)

// sourceRun is one launch of the pipeline together with the stream it
// publishes. ready is closed once the stream records or the run fails.
type sourceRun struct {
	token     string
	process   *pipelineProcess
	publisher *gortsplib.ServerSession
	desc      *description.Session
	stream    *gortsplib.ServerStream
	recording bool

	ready   chan struct{}
	readyMu sync.Once
	err     error
}

func (r *sourceRun) signal(err error) {
	r.readyMu.Do(func() {
		r.err = err
		close(r.ready)
	})
}

// MediaProducer serves one mount point. All readers of the mount share one
// ServerStream fed by a single pipeline launch started on first demand.
type MediaProducer struct {
	name     string
	pipeline string
	server   *MediaServer
	logger   *logrus.Entry

	mtx        sync.Mutex
	run        *sourceRun
	readers    map[*gortsplib.ServerSession]struct{}
	closeTimer *time.Timer
	starts     uint64
	lastErr    error
	terminated bool
	teardowns  sync.WaitGroup

	statusMtx sync.Mutex
	status    streamStatus
}

type streamStatus struct {
	windowStart      time.Time
	windowBytes      int
	bitrate          uint
	lastFrameTime    time.Time
	lastKeyframeTime time.Time
}

func newMediaProducer(name, pipeline string, server *MediaServer) *MediaProducer {
	return &MediaProducer{
		name:     name,
		pipeline: pipeline,
		server:   server,
		logger:   server.logger.WithField("mount", name),
		readers:  make(map[*gortsplib.ServerSession]struct{}),
	}
}

// awaitStream returns the shared stream, launching the pipeline if nothing
// is running yet and waiting for it to publish.
func (prod *MediaProducer) awaitStream() (*gortsplib.ServerStream, error) {
	prod.mtx.Lock()
	if prod.terminated {
		prod.mtx.Unlock()
		return nil, ErrProducerTerminated
	}
	if prod.run == nil {
		if err := prod.start(); err != nil {
			prod.mtx.Unlock()
			return nil, err
		}
	}
	run := prod.run
	prod.cancelCloseTimer()
	prod.mtx.Unlock()

	timer := time.NewTimer(prod.server.config.StartTimeout)
	defer timer.Stop()

	select {
	case <-run.ready:
		if run.err != nil {
			return nil, run.err
		}
		// a DESCRIBE alone never becomes a reader; SETUP cancels this again
		prod.mtx.Lock()
		if prod.run == run && len(prod.readers) == 0 && prod.closeTimer == nil {
			prod.scheduleClose(run)
		}
		prod.mtx.Unlock()
		return run.stream, nil
	case <-timer.C:
		prod.mtx.Lock()
		if prod.run == run && !run.recording {
			prod.fail(run, ErrSourceTimeout)
		}
		prod.mtx.Unlock()
		return nil, ErrSourceTimeout
	}
}

// start launches the pipeline. Caller holds mtx.
func (prod *MediaProducer) start() error {
	run := &sourceRun{
		token: uuid.NewString(),
		ready: make(chan struct{}),
	}
	argv, err := buildCommand(prod.server.config.LaunchTemplate, prod.pipeline, prod.server.publishLocation(prod.name, run.token))
	if err != nil {
		prod.lastErr = err
		prod.server.observer.IncPipelineFailures(prod.name)
		return err
	}
	process, err := startPipeline(argv, prod.logger)
	if err != nil {
		prod.lastErr = err
		prod.server.observer.IncPipelineFailures(prod.name)
		prod.logger.WithError(err).Error("Failed to launch pipeline")
		return err
	}
	run.process = process
	prod.run = run
	prod.starts++
	prod.server.observer.IncPipelineStarts(prod.name)
	prod.logger.Info("Pipeline started")

	go prod.watch(run)
	return nil
}

func (prod *MediaProducer) watch(run *sourceRun) {
	<-run.process.Done()
	prod.mtx.Lock()
	defer prod.mtx.Unlock()
	if prod.run == run {
		prod.fail(run, run.process.Err())
	}
}

// fail tears down run after an unexpected error. Caller holds mtx.
func (prod *MediaProducer) fail(run *sourceRun, err error) {
	prod.logger.WithError(err).Warn("Pipeline failed")
	prod.lastErr = err
	prod.server.observer.IncPipelineFailures(prod.name)
	prod.teardown(run, err)
}

// teardown stops run and disconnects its readers. Caller holds mtx.
func (prod *MediaProducer) teardown(run *sourceRun, err error) {
	if prod.run != run {
		return
	}
	prod.run = nil
	prod.cancelCloseTimer()
	run.signal(err)

	readers := make([]*gortsplib.ServerSession, 0, len(prod.readers))
	for ss := range prod.readers {
		readers = append(readers, ss)
	}
	prod.readers = make(map[*gortsplib.ServerSession]struct{})
	prod.server.observer.SetViewers(prod.name, 0)

	prod.teardowns.Add(1)
	go func() {
		defer prod.teardowns.Done()
		for _, ss := range readers {
			ss.Close()
		}
		if run.publisher != nil {
			run.publisher.Close()
		}
		if run.stream != nil {
			run.stream.Close()
		}
		run.process.Stop()
	}()
}

func (prod *MediaProducer) hasToken(token string) bool {
	prod.mtx.Lock()
	defer prod.mtx.Unlock()
	return prod.run != nil && token != "" && prod.run.token == token
}

func (prod *MediaProducer) attachPublisher(ss *gortsplib.ServerSession, token string, desc *description.Session) error {
	prod.mtx.Lock()
	defer prod.mtx.Unlock()

	run := prod.run
	if run == nil || run.token != token {
		return ErrPublisherMismatch
	}
	if run.publisher != nil {
		return ErrPublisherAttached
	}
	run.publisher = ss
	run.desc = desc
	run.stream = gortsplib.NewServerStream(prod.server.rtspServer(), desc)
	return nil
}

// startRecording forwards the publisher's packets into the shared stream
// and wakes up waiting readers.
func (prod *MediaProducer) startRecording(ss *gortsplib.ServerSession) {
	prod.mtx.Lock()
	run := prod.run
	if run == nil || run.publisher != ss {
		prod.mtx.Unlock()
		return
	}
	run.recording = true
	stream := run.stream
	desc := run.desc
	prod.mtx.Unlock()

	for _, medi := range desc.Medias {
		for _, forma := range medi.Formats {
			prod.forward(ss, stream, medi, forma)
		}
	}

	prod.statusMtx.Lock()
	prod.status = streamStatus{windowStart: time.Now()}
	prod.statusMtx.Unlock()

	prod.logger.Info("Stream is live")
	run.signal(nil)
}

func (prod *MediaProducer) forward(ss *gortsplib.ServerSession, stream *gortsplib.ServerStream, medi *description.Media, forma format.Format) {
	var keyframe func(pkt *rtp.Packet) bool
	if h264, ok := forma.(*format.H264); ok {
		if dec, err := h264.CreateDecoder(); err == nil {
			keyframe = func(pkt *rtp.Packet) bool {
				au, err := dec.Decode(pkt)
				if err != nil {
					return false
				}
				return codec.IsH264IDRFrame(annexB(au))
			}
		}
	}

	ss.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		stream.WritePacketRTP(medi, pkt)
		prod.onPacket(len(pkt.Payload), keyframe != nil && keyframe(pkt))
	})
}

// onPacket accumulates one-second windows for the bitrate estimate.
func (prod *MediaProducer) onPacket(size int, isKeyframe bool) {
	now := time.Now()
	prod.statusMtx.Lock()
	defer prod.statusMtx.Unlock()

	st := &prod.status
	st.lastFrameTime = now
	if isKeyframe {
		st.lastKeyframeTime = now
	}
	st.windowBytes += size
	since := now.Sub(st.windowStart)
	if since >= time.Second {
		st.bitrate = uint(time.Duration(st.windowBytes) * time.Second / since / 128)
		st.windowBytes = 0
		st.windowStart = now
	}
}

func (prod *MediaProducer) publisherGone(ss *gortsplib.ServerSession) {
	prod.mtx.Lock()
	defer prod.mtx.Unlock()
	if run := prod.run; run != nil && run.publisher == ss {
		prod.fail(run, ErrPublisherGone)
	}
}

func (prod *MediaProducer) addReader(ss *gortsplib.ServerSession) {
	prod.mtx.Lock()
	defer prod.mtx.Unlock()
	if _, ok := prod.readers[ss]; ok {
		return
	}
	prod.readers[ss] = struct{}{}
	prod.cancelCloseTimer()
	prod.server.observer.SetViewers(prod.name, len(prod.readers))
	prod.logger.WithField("viewers", len(prod.readers)).Debug("Reader attached")
}

// removeReader detaches a reader; the last one leaving schedules the
// pipeline to stop after CloseAfter.
func (prod *MediaProducer) removeReader(ss *gortsplib.ServerSession) {
	prod.mtx.Lock()
	defer prod.mtx.Unlock()
	if _, ok := prod.readers[ss]; !ok {
		return
	}
	delete(prod.readers, ss)
	prod.server.observer.SetViewers(prod.name, len(prod.readers))
	prod.logger.WithField("viewers", len(prod.readers)).Debug("Reader detached")

	if len(prod.readers) == 0 && prod.run != nil {
		prod.scheduleClose(prod.run)
	}
}

// scheduleClose stops run after CloseAfter unless a reader attaches first.
// Caller holds mtx.
func (prod *MediaProducer) scheduleClose(run *sourceRun) {
	prod.cancelCloseTimer()
	prod.closeTimer = time.AfterFunc(prod.server.config.CloseAfter, func() {
		prod.mtx.Lock()
		defer prod.mtx.Unlock()
		if prod.run == run && len(prod.readers) == 0 {
			prod.logger.Info("No readers left, stopping pipeline")
			prod.teardown(run, ErrSourceStopped)
		}
	})
}

// cancelCloseTimer caller holds mtx.
func (prod *MediaProducer) cancelCloseTimer() {
	if prod.closeTimer != nil {
		prod.closeTimer.Stop()
		prod.closeTimer = nil
	}
}

// Close stops the mount for good and returns once its pipeline has exited.
func (prod *MediaProducer) Close() error {
	prod.mtx.Lock()
	prod.terminated = true
	if prod.run != nil {
		prod.teardown(prod.run, ErrProducerTerminated)
	}
	prod.mtx.Unlock()
	prod.teardowns.Wait()
	return nil
}

func (prod *MediaProducer) Status() *StreamStatus {
	prod.mtx.Lock()
	running := prod.run != nil
	viewers := len(prod.readers)
	starts := prod.starts
	lastErr := prod.lastErr
	prod.mtx.Unlock()

	prod.statusMtx.Lock()
	st := prod.status
	prod.statusMtx.Unlock()

	status := &StreamStatus{
		MountPoint: prod.name,
		Running:    running,
		Viewers:    viewers,
		Starts:     starts,
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if !st.lastFrameTime.IsZero() {
		status.IsLive = running && time.Since(st.lastFrameTime) < 3*time.Second
		status.LastFrameTime = st.lastFrameTime.Unix()
		status.Bitrate = st.bitrate
	}
	if !st.lastKeyframeTime.IsZero() {
		status.LastKeyframeTime = st.lastKeyframeTime.Unix()
	}
	return status
}

func annexB(au [][]byte) []byte {
	n := 0
	for _, nalu := range au {
		n += 4 + len(nalu)
	}
	buf := make([]byte, 0, n)
	for _, nalu := range au {
		buf = append(buf, 0, 0, 0, 1)
		buf = append(buf, nalu...)
	}
	return buf
}
