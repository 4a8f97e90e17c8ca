package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trackcast/pkg/log"
)

// Conn is the client side of a session. SendBinary returns once the transport has accepted the whole
// message. Done is closed when the client goes away. Close must be idempotent.
type Conn interface {
	SendBinary(ctx context.Context, data []byte) error
	Done() <-chan struct{}
	Close() error
}

type State int32

const (
	StateAccepting State = iota
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reason is why a session left the streaming state.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNormal
	ReasonClientGone
	ReasonError
	// ReasonCanceled means the server canceled the session, e.g. on shutdown.
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "normal"
	case ReasonClientGone:
		return "client_gone"
	case ReasonError:
		return "error"
	case ReasonCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// Status is the terminal outcome of a session.
type Status struct {
	SessionID string
	Origin    string
	Reason    Reason
	Err       error
	Delivered uint64
	Dropped   uint64
	// LastSeq is meaningful only when Delivered > 0.
	LastSeq   uint64
	StartedAt time.Time
	EndedAt   time.Time
}

// Kind names the error taxonomy entry of the status, or the reason when the session ended cleanly.
func (s Status) Kind() string {
	if s.Err != nil {
		return ErrorKind(s.Err)
	}
	return s.Reason.String()
}

// Streamer owns what sessions share: how sources are opened, the detector pool and the stateless
// annotation/encoding stages.
type Streamer struct {
	opener    SourceOpener
	pool      DetectorPool
	params    Params
	annotator FrameAnnotator
	encoder   FrameEncoder
	observers []Observer
	logger    *logrus.Entry
}

type StreamerOptions struct {
	Opener    SourceOpener
	Pool      DetectorPool
	Params    Params
	Annotator FrameAnnotator
	Encoder   FrameEncoder
	Observers []Observer
}

func NewStreamer(opts StreamerOptions) (*Streamer, error) {
	if opts.Pool == nil {
		return nil, errors.New("detector pool is nil")
	}
	if opts.Annotator == nil || opts.Encoder == nil {
		return nil, errors.New("annotator and encoder are required")
	}
	if opts.Opener == nil {
		opts.Opener = SourceOpenerFunc(OpenVideo)
	}
	return &Streamer{
		opener:    opts.Opener,
		pool:      opts.Pool,
		params:    opts.Params,
		annotator: opts.Annotator,
		encoder:   opts.Encoder,
		observers: opts.Observers,
		logger:    log.NewLogger().WithField("component", "streamer"),
	}, nil
}

// RunSession streams origin to conn until the source ends, the client leaves, an error occurs or ctx
// is canceled. It always releases the source and the connection before returning.
func (s *Streamer) RunSession(ctx context.Context, origin string, conn Conn) Status {
	return s.NewSession(origin, conn).Run(ctx)
}

func (s *Streamer) NewSession(origin string, conn Conn) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		origin:    origin,
		conn:      conn,
		streamer:  s,
		startedAt: time.Now(),
		logger:    s.logger.WithFields(logrus.Fields{"session": id, "origin": origin}),
	}
}

// Session binds one pipeline to one client connection.
type Session struct {
	id       string
	origin   string
	conn     Conn
	streamer *Streamer
	logger   *logrus.Entry

	state     atomic.Int32
	delivered atomic.Uint64
	startedAt time.Time

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	source          FrameSource
	releaseDetector func()
	releaseOnce     sync.Once
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Origin() string {
	return s.origin
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

func (s *Session) Delivered() uint64 {
	return s.delivered.Load()
}

// Run drives the session from Streaming to Closed. It must be called at most once.
func (s *Session) Run(ctx context.Context) (status Status) {
	ctx, cancel := context.WithCancel(log.WithSessionId(ctx, s.id))
	defer cancel()

	s.mu.Lock()
	if s.State() != StateAccepting {
		s.mu.Unlock()
		return Status{SessionID: s.id, Origin: s.origin, Reason: ReasonCanceled, Err: context.Canceled}
	}
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	status = Status{SessionID: s.id, Origin: s.origin}
	defer func() {
		s.release()
		status.EndedAt = time.Now()
		s.logger.WithField("reason", status.Reason).Infof("session closed, kind: %s, delivered: %d, dropped: %d",
			status.Kind(), status.Delivered, status.Dropped)
	}()
	status.StartedAt = s.startedAt

	// client close is observed at the next checkpoint through ctx
	go func() {
		select {
		case <-s.conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	source, err := s.streamer.opener.Open(s.origin)
	if err != nil {
		if !errors.Is(err, ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		status.Reason, status.Err = ReasonError, err
		s.logger.WithError(err).Errorf("open source failed")
		s.state.Store(int32(StateClosing))
		return status
	}
	s.mu.Lock()
	s.source = source
	s.mu.Unlock()

	detector, releaseDetector, err := s.streamer.pool.Acquire(ctx)
	if err != nil {
		status.Reason, status.Err = s.classify(err)
		s.logger.WithError(err).Errorf("acquire detector failed")
		s.state.Store(int32(StateClosing))
		return status
	}
	s.mu.Lock()
	s.releaseDetector = releaseDetector
	s.mu.Unlock()

	pipeline := NewPipeline(PipelineConfig{
		SessionID: s.id,
		Origin:    s.origin,
		Params:    s.streamer.params,
		Observers: s.streamer.observers,
	}, source, detector, s.streamer.annotator, s.streamer.encoder, s.logger)

	s.state.Store(int32(StateStreaming))
	s.logger.Info("session streaming")

	status.Reason = ReasonNormal
	for frame, err := range pipeline.Frames(ctx) {
		if err != nil {
			status.Reason, status.Err = s.classify(err)
			break
		}
		if err := s.conn.SendBinary(ctx, frame.Data); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				status.Reason, status.Err = s.classify(ctxErr)
			} else {
				status.Reason, status.Err = ReasonClientGone, fmt.Errorf("%w: frame %d: %v", ErrTransmitFailure, frame.Seq, err)
			}
			break
		}
		status.LastSeq = frame.Seq
		status.Delivered = s.delivered.Add(1)

		if s.clientGone() {
			status.Reason = ReasonClientGone
			break
		}
	}
	s.state.Store(int32(StateClosing))
	status.Dropped = pipeline.Dropped()
	if status.Err != nil && status.Reason == ReasonError {
		s.logger.WithError(status.Err).Errorf("session failed")
	}
	return status
}

func (s *Session) classify(err error) (Reason, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if s.clientGone() {
			return ReasonClientGone, nil
		}
		return ReasonCanceled, nil
	}
	return ReasonError, err
}

func (s *Session) clientGone() bool {
	select {
	case <-s.conn.Done():
		return true
	default:
		return false
	}
}

// Close terminates the session. A running session stops at its next checkpoint and releases its
// resources on the way out; otherwise resources are released here. Calling Close again has no effect.
func (s *Session) Close() {
	s.mu.Lock()
	running, cancel := s.running, s.cancel
	if !running {
		// a later Run must not start streaming
		s.state.CompareAndSwap(int32(StateAccepting), int32(StateClosing))
	}
	s.mu.Unlock()

	if running {
		cancel()
		return
	}
	s.release()
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.state.Store(int32(StateClosing))

		s.mu.Lock()
		source, releaseDetector := s.source, s.releaseDetector
		s.mu.Unlock()

		if source != nil {
			if err := source.Close(); err != nil {
				s.logger.WithError(err).Warn("close source failed")
			}
		}
		if releaseDetector != nil {
			releaseDetector()
		}
		if err := s.conn.Close(); err != nil {
			s.logger.WithError(err).Debug("close connection failed")
		}
		s.state.Store(int32(StateClosed))
	})
}
