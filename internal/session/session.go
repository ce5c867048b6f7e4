// Package session implements the broker-side per-connection state machine:
// one reader goroutine and one writer goroutine sharing a bounded outbound
// queue, over the lifetime NEW -> REGISTERED -> RUNNING/DRAINING -> CLOSED.
package session

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outcatcher/gopsub/internal/metrics"
	"github.com/outcatcher/gopsub/internal/wire"
)

// Dispatcher is the broker-facing contract a session uses to act on parsed
// commands. The broker core implements this; the session never reaches
// into broker internals directly.
type Dispatcher interface {
	Subscribe(client, topic string)
	Unsubscribe(client, topic string)
	Publish(client, topic string, payload []byte) int
}

// Session owns one accepted TCP connection: its socket, its outbound
// bounded queue, and the reader/writer goroutine pair that drain it.
type Session struct {
	ID   string
	conn net.Conn

	logger     *zap.Logger
	dispatcher Dispatcher
	metrics    *metrics.Registry

	qMu      sync.Mutex // guards outbound send vs. close, see Enqueue/Close
	outbound chan []byte
	closing  atomic.Bool
	dropped  atomic.Int64

	drainTimeout time.Duration
	closeOnce    sync.Once
}

// New creates a session bound to conn. Call Run to start its goroutines;
// the session is REGISTERED by the caller (the broker) before Run.
func New(conn net.Conn, dispatcher Dispatcher, logger *zap.Logger, reg *metrics.Registry, queueSize int, drainTimeout time.Duration) *Session {
	if queueSize <= 0 {
		queueSize = 30
	}
	id := uuid.NewString()
	return &Session{
		ID:           id,
		conn:         conn,
		logger:       logger.With(zap.String("client_id", id)),
		dispatcher:   dispatcher,
		metrics:      reg,
		outbound:     make(chan []byte, queueSize),
		drainTimeout: drainTimeout,
	}
}

// Enqueue places an already wire-encoded frame onto the session's outbound
// queue. On overflow the frame is dropped (drop-newest): the caller is
// never blocked and the session's dropped-frame counter is incremented.
func (s *Session) Enqueue(frame []byte) {
	s.qMu.Lock()
	defer s.qMu.Unlock()

	if s.closing.Load() {
		return // SessionDead: silently dropped
	}
	select {
	case s.outbound <- frame:
	default:
		s.dropped.Add(1)
		if s.metrics != nil {
			s.metrics.Messages.FramesDropped.Inc()
		}
	}
}

// DroppedCount reports how many outbound frames this session has dropped.
func (s *Session) DroppedCount() int64 {
	return s.dropped.Load()
}

// Close signals the session to stop: RUNNING -> DRAINING. The reader
// aborts immediately (its blocking read is cancelled via a deadline); the
// writer keeps draining already-queued frames but its blocking writes are
// capped at drainTimeout, after which it aborts too. Close is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.qMu.Lock()
		s.closing.Store(true)
		close(s.outbound)
		s.qMu.Unlock()
		_ = s.conn.SetReadDeadline(time.Now())
		if s.drainTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.drainTimeout))
		}
	})
}

// Run drives the session to completion: it starts the writer, runs the
// reader loop inline, and blocks until both finish, then shuts down the
// socket (CLOSED) and invokes onClose so the broker can purge the
// subscription index and registry.
func (s *Session) Run(ctx context.Context, onClose func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panic recovered", zap.Any("panic", r))
		}
		s.Close()
		_ = s.conn.Close()
		onClose()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop(ctx)

	s.Close()
	<-writerDone
}

func (s *Session) writeLoop() {
	for frame := range s.outbound {
		if _, err := s.conn.Write(frame); err != nil {
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context) {
	reader := bufio.NewReader(s.conn)
	consecutiveFramingErrors := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		body, err := wire.Decode(reader)
		if err != nil {
			if s.closing.Load() {
				return // abort triggered by Close, not a real framing error
			}
			if s.metrics != nil {
				s.metrics.Messages.FramingErrors.Inc()
			}
			consecutiveFramingErrors++
			if errors.Is(err, wire.ErrNotAMessage) && consecutiveFramingErrors < 2 {
				continue // first occurrence: attempt to resynchronize
			}
			s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictErr, "?", "Invalid message")))
			return
		}
		consecutiveFramingErrors = 0

		s.dispatch(body)
	}
}

func (s *Session) dispatch(body []byte) {
	cmd, err := wire.ParseCommand(body)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Messages.CommandErrors.Inc()
		}
		s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictErr, "?", "")))
		return
	}

	switch cmd.Verb {
	case wire.VerbSubscribe:
		s.handleSubscribe(cmd.Topic)
	case wire.VerbUnsubscribe:
		s.handleUnsubscribe(cmd.Topic)
	case wire.VerbPublish:
		s.handlePublish(cmd.Topic, cmd.Payload)
	default:
		if s.metrics != nil {
			s.metrics.Messages.CommandErrors.Inc()
		}
		s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictErr, cmd.Verb, cmd.Topic)))
	}
}

func (s *Session) handleSubscribe(topic string) {
	if !wire.IsTopicValid(topic) {
		if s.metrics != nil {
			s.metrics.Messages.CommandErrors.Inc()
		}
		s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictErr, wire.VerbSubscribe, topic)))
		return
	}
	s.dispatcher.Subscribe(s.ID, topic)
	s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictOK, wire.VerbSubscribe, topic)))
}

func (s *Session) handleUnsubscribe(topic string) {
	if !wire.IsTopicValid(topic) {
		if s.metrics != nil {
			s.metrics.Messages.CommandErrors.Inc()
		}
		s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictErr, wire.VerbUnsubscribe, topic)))
		return
	}
	s.dispatcher.Unsubscribe(s.ID, topic)
	s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictOK, wire.VerbUnsubscribe, topic)))
}

func (s *Session) handlePublish(topic string, payload []byte) {
	if !wire.IsTopicValid(topic) {
		if s.metrics != nil {
			s.metrics.Messages.CommandErrors.Inc()
		}
		s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictErr, wire.VerbPublish, topic)))
		return
	}
	s.dispatcher.Publish(s.ID, topic, payload)
	s.Enqueue(mustFrame(wire.FormatVerdict(wire.VerdictOK, wire.VerbPublish, topic)))
}

// mustFrame encodes a verdict/data body into a wire frame. Verdict and data
// bodies built by this package are always well-formed and well within
// MaxPacketSize, so an encode failure here indicates a programming error.
func mustFrame(body []byte) []byte {
	frame, err := wire.Encode(body)
	if err != nil {
		panic("session: failed to encode internally-built frame: " + err.Error())
	}
	return frame
}
