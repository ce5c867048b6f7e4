// Package transport binds the broker's TCP port, accepts connections, and
// orchestrates graceful shutdown of the accept loop and every live session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/outcatcher/gopsub/internal/broker"
	"github.com/outcatcher/gopsub/internal/config"
	"github.com/outcatcher/gopsub/internal/metrics"
	"github.com/outcatcher/gopsub/internal/session"
)

// ErrAlreadyStarted is returned by Start on a Listener that has already
// bound a port; a Listener is single-use.
var ErrAlreadyStarted = errors.New("transport: listener already started")

// Listener binds a TCP port, accepts connections, and creates a session per
// connection. A Listener instance is single-use: once Stop returns, a new
// one must be constructed.
type Listener struct {
	cfg     config.ServerConfig
	brokerQ brokerConfig
	logger  *zap.Logger
	broker  *broker.Broker
	metrics *metrics.Registry

	ln net.Listener

	mu       sync.Mutex
	sessions map[string]*session.Session

	group  *errgroup.Group
	cancel context.CancelFunc
}

type brokerConfig struct {
	QueueMaxSize int
}

// New creates a Listener bound to broker core b.
func New(cfg config.Config, logger *zap.Logger, b *broker.Broker, reg *metrics.Registry) *Listener {
	return &Listener{
		cfg:      cfg.Server,
		brokerQ:  brokerConfig{QueueMaxSize: cfg.Broker.QueueMaxSize},
		logger:   logger,
		broker:   b,
		metrics:  reg,
		sessions: make(map[string]*session.Session),
	}
}

// Port reports the TCP port actually bound, once Start has returned
// successfully.
func (l *Listener) Port() int {
	if l.ln == nil {
		return 0
	}
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Start binds a port in [BasePort, BasePort+PortScan] and begins accepting
// connections. It returns once the port is bound; the accept loop runs in
// the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.ln != nil {
		return ErrAlreadyStarted
	}

	ln, err := bindFirstFree(l.cfg.Host, l.cfg.BasePort, l.cfg.PortScan)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	l.ln = ln

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	group, groupCtx := errgroup.WithContext(runCtx)
	l.group = group

	l.logger.Info("broker listening", zap.String("addr", ln.Addr().String()))

	group.Go(func() error {
		l.acceptLoop(groupCtx)
		return nil
	})

	return nil
}

// Stop stops accepting new connections, signals every live session to
// close, and waits (bounded by DrainTimeout plus two seconds) for them to
// reach CLOSED.
func (l *Listener) Stop() {
	if l.ln == nil {
		return
	}

	_ = l.ln.Close()
	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	sessions := make([]*session.Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		_ = l.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(l.drainTimeout() + 2*time.Second):
		l.logger.Warn("shutdown deadline exceeded, exiting anyway")
	}
}

func (l *Listener) drainTimeout() time.Duration {
	if l.cfg.DrainTimeout > 0 {
		return l.cfg.DrainTimeout
	}
	return 2 * time.Second
}

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return // Stop was called; not an error
			}
			if l.metrics != nil {
				l.metrics.Messages.AcceptErrors.Inc()
			}
			l.logger.Error("accept error", zap.Error(err))
			return
		}

		l.group.Go(func() error {
			l.handleConnection(ctx, conn)
			return nil
		})
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	s := session.New(conn, l.broker, l.logger, l.metrics, l.brokerQ.QueueMaxSize, l.drainTimeout())

	l.mu.Lock()
	l.sessions[s.ID] = s
	l.mu.Unlock()

	l.broker.Register(s.ID, s)
	l.logger.Debug("session registered", zap.String("client_id", s.ID))

	s.Run(ctx, func() {
		l.broker.Drop(s.ID)
		l.mu.Lock()
		delete(l.sessions, s.ID)
		l.mu.Unlock()
		l.logger.Debug("session closed", zap.String("client_id", s.ID))
	})
}

func bindFirstFree(host string, basePort, scanRange int) (net.Listener, error) {
	var lastErr error
	for port := basePort; port <= basePort+scanRange; port++ {
		addr := fmt.Sprintf("%s:%d", host, port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free port in [%d, %d]: %w", basePort, basePort+scanRange, lastErr)
}
