package proxy

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"github.com/PeterCxy/wl-mitm/pkg/config"
	"github.com/PeterCxy/wl-mitm/pkg/helper"
	"github.com/PeterCxy/wl-mitm/pkg/policy"
	"github.com/PeterCxy/wl-mitm/pkg/proto"
	"github.com/PeterCxy/wl-mitm/pkg/wire"
)

// Listener owns the proxy socket. Each accepted client becomes a
// Session with its own upstream connection.
type Listener struct {
	cfg    *config.Config
	schema *proto.Schema
	policy *policy.Engine
	broker *helper.Broker
	logger *slog.Logger

	ln           *net.UnixListener
	path         string
	upstreamPath string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewListener binds the configured socket with a restrictive mode. A
// stale socket left by a previous run is removed first.
func NewListener(cfg *config.Config, schema *proto.Schema, pol *policy.Engine, broker *helper.Broker, logger *slog.Logger) (*Listener, error) {
	path := cfg.Socket.ListenPath()
	upstream := cfg.Socket.UpstreamPath()
	if path == upstream {
		return nil, config.ErrSameSocket
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, errx.With(ErrBind, ": cannot unlink stale socket %s: %v", path, err)
		}
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, errx.Wrap(ErrBind, err)
	}
	if err := os.Chmod(path, 0o700); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, errx.Wrap(ErrBind, err)
	}

	return &Listener{
		cfg:          cfg,
		schema:       schema,
		policy:       pol,
		broker:       broker,
		logger:       logger,
		ln:           ln,
		path:         path,
		upstreamPath: upstream,
	}, nil
}

// Path returns the bound socket path.
func (l *Listener) Path() string {
	return l.path
}

// Serve accepts clients until the context is cancelled or the listener
// is closed. A failed upstream connect closes only that client.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	l.logger.Info("listening", "socket", l.path, "upstream", l.upstreamPath)

	for {
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed || ctx.Err() != nil {
				return nil
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}

		id := uuid.NewString()[:8]
		l.logger.Info("accepted new client", "session", id)

		up, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: l.upstreamPath, Net: "unix"})
		if err != nil {
			l.logger.Warn("cannot connect upstream, dropping client",
				"session", id, "upstream", l.upstreamPath, "error", err)
			conn.Close()
			continue
		}

		sess := newSession(id, l.cfg, l.schema, l.policy, l.broker, l.logger,
			wire.NewConn(conn), wire.NewConn(up))
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			sess.run(ctx)
		}()
	}
}

// Close shuts the listener down, unlinks the socket and waits for all
// sessions to finish.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.ln.Close()
	os.Remove(l.path)
	l.wg.Wait()
	return nil
}
