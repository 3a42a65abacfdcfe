// Package proxy accepts Wayland clients, connects each to the real
// compositor and forwards messages in both directions under policy.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/PeterCxy/wl-mitm/pkg/config"
	"github.com/PeterCxy/wl-mitm/pkg/helper"
	"github.com/PeterCxy/wl-mitm/pkg/objects"
	"github.com/PeterCxy/wl-mitm/pkg/policy"
	"github.com/PeterCxy/wl-mitm/pkg/proto"
	"github.com/PeterCxy/wl-mitm/pkg/wire"
)

// Session is one proxied client connection: the downstream (client)
// endpoint, the upstream (compositor) endpoint, and all per-connection
// protocol state. Each direction runs in its own goroutine; shared
// state is guarded by mu, which is never held across socket I/O or a
// helper wait, so an ask stalls only its own direction.
type Session struct {
	id     string
	cfg    *config.Config
	schema *proto.Schema
	policy *policy.Engine
	broker *helper.Broker
	logger *slog.Logger

	client   *wire.Conn
	upstream *wire.Conn

	mu           sync.Mutex
	objects      *objects.Map
	registry     *objects.Registry
	toplevel     objects.ToplevelContext
	warnedOpaque map[string]bool

	closeOnce sync.Once
}

func newSession(id string, cfg *config.Config, schema *proto.Schema, pol *policy.Engine, broker *helper.Broker, logger *slog.Logger, client, upstream *wire.Conn) *Session {
	return &Session{
		id:           id,
		cfg:          cfg,
		schema:       schema,
		policy:       pol,
		broker:       broker,
		logger:       logger.With("session", id),
		client:       client,
		upstream:     upstream,
		objects:      objects.NewMap(),
		registry:     objects.NewRegistry(),
		warnedOpaque: make(map[string]bool),
	}
}

// run drives both directions until either endpoint ends or a protocol
// or policy error terminates the session.
func (s *Session) run(ctx context.Context) {
	s.logger.Info("session started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.finish(s.forward(ctx, wire.ClientToServer, s.client, s.upstream))
	}()
	go func() {
		defer wg.Done()
		s.finish(s.forward(ctx, wire.ServerToClient, s.upstream, s.client))
	}()
	wg.Wait()

	s.close()
	s.logger.Info("session ended")
}

// finish classifies a direction's exit and tears the session down.
func (s *Session) finish(err error) {
	switch {
	case err == nil:
		s.logger.Debug("stream disconnected")
	case errors.Is(err, ErrPolicyReject):
		s.logger.Info("session closed by policy reject")
	case errors.Is(err, ErrProtocolViolation):
		s.logger.Warn("protocol violation", "error", err)
	default:
		// EPIPE, ECONNRESET and friends: the peer went away.
		s.logger.Debug("session i/o error", "error", err)
	}
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.client.Close()
		s.upstream.Close()
	})
}

// forward pumps one direction: read, frame, dispatch.
func (s *Session) forward(ctx context.Context, dir wire.Direction, src, dst *wire.Conn) error {
	dec := wire.NewDecoder()
	defer dec.DrainFds()

	for {
		for {
			raw, err := dec.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return wrapViolation(err)
			}
			if raw == nil {
				break
			}
			if err := s.dispatch(ctx, dir, raw, dec, dst); err != nil {
				return err
			}
		}
		if err := src.ReadInto(dec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
