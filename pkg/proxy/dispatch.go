package proxy

import (
	"context"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"github.com/PeterCxy/wl-mitm/pkg/helper"
	"github.com/PeterCxy/wl-mitm/pkg/policy"
	"github.com/PeterCxy/wl-mitm/pkg/wire"
)

// rejectText is the human-readable message carried by a synthesised
// wl_display.error.
const rejectText = "blocked by policy"

// dispatch applies the per-message state machine: parse, update the
// object map and registry shadow, screen against policy, then forward,
// drop or reject. The session lock covers parsing and state mutation
// but is released before any write or helper wait.
func (s *Session) dispatch(ctx context.Context, dir wire.Direction, raw *wire.RawMessage, dec *wire.Decoder, dst *wire.Conn) error {
	s.mu.Lock()

	msg, err := wire.Parse(s.schema, s.lookupObject, dir, raw, dec)
	if err != nil {
		s.mu.Unlock()
		return wrapViolation(err)
	}

	if msg.Opaque {
		if !s.warnedOpaque[msg.InterfaceName] {
			s.warnedOpaque[msg.InterfaceName] = true
			s.logger.Warn("forwarding opaque message on unknown interface; fds cannot be tracked",
				"interface", msg.InterfaceName, "opcode", raw.Opcode)
		}
		s.logMessage(dir, msg)
		s.mu.Unlock()
		return dst.WriteRaw(raw)
	}

	// Registry and display bookkeeping while locked.
	switch {
	case dir == wire.ServerToClient && msg.Is("wl_registry", "global"):
		name, iface, version := msg.Args[0].Uint, msg.Args[1].Str, msg.Args[2].Uint
		allowed := s.policy.ScreenGlobal(iface)
		s.registry.Record(name, iface, version, !allowed)
		if !allowed {
			s.logger.Info("hiding global", "interface", iface, "name", name)
			s.mu.Unlock()
			return nil
		}

	case dir == wire.ServerToClient && msg.Is("wl_registry", "global_remove"):
		g, known := s.registry.Remove(msg.Args[0].Uint)
		if known && g.Hidden {
			s.mu.Unlock()
			return nil
		}

	case dir == wire.ServerToClient && msg.Is("wl_display", "delete_id"):
		s.objects.Unregister(msg.Args[0].Uint)

	case dir == wire.ClientToServer && msg.Is("wl_registry", "bind"):
		if err := s.screenBind(msg); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	// Constructors register before the message moves on, so a
	// follow-up message targeting the new id parses cleanly.
	if id, iface, version, ok := msg.NewObject(); ok {
		if err := s.objects.Register(id, iface, version); err != nil {
			s.mu.Unlock()
			return wrapViolation(err)
		}
	}
	if msg.Desc.Destructor {
		s.objects.Unregister(raw.ObjectID)
	}

	switch {
	case msg.Is("xdg_toplevel", "set_title"):
		s.toplevel.SetTitle(msg.Args[0].Str)
	case msg.Is("xdg_toplevel", "set_app_id"):
		s.toplevel.SetAppID(msg.Args[0].Str)
	}

	var decision policy.Decision
	var inv helper.Invocation
	if dir == wire.ClientToServer {
		decision = s.policy.ScreenRequest(msg.InterfaceName, msg.Desc.Name)
		if decision.Action == policy.Ask || decision.Action == policy.Notify {
			inv = s.invocation(msg, decision)
		}
	}

	s.logMessage(dir, msg)
	s.mu.Unlock()

	switch decision.Action {
	case policy.Block:
		return s.applyBlock(msg, decision)

	case policy.Ask:
		if s.broker.Ask(ctx, inv) {
			return dst.WriteRaw(raw)
		}
		return s.applyBlock(msg, decision)

	case policy.Notify:
		if err := dst.WriteRaw(raw); err != nil {
			return err
		}
		s.broker.Notify(inv)
		return nil

	default:
		return dst.WriteRaw(raw)
	}
}

// applyBlock disposes of a request the policy refused to forward. Any
// fds the message carried are closed so they cannot leak.
func (s *Session) applyBlock(msg *wire.Message, d policy.Decision) error {
	msg.Raw.CloseFds()

	if d.BlockType == policy.BlockReject {
		s.logger.Info("rejecting request",
			"message", msg.Name(), "code", d.ErrorCode, "desc", d.Desc)
		errEvent := wire.SynthesizeDisplayError(msg.Raw.ObjectID, d.ErrorCode, rejectText)
		if err := s.client.WriteRaw(errEvent); err != nil {
			return err
		}
		return ErrPolicyReject
	}

	s.logger.Info("dropping request", "message", msg.Name(), "desc", d.Desc)
	return nil
}

// screenBind validates a wl_registry.bind against the registry shadow
// and the allowed-globals policy. Called with the session lock held.
func (s *Session) screenBind(msg *wire.Message) error {
	name := msg.Args[0].Uint
	inline := msg.Args[1].NewInterface

	g, known := s.registry.Lookup(name)
	if !known {
		return errx.With(ErrProtocolViolation, ": bind of unknown global %d", name)
	}
	if g.Interface != inline {
		return errx.With(ErrProtocolViolation, ": bind of global %d claims %s, advertised %s",
			name, inline, g.Interface)
	}
	if !s.policy.ScreenBind(inline) {
		return errx.With(ErrProtocolViolation, ": bind of hidden global %s", inline)
	}
	return nil
}

// lookupObject adapts the object map to the codec. Called with the
// session lock held (Parse runs under it).
func (s *Session) lookupObject(id uint32) (string, uint32, bool) {
	o, ok := s.objects.Lookup(id)
	return o.Interface, o.Version, ok
}

// invocation snapshots what a helper process gets to see. Called with
// the session lock held.
func (s *Session) invocation(msg *wire.Message, d policy.Decision) helper.Invocation {
	return helper.Invocation{
		Interface:        msg.InterfaceName,
		Request:          msg.Desc.Name,
		Desc:             d.Desc,
		MsgJSON:          msg.ArgsJSON(),
		ToplevelTitle:    s.toplevel.Title,
		HasToplevelTitle: s.toplevel.HasTitle,
		ToplevelAppID:    s.toplevel.AppID,
		HasToplevelAppID: s.toplevel.HasAppID,
	}
}

func (s *Session) logMessage(dir wire.Direction, msg *wire.Message) {
	if dir == wire.ClientToServer && !s.cfg.Logging.LogAllRequests {
		return
	}
	if dir == wire.ServerToClient && !s.cfg.Logging.LogAllEvents {
		return
	}
	s.logger.Info(dir.Kind(),
		"direction", dir.String(),
		"message", msg.Name(),
		"object", msg.Raw.ObjectID,
		"opcode", msg.Raw.Opcode,
		"size", msg.Raw.Size,
		"fds", len(msg.Raw.Fds))
}
