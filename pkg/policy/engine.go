// Package policy evaluates the configured filters against observed
// registry globals and client requests.
package policy

import (
	"log/slog"

	"github.com/PeterCxy/wl-mitm/pkg/config"
	"github.com/PeterCxy/wl-mitm/pkg/proto"
)

// Action is the outcome of screening a request.
type Action int

const (
	Pass Action = iota
	Block
	Ask
	Notify
)

func (a Action) String() string {
	switch a {
	case Block:
		return "block"
	case Ask:
		return "ask"
	case Notify:
		return "notify"
	default:
		return "pass"
	}
}

// BlockType selects how a blocked request is disposed of.
type BlockType int

const (
	// BlockIgnore drops the message silently. If the message carries a
	// new-id the client desynchronises; that is the user's call.
	BlockIgnore BlockType = iota
	// BlockReject answers with a synthesised wl_display.error and
	// terminates the session.
	BlockReject
)

// Decision is the verdict for one screened request.
type Decision struct {
	Action    Action
	BlockType BlockType
	ErrorCode uint32
	Desc      string
}

// Engine holds the immutable policy for all sessions.
type Engine struct {
	allowedGlobals map[string]bool
	allowAll       bool
	filters        map[string]map[string]*config.RequestFilter
	dryRun         bool
	logger         *slog.Logger
}

// NewEngine compiles the filter configuration. Filters naming
// interfaces or requests absent from the schema stay active for exact
// string matches but are flagged, since they usually indicate a
// protocol XML the user forgot to ship.
func NewEngine(cfg *config.FilterConfig, sch *proto.Schema, logger *slog.Logger) *Engine {
	e := &Engine{
		allowAll: !cfg.HasAllowedGlobals,
		dryRun:   cfg.DryRun,
		filters:  make(map[string]map[string]*config.RequestFilter),
		logger:   logger,
	}

	e.allowedGlobals = make(map[string]bool, len(cfg.AllowedGlobals))
	for _, g := range cfg.AllowedGlobals {
		e.allowedGlobals[g] = true
	}

	for i := range cfg.Requests {
		f := &cfg.Requests[i]
		iface := sch.Interface(f.Interface)
		if iface == nil {
			logger.Warn("filter names interface absent from protocol set",
				"interface", f.Interface)
		}
		byName := e.filters[f.Interface]
		if byName == nil {
			byName = make(map[string]*config.RequestFilter)
			e.filters[f.Interface] = byName
		}
		for _, req := range f.Requests {
			if iface != nil {
				if _, ok := iface.RequestByName(req); !ok {
					logger.Warn("filter names unknown request",
						"interface", f.Interface, "request", req)
				}
			}
			byName[req] = f
		}
	}
	return e
}

// ScreenGlobal decides whether a wl_registry.global advertisement may
// reach the client.
func (e *Engine) ScreenGlobal(iface string) bool {
	if e.allowAll || e.allowedGlobals[iface] {
		return true
	}
	if e.dryRun {
		e.logger.Warn("dry run: would hide global", "interface", iface)
		return true
	}
	return false
}

// ScreenBind decides whether a wl_registry.bind for iface is
// acceptable. Binding an interface that was never advertised to the
// client is a protocol violation; false terminates the session.
func (e *Engine) ScreenBind(iface string) bool {
	if e.allowAll || e.allowedGlobals[iface] {
		return true
	}
	if e.dryRun {
		e.logger.Warn("dry run: would refuse bind", "interface", iface)
		return true
	}
	return false
}

// ScreenRequest evaluates the filter list for one client request.
func (e *Engine) ScreenRequest(iface, request string) Decision {
	byName := e.filters[iface]
	if byName == nil {
		return Decision{Action: Pass}
	}
	f := byName[request]
	if f == nil {
		return Decision{Action: Pass}
	}

	d := Decision{
		Action:    actionOf(f.Action),
		BlockType: blockTypeOf(f.BlockType),
		ErrorCode: f.ErrorCode,
		Desc:      f.Desc,
	}

	if e.dryRun && d.Action != Notify {
		e.logger.Warn("dry run: would filter request",
			"interface", iface, "request", request,
			"action", d.Action.String(), "desc", d.Desc)
		return Decision{Action: Pass}
	}
	return d
}

// DryRun reports whether the policy is in dry-run mode.
func (e *Engine) DryRun() bool {
	return e.dryRun
}

func actionOf(s string) Action {
	switch s {
	case config.ActionAsk:
		return Ask
	case config.ActionNotify:
		return Notify
	default:
		return Block
	}
}

func blockTypeOf(s string) BlockType {
	if s == config.BlockReject {
		return BlockReject
	}
	return BlockIgnore
}
