// Package helper spawns the configured ask and notify commands. Ask
// runs synchronously and its exit status becomes the policy verdict;
// notify is fire-and-forget.
package helper

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"github.com/PeterCxy/wl-mitm/pkg/config"
)

// DefaultAskTimeout bounds how long an ask helper may deliberate. A
// timeout counts as a deny.
const DefaultAskTimeout = 60 * time.Second

// Environment variables exported to helper invocations. The message
// JSON is always set; the toplevel hints only when known.
const (
	EnvMsgJSON       = "WL_MITM_MSG_JSON"
	EnvToplevelTitle = "WL_MITM_LAST_TOPLEVEL_TITLE"
	EnvToplevelAppID = "WL_MITM_LAST_TOPLEVEL_APP_ID"
)

// Invocation carries the helper argument contract: argv gets the
// interface, request and filter description; the argument list rides
// in the environment as JSON, together with the toplevel hints when
// known.
type Invocation struct {
	Interface string
	Request   string
	Desc      string
	MsgJSON   string

	ToplevelTitle    string
	HasToplevelTitle bool
	ToplevelAppID    string
	HasToplevelAppID bool
}

// Broker launches helper processes for all sessions.
type Broker struct {
	askArgv    []string
	notifyArgv []string
	askTimeout time.Duration
	logger     *slog.Logger
}

// NewBroker splits the configured command strings. An unset command
// leaves the corresponding capability disabled.
func NewBroker(cfg *config.ExecConfig, logger *slog.Logger) (*Broker, error) {
	b := &Broker{askTimeout: DefaultAskTimeout, logger: logger}
	if cfg.AskTimeoutSeconds > 0 {
		b.askTimeout = time.Duration(cfg.AskTimeoutSeconds) * time.Second
	}

	var err error
	if cfg.AskCmd != "" {
		b.askArgv, err = shellquote.Split(cfg.AskCmd)
		if err != nil {
			return nil, errx.With(ErrBadAskCmd, " %q: %v", cfg.AskCmd, err)
		}
	}
	if cfg.NotifyCmd != "" {
		b.notifyArgv, err = shellquote.Split(cfg.NotifyCmd)
		if err != nil {
			return nil, errx.With(ErrBadNotifyCmd, " %q: %v", cfg.NotifyCmd, err)
		}
	}
	return b, nil
}

// CanAsk reports whether an ask command is configured.
func (b *Broker) CanAsk() bool {
	return len(b.askArgv) > 0
}

// Ask runs the ask helper and waits for its verdict: exit status 0
// allows the request, anything else — including timeout, exec failure
// and context cancellation — denies it.
func (b *Broker) Ask(ctx context.Context, inv Invocation) bool {
	if len(b.askArgv) == 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, b.askTimeout)
	defer cancel()

	cmd := b.command(ctx, b.askArgv, inv)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			b.logger.Warn("ask helper timed out, denying",
				"interface", inv.Interface, "request", inv.Request)
		} else {
			b.logger.Warn("ask helper denied",
				"interface", inv.Interface, "request", inv.Request, "error", err)
		}
		return false
	}
	return true
}

// Notify launches the notify helper without waiting. Output is
// discarded and the child is reaped in the background.
func (b *Broker) Notify(inv Invocation) {
	if len(b.notifyArgv) == 0 {
		return
	}

	cmd := b.command(context.Background(), b.notifyArgv, inv)
	if err := cmd.Start(); err != nil {
		b.logger.Warn("notify helper failed to start",
			"interface", inv.Interface, "request", inv.Request, "error", err)
		return
	}
	go cmd.Wait()
}

func (b *Broker) command(ctx context.Context, argv []string, inv Invocation) *exec.Cmd {
	args := append(append([]string{}, argv[1:]...), inv.Interface, inv.Request, inv.Desc)
	cmd := exec.CommandContext(ctx, argv[0], args...)

	env := append(os.Environ(), EnvMsgJSON+"="+inv.MsgJSON)
	if inv.HasToplevelTitle {
		env = append(env, EnvToplevelTitle+"="+inv.ToplevelTitle)
	}
	if inv.HasToplevelAppID {
		env = append(env, EnvToplevelAppID+"="+inv.ToplevelAppID)
	}
	cmd.Env = env

	// Give the helper a chance to exit cleanly before the kill.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	return cmd
}
