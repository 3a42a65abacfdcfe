package helper

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterCxy/wl-mitm/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T, cfg config.ExecConfig) *Broker {
	t.Helper()
	b, err := NewBroker(&cfg, testLogger())
	require.NoError(t, err)
	return b
}

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestBroker_AskAllow(t *testing.T) {
	b := newTestBroker(t, config.ExecConfig{AskCmd: "/bin/true"})
	assert.True(t, b.Ask(context.Background(), Invocation{Interface: "wl_shm", Request: "create_pool"}))
}

func TestBroker_AskDeny(t *testing.T) {
	b := newTestBroker(t, config.ExecConfig{AskCmd: "/bin/false"})
	assert.False(t, b.Ask(context.Background(), Invocation{Interface: "wl_shm", Request: "create_pool"}))
}

func TestBroker_AskExecFailureDenies(t *testing.T) {
	b := newTestBroker(t, config.ExecConfig{AskCmd: "/nonexistent/helper"})
	assert.False(t, b.Ask(context.Background(), Invocation{}))
}

func TestBroker_AskNotConfiguredDenies(t *testing.T) {
	b := newTestBroker(t, config.ExecConfig{})
	assert.False(t, b.CanAsk())
	assert.False(t, b.Ask(context.Background(), Invocation{}))
}

func TestBroker_AskArgvAndEnvContract(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	script := writeScript(t, `printf '%s|%s|%s|%s|%s|%s\n' "$1" "$2" "$3" "$WL_MITM_MSG_JSON" "$WL_MITM_LAST_TOPLEVEL_TITLE" "$WL_MITM_LAST_TOPLEVEL_APP_ID" > "$OUT_FILE"`)

	t.Setenv("OUT_FILE", out)

	b := newTestBroker(t, config.ExecConfig{AskCmd: script})
	ok := b.Ask(context.Background(), Invocation{
		Interface:        "zwlr_data_control_offer_v1",
		Request:          "receive",
		Desc:             "read the clipboard",
		MsgJSON:          `[{"name":"mime_type","type":"string","value":"text/plain"}]`,
		ToplevelTitle:    "Files",
		HasToplevelTitle: true,
		ToplevelAppID:    "org.gnome.Nautilus",
		HasToplevelAppID: true,
	})
	require.True(t, ok)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(string(data)), "|")
	require.Len(t, fields, 6)
	assert.Equal(t, "zwlr_data_control_offer_v1", fields[0])
	assert.Equal(t, "receive", fields[1])
	assert.Equal(t, "read the clipboard", fields[2])
	assert.Contains(t, fields[3], `"mime_type"`)
	assert.Equal(t, "Files", fields[4])
	assert.Equal(t, "org.gnome.Nautilus", fields[5])
}

func TestBroker_AskCommandWithFlags(t *testing.T) {
	// Extra argv from the config string precedes the contract args.
	out := filepath.Join(t.TempDir(), "out")
	script := writeScript(t, `printf '%s %s\n' "$1" "$2" > "$OUT_FILE"`)

	t.Setenv("OUT_FILE", out)

	b := newTestBroker(t, config.ExecConfig{AskCmd: script + " --quiet"})
	require.True(t, b.Ask(context.Background(), Invocation{Interface: "wl_shm", Request: "create_pool"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "--quiet wl_shm", strings.TrimSpace(string(data)))
}

func TestBroker_AskTimeoutDenies(t *testing.T) {
	script := writeScript(t, "sleep 30")
	b := newTestBroker(t, config.ExecConfig{AskCmd: script, AskTimeoutSeconds: 1})

	start := time.Now()
	ok := b.Ask(context.Background(), Invocation{})
	elapsed := time.Since(start)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "timeout fires, not an early exit")
	assert.Less(t, elapsed, 10*time.Second)
}

func TestBroker_NotifyDoesNotStall(t *testing.T) {
	b := newTestBroker(t, config.ExecConfig{NotifyCmd: writeScript(t, "sleep 30")})

	start := time.Now()
	b.Notify(Invocation{Interface: "wl_data_offer", Request: "receive"})
	assert.Less(t, time.Since(start), time.Second, "notify must not wait for the helper")
}

func TestBroker_BadCommandString(t *testing.T) {
	_, err := NewBroker(&config.ExecConfig{AskCmd: `helper "unterminated`}, testLogger())
	require.ErrorIs(t, err, ErrBadAskCmd)
}
