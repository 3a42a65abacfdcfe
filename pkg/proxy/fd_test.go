package proxy

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/PeterCxy/wl-mitm/pkg/config"
	"github.com/PeterCxy/wl-mitm/pkg/wire"
)

// shmFixture binds wl_shm as object 3.
func shmFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := newFixture(t, cfg)
	f.openRegistry()
	f.upstream.write(t, globalEvent(1, "wl_shm", 1))
	f.client.read(t)
	f.client.write(t, bindRequest(1, "wl_shm", 1, 3))
	f.upstream.read(t)
	return f
}

func TestSession_FdForwarded(t *testing.T) {
	f := shmFixture(t, baseConfig())

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// wl_shm.create_pool(id=4, fd, size).
	pool := wire.NewMessageBuilder(3, 0).PutUint(4).PutInt(4096).PutFd(int(w.Fd())).Build()
	f.client.write(t, pool)

	got := f.upstream.read(t)
	assert.Equal(t, pool.Data, got.Data)
	require.Equal(t, 1, f.upstream.dec.PendingFds(), "exactly one fd must arrive with create_pool")

	// Prove the forwarded descriptor still reaches the original pipe.
	fd, ok := f.upstream.dec.TakeFd()
	require.True(t, ok)
	_, err = unix.Write(fd, []byte("ping"))
	require.NoError(t, err)
	unix.Close(fd)

	buf := make([]byte, 4)
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestSession_BlockedFdIsClosed(t *testing.T) {
	cfg := baseConfig()
	cfg.Filter = config.FilterConfig{
		Requests: []config.RequestFilter{{
			Interface: "wl_shm",
			Requests:  []string{"create_pool"},
			Action:    config.ActionBlock,
			BlockType: config.BlockIgnore,
		}},
	}
	f := shmFixture(t, cfg)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	pool := wire.NewMessageBuilder(3, 0).PutUint(4).PutInt(4096).PutFd(int(w.Fd())).Build()
	f.client.write(t, pool)

	// The drop closes the proxy's copy of the write end. Once our own
	// copy is closed too, the read side sees EOF instead of blocking:
	// no descriptor leaked inside the proxy.
	sync := wire.NewMessageBuilder(1, 0).PutUint(9).Build()
	f.client.write(t, sync)
	got := f.upstream.read(t)
	assert.Equal(t, sync.Data, got.Data, "create_pool must be dropped, sync forwarded")
	assert.Zero(t, f.upstream.dec.PendingFds(), "no fd may reach upstream for a dropped message")

	w.Close()
	buf := make([]byte, 1)
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
