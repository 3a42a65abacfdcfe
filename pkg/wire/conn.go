package wire

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"golang.org/x/sys/unix"
)

// Conn wraps one unix stream endpoint of a session. Reads feed a
// Decoder with bytes and any fds carried in ancillary data; writes
// emit framed messages with their fds attached via SCM_RIGHTS. Writes
// are serialised: the forwarder and a policy-reject injection may
// target the same endpoint.
type Conn struct {
	uc *net.UnixConn

	readBuf []byte
	oobBuf  []byte

	writeMu sync.Mutex
}

// NewConn wraps an established unix stream connection.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{
		uc:      uc,
		readBuf: make([]byte, MaxMessageSize),
		oobBuf:  make([]byte, unix.CmsgSpace(MaxFdsPerMessage*4)),
	}
}

// ReadInto performs one read from the socket and pushes the result
// into the decoder. EOF is recorded on the decoder rather than
// returned, so the caller drains buffered messages first.
func (c *Conn) ReadInto(d *Decoder) error {
	n, oobn, _, _, err := c.uc.ReadMsgUnix(c.readBuf, c.oobBuf)
	if n > 0 || oobn > 0 {
		fds, ferr := parseFds(c.oobBuf[:oobn])
		if ferr != nil {
			return ferr
		}
		d.Push(c.readBuf[:n], fds)
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			d.PushEOF()
			return nil
		}
		return err
	}
	if n == 0 && oobn == 0 {
		d.PushEOF()
	}
	return nil
}

func parseFds(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, cmsg := range cmsgs {
		got, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		for _, fd := range got {
			unix.CloseOnExec(fd)
			fds = append(fds, fd)
		}
	}
	return fds, nil
}

// WriteRaw transmits a message together with its fds. The fds ride on
// the first byte batch; short writes are retried until the frame is
// fully on the wire.
func (c *Conn) WriteRaw(m *RawMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(m.Fds) > MaxFdsPerMessage {
		return errx.With(ErrTooManyFds, ": %d", len(m.Fds))
	}

	var oob []byte
	if len(m.Fds) > 0 {
		oob = unix.UnixRights(m.Fds...)
	}

	data := m.Data
	for len(data) > 0 {
		n, _, err := c.uc.WriteMsgUnix(data, oob, nil)
		if err != nil {
			return errx.Wrap(ErrWriteFailed, err)
		}
		data = data[n:]
		oob = nil
	}
	return nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.uc.Close()
}

// CloseRead shuts down the read half, unblocking a pending read.
func (c *Conn) CloseRead() error {
	return c.uc.CloseRead()
}
