package wire

import (
	"io"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"golang.org/x/sys/unix"
)

// Decoder frames one direction of the stream. Bytes and fds arrive via
// Push; Next yields complete messages. A partial header or payload
// leaves the decoder in a resumable state: Next returns (nil, nil)
// until enough bytes arrive.
type Decoder struct {
	buf []byte
	fds []int
	eof bool
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Push appends stream bytes and received fds to the decoder buffers.
func (d *Decoder) Push(p []byte, fds []int) {
	d.buf = append(d.buf, p...)
	d.fds = append(d.fds, fds...)
}

// PushEOF marks the stream as finished. Next returns io.EOF once the
// byte buffer is drained.
func (d *Decoder) PushEOF() {
	d.eof = true
}

// PendingFds reports the number of received fds not yet consumed by a
// parsed message.
func (d *Decoder) PendingFds() int {
	return len(d.fds)
}

// TakeFd removes the oldest queued fd. The argument walk calls this
// once per fd-typed argument, preserving arrival order.
func (d *Decoder) TakeFd() (int, bool) {
	if len(d.fds) == 0 {
		return -1, false
	}
	fd := d.fds[0]
	d.fds = d.fds[1:]
	return fd, true
}

// DrainFds closes any fds still queued. Called on session teardown so
// descriptors never leak past the connection lifetime.
func (d *Decoder) DrainFds() {
	for _, fd := range d.fds {
		unix.Close(fd)
	}
	d.fds = nil
}

// Next returns the next complete message, (nil, nil) when more bytes
// are needed, or io.EOF when the stream ended cleanly on a message
// boundary. The returned message carries no fds yet; fd-typed
// arguments claim them from the decoder during the argument walk.
func (d *Decoder) Next() (*RawMessage, error) {
	if len(d.buf) < HeaderSize {
		if d.eof {
			if len(d.buf) == 0 {
				return nil, io.EOF
			}
			return nil, errx.With(ErrTruncatedStream, ": %d trailing bytes", len(d.buf))
		}
		return nil, nil
	}

	objectID := byteOrder.Uint32(d.buf[0:4])
	opcode := byteOrder.Uint16(d.buf[4:6])
	size := byteOrder.Uint16(d.buf[6:8])

	if size < HeaderSize {
		return nil, errx.With(ErrInvalidSize, " %d (min %d)", size, HeaderSize)
	}
	if size > MaxMessageSize {
		return nil, errx.With(ErrInvalidSize, " %d (max %d)", size, MaxMessageSize)
	}

	if len(d.buf) < int(size) {
		if d.eof {
			return nil, errx.With(ErrTruncatedStream, ": message of %d bytes cut short", size)
		}
		return nil, nil
	}

	data := make([]byte, size)
	copy(data, d.buf[:size])
	d.buf = d.buf[size:]

	return &RawMessage{
		ObjectID: objectID,
		Opcode:   opcode,
		Size:     size,
		Data:     data,
	}, nil
}
