// Package wire implements the Wayland wire format: message framing,
// argument parsing against a protocol schema, and transmission of
// messages with their ancillary file descriptors over unix sockets.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

const (
	// HeaderSize is the fixed message header: 32-bit object id,
	// 16-bit opcode, 16-bit total size including the header.
	HeaderSize = 8

	// MaxMessageSize is the largest message the Wayland wire format
	// permits.
	MaxMessageSize = 4096

	// MaxFdsPerMessage bounds the fds accepted in one ancillary batch
	// (kernel SCM_RIGHTS limit).
	MaxFdsPerMessage = 28
)

var byteOrder = binary.LittleEndian

// Direction identifies which half of the proxied connection a message
// travels on.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ClientToServer {
		return "client->server"
	}
	return "server->client"
}

// Kind reports whether messages in this direction are requests or events.
func (d Direction) Kind() string {
	if d == ClientToServer {
		return "request"
	}
	return "event"
}

// RawMessage is one framed message plus the fds its arguments consumed.
// Data holds the full wire bytes including the header.
type RawMessage struct {
	ObjectID uint32
	Opcode   uint16
	Size     uint16
	Data     []byte
	Fds      []int
}

// Payload returns the message bytes after the header.
func (m *RawMessage) Payload() []byte {
	return m.Data[HeaderSize:]
}

// CloseFds closes all fds attached to the message. Used when a policy
// decision drops the message instead of forwarding it.
func (m *RawMessage) CloseFds() {
	for _, fd := range m.Fds {
		unix.Close(fd)
	}
	m.Fds = nil
}

func (m *RawMessage) String() string {
	return fmt.Sprintf("msg{obj=%d opcode=%d size=%d fds=%d}", m.ObjectID, m.Opcode, m.Size, len(m.Fds))
}

// Fixed is a Wayland 24.8 signed fixed-point number.
type Fixed int32

// FixedFromFloat converts a float to 24.8 fixed point.
func FixedFromFloat(v float64) Fixed {
	return Fixed(math.Round(v * 256))
}

// Float converts the fixed-point value back to a float.
func (f Fixed) Float() float64 {
	return float64(f) / 256
}

// Int returns the integer part.
func (f Fixed) Int() int32 {
	return int32(f) >> 8
}

// stringWireLen returns the padded on-wire byte length for a string
// body of l bytes (the length prefix itself excluded).
func stringWireLen(l uint32) uint32 {
	return (l + 3) &^ 3
}

// MessageBuilder assembles an outgoing message. It is used for the
// synthesised wl_display.error event and by tests to fabricate client
// and compositor traffic.
type MessageBuilder struct {
	object uint32
	opcode uint16
	buf    []byte
	fds    []int
}

// NewMessageBuilder starts a message targeting object with the given
// opcode.
func NewMessageBuilder(object uint32, opcode uint16) *MessageBuilder {
	return &MessageBuilder{object: object, opcode: opcode}
}

func (b *MessageBuilder) PutInt(v int32) *MessageBuilder {
	return b.PutUint(uint32(v))
}

func (b *MessageBuilder) PutUint(v uint32) *MessageBuilder {
	var word [4]byte
	byteOrder.PutUint32(word[:], v)
	b.buf = append(b.buf, word[:]...)
	return b
}

func (b *MessageBuilder) PutFixed(v Fixed) *MessageBuilder {
	return b.PutUint(uint32(v))
}

// PutString writes a length-prefixed nul-terminated padded string.
func (b *MessageBuilder) PutString(s string) *MessageBuilder {
	l := uint32(len(s) + 1)
	b.PutUint(l)
	body := make([]byte, stringWireLen(l))
	copy(body, s)
	b.buf = append(b.buf, body...)
	return b
}

// PutNullString writes a null string (length prefix 0, no body).
func (b *MessageBuilder) PutNullString() *MessageBuilder {
	return b.PutUint(0)
}

// PutArray writes a length-prefixed padded byte array.
func (b *MessageBuilder) PutArray(a []byte) *MessageBuilder {
	l := uint32(len(a))
	b.PutUint(l)
	body := make([]byte, stringWireLen(l))
	copy(body, a)
	b.buf = append(b.buf, body...)
	return b
}

// PutFd attaches a file descriptor. Fds occupy no payload bytes.
func (b *MessageBuilder) PutFd(fd int) *MessageBuilder {
	b.fds = append(b.fds, fd)
	return b
}

// Build frames the message with its computed size header.
func (b *MessageBuilder) Build() *RawMessage {
	size := uint16(HeaderSize + len(b.buf))
	data := make([]byte, size)
	byteOrder.PutUint32(data[0:4], b.object)
	byteOrder.PutUint16(data[4:6], b.opcode)
	byteOrder.PutUint16(data[6:8], size)
	copy(data[HeaderSize:], b.buf)
	return &RawMessage{
		ObjectID: b.object,
		Opcode:   b.opcode,
		Size:     size,
		Data:     data,
		Fds:      b.fds,
	}
}
