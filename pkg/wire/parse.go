package wire

import (
	"encoding/json"

	"github.com/PeterCxy/wl-mitm/internal/errx"
	"github.com/PeterCxy/wl-mitm/pkg/proto"
)

// ObjectLookup resolves an object id to its interface binding. The
// session supplies its object map here.
type ObjectLookup func(id uint32) (iface string, version uint32, ok bool)

// Value is one decoded argument.
type Value struct {
	Arg proto.Arg

	Int    int32
	Uint   uint32
	Fixed  Fixed
	Str    string
	Object uint32
	Array  []byte
	Fd     int

	// IsNil marks a null string or null object argument.
	IsNil bool

	// NewID carries the id of a new_id argument. For the untyped form
	// the inline interface name and version are filled in as well.
	NewID        uint32
	NewInterface string
	NewVersion   uint32
}

// Message is a parsed message: the raw frame plus its schema binding
// and decoded arguments. Opaque messages (target object bound to an
// interface absent from the schema, or an opcode past the known
// descriptor list) have no descriptor and no decoded arguments.
type Message struct {
	Raw           *RawMessage
	InterfaceName string
	ParentVersion uint32
	Interface     *proto.Interface
	Desc          *proto.Message
	Args          []Value
	Opaque        bool
}

// Is reports whether the message is iface.name.
func (m *Message) Is(iface, name string) bool {
	return m.Desc != nil && m.InterfaceName == iface && m.Desc.Name == name
}

// Name returns "interface.message" for logging; opaque messages render
// the interface name only.
func (m *Message) Name() string {
	if m.Desc != nil {
		return m.InterfaceName + "." + m.Desc.Name
	}
	return m.InterfaceName
}

// NewObject reports the object created by this message, if it is a
// constructor: the new id, the interface to bind, and the version.
func (m *Message) NewObject() (id uint32, iface string, version uint32, ok bool) {
	if m.Desc == nil {
		return 0, "", 0, false
	}
	for _, v := range m.Args {
		if v.Arg.Type != proto.ArgNewID {
			continue
		}
		if v.Arg.Interface != "" {
			return v.NewID, v.Arg.Interface, m.ParentVersion, true
		}
		return v.NewID, v.NewInterface, v.NewVersion, true
	}
	return 0, "", 0, false
}

type argJSON struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// ArgsJSON renders the decoded argument list as a JSON array for the
// helper contract (WL_MITM_MSG_JSON).
func (m *Message) ArgsJSON() string {
	out := make([]argJSON, 0, len(m.Args))
	for _, v := range m.Args {
		a := argJSON{Name: v.Arg.Name, Type: v.Arg.Type.String()}
		switch v.Arg.Type {
		case proto.ArgInt:
			a.Value = v.Int
		case proto.ArgUint:
			a.Value = v.Uint
		case proto.ArgFixed:
			a.Value = v.Fixed.Float()
		case proto.ArgString:
			if v.IsNil {
				a.Value = nil
			} else {
				a.Value = v.Str
			}
		case proto.ArgObject:
			if v.IsNil {
				a.Value = nil
			} else {
				a.Value = v.Object
			}
		case proto.ArgNewID:
			if v.Arg.Interface == "" {
				a.Value = map[string]any{
					"interface": v.NewInterface,
					"version":   v.NewVersion,
					"id":        v.NewID,
				}
			} else {
				a.Value = v.NewID
			}
		case proto.ArgArray:
			a.Value = map[string]any{"len": len(v.Array)}
		case proto.ArgFd:
			a.Value = v.Fd
		}
		out = append(out, a)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Parse binds a raw message to its schema descriptor and decodes the
// argument list, claiming fds from the decoder queue as fd-typed
// arguments are encountered. An object id absent from the map is a
// protocol violation; an interface absent from the schema yields an
// opaque message.
func Parse(sch *proto.Schema, lookup ObjectLookup, dir Direction, raw *RawMessage, dec *Decoder) (*Message, error) {
	ifaceName, version, ok := lookup(raw.ObjectID)
	if !ok {
		return nil, errx.With(ErrUnknownObject, " id %d", raw.ObjectID)
	}

	msg := &Message{Raw: raw, InterfaceName: ifaceName, ParentVersion: version}

	iface := sch.Interface(ifaceName)
	if iface == nil {
		msg.Opaque = true
		return msg, nil
	}

	var desc *proto.Message
	if dir == ClientToServer {
		desc = iface.Request(raw.Opcode)
	} else {
		desc = iface.Event(raw.Opcode)
	}
	if desc == nil {
		// Object speaks a newer revision of the interface than the
		// shipped XML. Forwarded opaquely like an unknown interface.
		msg.Opaque = true
		return msg, nil
	}

	msg.Interface = iface
	msg.Desc = desc

	p := raw.Payload()
	off := 0

	word := func() (uint32, error) {
		if off+4 > len(p) {
			return 0, errx.With(ErrMalformed, ": %s needs 4 bytes at offset %d, have %d", msg.Name(), off, len(p)-off)
		}
		v := byteOrder.Uint32(p[off : off+4])
		off += 4
		return v, nil
	}

	block := func(l uint32) ([]byte, error) {
		padded := int(stringWireLen(l))
		if off+padded > len(p) {
			return nil, errx.With(ErrMalformed, ": %s needs %d bytes at offset %d, have %d", msg.Name(), padded, off, len(p)-off)
		}
		b := p[off : off+int(l)]
		off += padded
		return b, nil
	}

	for _, a := range desc.Args {
		v := Value{Arg: a}
		switch a.Type {
		case proto.ArgInt:
			u, err := word()
			if err != nil {
				return nil, err
			}
			v.Int = int32(u)
		case proto.ArgUint:
			u, err := word()
			if err != nil {
				return nil, err
			}
			v.Uint = u
		case proto.ArgFixed:
			u, err := word()
			if err != nil {
				return nil, err
			}
			v.Fixed = Fixed(u)
		case proto.ArgString:
			s, isNil, err := parseString(word, block)
			if err != nil {
				return nil, err
			}
			v.Str, v.IsNil = s, isNil
		case proto.ArgObject:
			u, err := word()
			if err != nil {
				return nil, err
			}
			v.Object, v.IsNil = u, u == 0
		case proto.ArgNewID:
			if a.Interface == "" {
				// Untyped: interface name + version + id inline.
				s, isNil, err := parseString(word, block)
				if err != nil {
					return nil, err
				}
				if isNil {
					return nil, errx.With(ErrMalformed, ": %s carries null interface name", msg.Name())
				}
				ver, err := word()
				if err != nil {
					return nil, err
				}
				id, err := word()
				if err != nil {
					return nil, err
				}
				v.NewInterface, v.NewVersion, v.NewID = s, ver, id
			} else {
				id, err := word()
				if err != nil {
					return nil, err
				}
				v.NewID = id
			}
		case proto.ArgArray:
			l, err := word()
			if err != nil {
				return nil, err
			}
			b, err := block(l)
			if err != nil {
				return nil, err
			}
			v.Array = b
		case proto.ArgFd:
			fd, ok := dec.TakeFd()
			if !ok {
				return nil, errx.With(ErrFdUnderflow, " (%s)", msg.Name())
			}
			v.Fd = fd
			raw.Fds = append(raw.Fds, fd)
		}
		msg.Args = append(msg.Args, v)
	}

	if off != len(p) {
		return nil, errx.With(ErrMalformed, ": %s has %d trailing bytes", msg.Name(), len(p)-off)
	}
	return msg, nil
}

func parseString(word func() (uint32, error), block func(uint32) ([]byte, error)) (string, bool, error) {
	l, err := word()
	if err != nil {
		return "", false, err
	}
	if l == 0 {
		return "", true, nil
	}
	b, err := block(l)
	if err != nil {
		return "", false, err
	}
	// Strip the mandatory nul terminator.
	return string(b[:l-1]), false, nil
}
