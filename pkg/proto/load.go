package proto

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PeterCxy/wl-mitm/internal/errx"
)

type xmlProtocol struct {
	Name       string         `xml:"name,attr"`
	Interfaces []xmlInterface `xml:"interface"`
}

type xmlInterface struct {
	Name     string       `xml:"name,attr"`
	Version  uint32       `xml:"version,attr"`
	Requests []xmlMessage `xml:"request"`
	Events   []xmlMessage `xml:"event"`
}

type xmlMessage struct {
	Name  string   `xml:"name,attr"`
	Type  string   `xml:"type,attr"`
	Since uint32   `xml:"since,attr"`
	Args  []xmlArg `xml:"arg"`
}

type xmlArg struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Interface string `xml:"interface,attr"`
	AllowNull bool   `xml:"allow-null,attr"`
}

// LoadDir parses every .xml file in dir into a single Schema. Files
// are read in lexical order; a duplicate interface name across files
// is a load error.
func LoadDir(dir string) (*Schema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errx.Wrap(ErrReadProtoDir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, errx.With(ErrNoProtoFiles, " in %s", dir)
	}

	s := &Schema{interfaces: make(map[string]*Interface)}
	for _, f := range files {
		if err := s.loadFile(f); err != nil {
			return nil, err
		}
	}

	if s.Interface("wl_display") == nil {
		return nil, ErrNoDisplay
	}
	return s, nil
}

func (s *Schema) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errx.Wrap(ErrReadProtoFile, err)
	}

	var p xmlProtocol
	if err := xml.Unmarshal(data, &p); err != nil {
		return errx.With(ErrParseProtoFile, " %s: %v", path, err)
	}

	for _, xi := range p.Interfaces {
		if _, ok := s.interfaces[xi.Name]; ok {
			return errx.With(ErrDuplicateInterface, " %s (in %s)", xi.Name, path)
		}

		iface := &Interface{Name: xi.Name, Version: xi.Version}
		for opcode, xm := range xi.Requests {
			m, err := buildMessage(xm, uint16(opcode), Request)
			if err != nil {
				return errx.With(err, " (%s.%s in %s)", xi.Name, xm.Name, path)
			}
			iface.Requests = append(iface.Requests, m)
		}
		for opcode, xm := range xi.Events {
			m, err := buildMessage(xm, uint16(opcode), Event)
			if err != nil {
				return errx.With(err, " (%s.%s in %s)", xi.Name, xm.Name, path)
			}
			iface.Events = append(iface.Events, m)
		}
		s.interfaces[xi.Name] = iface
	}
	return nil
}

func buildMessage(xm xmlMessage, opcode uint16, kind MessageKind) (*Message, error) {
	m := &Message{
		Name:       xm.Name,
		Opcode:     opcode,
		Kind:       kind,
		Since:      xm.Since,
		Destructor: xm.Type == "destructor",
	}
	for _, xa := range xm.Args {
		t, err := parseArgType(xa.Type)
		if err != nil {
			return nil, err
		}
		m.Args = append(m.Args, Arg{
			Name:      xa.Name,
			Type:      t,
			Interface: xa.Interface,
			AllowNull: xa.AllowNull,
		})
	}
	return m, nil
}

func parseArgType(s string) (ArgType, error) {
	switch s {
	case "int":
		return ArgInt, nil
	case "uint":
		return ArgUint, nil
	case "fixed":
		return ArgFixed, nil
	case "string":
		return ArgString, nil
	case "object":
		return ArgObject, nil
	case "new_id":
		return ArgNewID, nil
	case "array":
		return ArgArray, nil
	case "fd":
		return ArgFd, nil
	default:
		return 0, errx.With(ErrUnknownArgType, " %q", s)
	}
}
