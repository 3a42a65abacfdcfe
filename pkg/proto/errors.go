package proto

import "errors"

var (
	ErrReadProtoDir       = errors.New("read protocol directory")
	ErrReadProtoFile      = errors.New("read protocol file")
	ErrParseProtoFile     = errors.New("parse protocol file")
	ErrNoProtoFiles       = errors.New("no protocol files found")
	ErrNoDisplay          = errors.New("protocol set does not define wl_display")
	ErrDuplicateInterface = errors.New("duplicate interface")
	ErrUnknownArgType     = errors.New("unknown argument type")
)
