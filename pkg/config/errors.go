package config

import "errors"

var (
	ErrReadConfig      = errors.New("read config file")
	ErrParseConfig     = errors.New("parse config file")
	ErrListenUnset     = errors.New("socket.listen is required")
	ErrListenEscape    = errors.New("socket.listen escapes the runtime directory")
	ErrSameSocket      = errors.New("listen and upstream sockets must differ")
	ErrBadLogLevel     = errors.New("invalid logging.log_level")
	ErrFilterInterface = errors.New("filter entry missing interface")
	ErrFilterRequests  = errors.New("filter entry missing requests")
	ErrBadAction       = errors.New("invalid filter action")
	ErrBadBlockType    = errors.New("invalid filter block_type")
	ErrAskCmdUnset     = errors.New("filter uses ask but exec.ask_cmd is unset")
	ErrNotifyCmdUnset  = errors.New("filter uses notify but exec.notify_cmd is unset")
)
