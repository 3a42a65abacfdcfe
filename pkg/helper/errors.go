package helper

import "errors"

var (
	ErrBadAskCmd    = errors.New("cannot parse exec.ask_cmd")
	ErrBadNotifyCmd = errors.New("cannot parse exec.notify_cmd")
)
