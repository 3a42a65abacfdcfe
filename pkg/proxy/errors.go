package proxy

import (
	"errors"

	"github.com/PeterCxy/wl-mitm/internal/errx"
)

var (
	ErrBind              = errors.New("bind listen socket")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrPolicyReject      = errors.New("request rejected by policy")
)

func wrapViolation(err error) error {
	if errors.Is(err, ErrProtocolViolation) {
		return err
	}
	return errx.Wrap(ErrProtocolViolation, err)
}
