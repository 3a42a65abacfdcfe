package objects

import "errors"

var (
	ErrNullID  = errors.New("object id 0 is reserved")
	ErrIDInUse = errors.New("object id already live")
)
