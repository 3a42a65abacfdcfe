package main

import "errors"

var (
	ErrLoadConfig = errors.New("loading configuration")
	ErrLoadProto  = errors.New("loading protocol definitions")
	ErrListen     = errors.New("starting listener")
)
