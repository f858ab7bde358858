package httpserver

import "errors"

var (
	ErrInvalidTailLines = errors.New("invalid tail lines")
	ErrInvalidFormat    = errors.New("invalid format")
	ErrInstanceNotFound = errors.New("instance not found")
)
