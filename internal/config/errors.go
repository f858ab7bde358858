package config

import "errors"

var (
	ErrMissingValue    = errors.New("missing required value")
	ErrBelowMinimum    = errors.New("value below minimum")
	ErrInvalidValue    = errors.New("invalid value")
	ErrReadSystemFile  = errors.New("read system config file")
	ErrDecodeSystemCfg = errors.New("decode system config")
)
