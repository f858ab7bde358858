package soadir

import (
	"errors"
	"fmt"
)

var ErrInvalidConfigFile = errors.New("invalid config file")

// NotFoundError reports a service or instance with no configuration.
type NotFoundError struct {
	Service  string
	Instance string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("instance %s.%s not found", e.Service, e.Instance)
}

func (e *NotFoundError) IsNotFound() {}
