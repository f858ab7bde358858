package shutdown

import "errors"

var ErrTerminationFileFound = errors.New("termination file found")
