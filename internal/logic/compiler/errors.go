package compiler

import (
	"errors"
	"fmt"
)

var (
	ErrMissingConfiguration     = errors.New("missing configuration")
	ErrInvalidConfigShape       = errors.New("invalid config shape")
	ErrInvalidPlacementOperator = errors.New("invalid placement operator")
	ErrIncompatibleBounceMethod = errors.New("incompatible bounce method")
	ErrInvalidCommand           = errors.New("invalid command")
	ErrInvalidHealthcheckMode   = errors.New("invalid healthcheck mode")
	ErrInvalidReplicaCount      = errors.New("invalid replica count")
	ErrInvalidVolumeMode        = errors.New("invalid volume mode")
	ErrInvalidResource          = errors.New("invalid resource quantity")
)

// ManifestCompilationError wraps any failure that aborted a manifest compilation.
type ManifestCompilationError struct {
	Service  string
	Instance string
	Err      error
}

func (e *ManifestCompilationError) Error() string {
	return fmt.Sprintf("compile manifest for %s.%s: %v", e.Service, e.Instance, e.Err)
}

func (e *ManifestCompilationError) Unwrap() error {
	return e.Err
}

// IsInvalidConfig marks the error as caused by the instance configuration.
func (e *ManifestCompilationError) IsInvalidConfig() {}

func wrapCompilation(cfg *InstanceConfig, err error) error {
	if err == nil {
		return nil
	}

	var target *ManifestCompilationError
	if errors.As(err, &target) {
		return err
	}

	return &ManifestCompilationError{
		Service:  cfg.Service,
		Instance: cfg.Instance,
		Err:      err,
	}
}
