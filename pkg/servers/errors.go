package servers

import (
	"errors"
	"fmt"
)

var ErrServer = errors.New("server error")

func ErrServerFailedToStart(name string, err error) error {
	return fmt.Errorf("%w: %s failed to start: %w", ErrServer, name, err)
}

func ErrServerFailedToStop(name string, err error) error {
	return fmt.Errorf("%w: %s failed to stop: %w", ErrServer, name, err)
}
