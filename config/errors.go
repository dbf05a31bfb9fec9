package config

import (
	"errors"
	"fmt"
)

// InvalidConfigError is returned when a loaded configuration value is out of range.
type InvalidConfigError struct {
	Key string
	err error
}

func NewInvalidConfigError(key string, format string, args ...interface{}) error {
	return InvalidConfigError{Key: key, err: fmt.Errorf(format, args...)}
}

func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid configuration value %s: %v", e.Key, e.err)
}

func (e InvalidConfigError) Unwrap() error {
	return e.err
}

func IsInvalidConfigError(err error) bool {
	var invalid InvalidConfigError
	return errors.As(err, &invalid)
}
