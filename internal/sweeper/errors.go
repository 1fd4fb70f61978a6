package sweeper

import (
	"errors"
	"fmt"
)

// ErrNegative rejects settings that cannot be defaulted safely: a negative
// grace period would move the cutoff into the future.
var ErrNegative = errors.New("must not be negative")

// ConfigurationError reports a setting that could not be read or used.
type ConfigurationError struct {
	Key   string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config %s=%q: %v", e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StorageError reports a failed count or delete against the backing table.
type StorageError struct {
	Op    string
	Table string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Kind classifies err as "configuration", "storage" or "" for anything else.
func Kind(err error) string {
	var ce *ConfigurationError
	var se *StorageError
	switch {
	case errors.As(err, &ce):
		return "configuration"
	case errors.As(err, &se):
		return "storage"
	}
	return ""
}
