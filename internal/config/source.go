// Package config provides key/value sources for sweep settings. Keys are
// dotted paths such as "session.enabled".
package config

import "context"

// Source looks up one setting. found is false when the key is not set in
// this source.
type Source interface {
	Lookup(ctx context.Context, path string) (value string, found bool, err error)
}

// Map is a fixed set of values, typically command line overrides.
type Map map[string]string

func (m Map) Lookup(_ context.Context, path string) (string, bool, error) {
	v, ok := m[path]
	return v, ok, nil
}

// Chain consults sources in order and returns the first value found.
// An error from any source ends the lookup.
type Chain []Source

func (c Chain) Lookup(ctx context.Context, path string) (string, bool, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		v, found, err := s.Lookup(ctx, path)
		if err != nil {
			return "", false, err
		}
		if found {
			return v, true, nil
		}
	}
	return "", false, nil
}
