// Package storage provides the namespaced persistence layer the
// protocol engine uses for UAID, channel-id set, and per-subscription
// state (spec §4.1). [Backend] is the opaque key/value facade treated
// as an external collaborator; [Store] is the core namespacing wrapper
// built on top of it.
package storage

import (
	"encoding/json"
	"fmt"
)

// Backend is the opaque key/value persistence facade. Implementations
// need not know anything about namespacing, JSON encoding, or the
// shape of the values stored — that is [Store]'s job. A missing key
// must return ("", false, nil), never an error.
type Backend interface {
	// Get returns the raw stored value for key, and whether it exists.
	Get(key string) (value string, ok bool, err error)
	// Set stores the raw value for key, creating or overwriting it.
	Set(key string, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// JoinNamespace joins a namespace prefix and a suffix with ":", eliding
// either side if empty. This is the exact rule spec §8's round-trip law
// specifies: join("a","b")="a:b", join("","b")="b", join("a","")="a".
func JoinNamespace(prefix, suffix string) string {
	switch {
	case prefix == "":
		return suffix
	case suffix == "":
		return prefix
	default:
		return prefix + ":" + suffix
	}
}

// Store is a namespaced, JSON-encoding view over a [Backend]. Two Store
// instances sharing a Backend but constructed with different
// namespaces never collide, because every key is prefixed with the
// namespace before reaching the Backend.
type Store struct {
	backend   Backend
	namespace string
}

// New creates a root Store (no namespace prefix) over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Extend returns a nested Store whose namespace is this store's
// namespace joined with suffix.
func (s *Store) Extend(suffix string) *Store {
	return &Store{backend: s.backend, namespace: JoinNamespace(s.namespace, suffix)}
}

// Namespace returns this store's full namespace prefix.
func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) key(key string) string {
	return JoinNamespace(s.namespace, key)
}

// Read decodes the JSON value stored at key into a value of type T. If
// the key is absent, Read returns the zero value and ok=false with no
// error — matching spec §4.1's "null reads map to absent".
func Read[T any](s *Store, key string) (value T, ok bool, err error) {
	raw, exists, err := s.backend.Get(s.key(key))
	if err != nil {
		return value, false, fmt.Errorf("storage: read %s: %w", s.key(key), err)
	}
	if !exists {
		return value, false, nil
	}
	if raw == "null" {
		return value, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, false, fmt.Errorf("storage: decode %s: %w", s.key(key), err)
	}
	return value, true, nil
}

// Write JSON-encodes value and stores it at key.
func Write[T any](s *Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", s.key(key), err)
	}
	if err := s.backend.Set(s.key(key), string(raw)); err != nil {
		return fmt.Errorf("storage: write %s: %w", s.key(key), err)
	}
	return nil
}

// Remove deletes key from the store's namespace.
func (s *Store) Remove(key string) error {
	if err := s.backend.Delete(s.key(key)); err != nil {
		return fmt.Errorf("storage: remove %s: %w", s.key(key), err)
	}
	return nil
}
