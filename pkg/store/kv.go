package store

import "errors"

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Entry is one key/value pair from a List scan.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the persistence capability handed to the cache, outbox and
// migration layers. Implementations must be safe for concurrent use.
// List returns entries in ascending key order.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	List(prefix string) ([]Entry, error)
	Close() error
}
