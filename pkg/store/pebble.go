package store

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"

	"autosync/pkg/logger"
	"autosync/pkg/security"
)

// Pebble is the durable KV used for the conversation mirror and the
// outbox. Values are passed through the security layer so the cache is
// encrypted at rest when a key is configured.
type Pebble struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) the cache database at path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_cache_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("cache_opened", "path", path)
	return &Pebble{db: db, path: path}, nil
}

// Ready reports whether the database handle is open.
func (p *Pebble) Ready() bool { return p != nil && p.db != nil }

// Path returns the on-disk location of the database.
func (p *Pebble) Path() string { return p.path }

func (p *Pebble) Get(key string) ([]byte, error) {
	if p.db == nil {
		return nil, fmt.Errorf("cache not opened")
	}
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return security.Decrypt(out)
}

func (p *Pebble) Set(key string, value []byte) error {
	if p.db == nil {
		return fmt.Errorf("cache not opened")
	}
	enc, err := security.Encrypt(value)
	if err != nil {
		return err
	}
	return p.db.Set([]byte(key), enc, pebble.Sync)
}

func (p *Pebble) Delete(key string) error {
	if p.db == nil {
		return fmt.Errorf("cache not opened")
	}
	return p.db.Delete([]byte(key), pebble.Sync)
}

// List scans all keys with the given prefix in ascending order.
func (p *Pebble) List(prefix string) ([]Entry, error) {
	if p.db == nil {
		return nil, fmt.Errorf("cache not opened")
	}
	pfx := []byte(prefix)
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []Entry
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		v := append([]byte(nil), iter.Value()...)
		dec, derr := security.Decrypt(v)
		if derr != nil {
			return nil, fmt.Errorf("decrypt %s: %w", string(iter.Key()), derr)
		}
		out = append(out, Entry{Key: string(iter.Key()), Value: dec})
	}
	return out, nil
}

func (p *Pebble) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
