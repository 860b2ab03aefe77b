package keystore

import (
	"bytes"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/outofforest/capsule/blocks"
	"github.com/outofforest/capsule/objectstore"
)

// Store represents the key store keeping the relation between names and
// objects. Values are deflated before being stored; a content fingerprint per
// name lets an unchanged value skip the rewrite entirely. The directory itself
// is persisted as the root object when the object store saves its changes.
type Store struct {
	store   *objectstore.Store
	entries map[string]entry
}

// Open returns the key store over the object store, claiming the root object
// on first use.
func Open(store *objectstore.Store) (*Store, error) {
	s := &Store{
		store:   store,
		entries: map[string]entry{},
	}

	if !store.Contains(blocks.RootObjectID) {
		if store.ReadOnly() {
			return s, nil
		}
		if err := store.Reserve(blocks.RootObjectID); err != nil {
			return nil, err
		}
		return s, nil
	}

	p, exists, err := store.Read(blocks.RootObjectID)
	if err != nil {
		return nil, err
	}
	if !exists || len(p) == 0 {
		return s, nil
	}
	s.entries, err = decodeDirectory(p)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value stored under the name.
func (s *Store) Get(name string) ([]byte, bool, error) {
	e, exists := s.entries[name]
	if !exists {
		return nil, false, nil
	}

	p, exists, err := s.store.Read(e.ObjectID)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, errors.Errorf("directory entry %q points to missing object %d", name, e.ObjectID)
	}

	r := flate.NewReader(bytes.NewReader(p))
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	if int64(len(value)) != int64(e.Size) {
		return nil, false, errors.Errorf("value %q: expected %d bytes, got %d", name, e.Size, len(value))
	}
	return value, true, nil
}

// Set stores the value under the name. Rewriting a value identical to the
// stored one is a no-op.
func (s *Store) Set(name string, value []byte) error {
	if name == "" {
		return errors.Errorf("key cannot be empty")
	}

	fingerprint := xxhash.Sum64(value)
	e, exists := s.entries[name]
	if exists && e.Fingerprint == fingerprint && int64(e.Size) == int64(len(value)) {
		return nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := w.Write(value); err != nil {
		return errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return errors.WithStack(err)
	}

	objectID := e.ObjectID
	if !exists {
		objectID, err = s.store.NewObjectID()
		if err != nil {
			return err
		}
	}
	if err := s.store.Write(objectID, buf.Bytes()); err != nil {
		return err
	}

	s.entries[name] = entry{
		ObjectID:    objectID,
		Fingerprint: fingerprint,
		Size:        int32(len(value)),
	}
	return nil
}

// Delete removes the name and its value, reporting whether the name existed.
func (s *Store) Delete(name string) (bool, error) {
	e, exists := s.entries[name]
	if !exists {
		return false, nil
	}
	if _, err := s.store.Delete(e.ObjectID); err != nil {
		return false, err
	}
	delete(s.entries, name)
	return true, nil
}

// Contains reports whether the name exists.
func (s *Store) Contains(name string) bool {
	_, exists := s.entries[name]
	return exists
}

// Names returns all names in ascending order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Save persists the directory as the root object. It is meant to run from the
// object store's save-changes hook.
func (s *Store) Save() error {
	return s.store.Write(blocks.RootObjectID, encodeDirectory(s.Names(), s.entries))
}
