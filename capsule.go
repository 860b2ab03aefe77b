package capsule

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/outofforest/capsule/keystore"
	"github.com/outofforest/capsule/objectstore"
	"github.com/outofforest/capsule/persistence"
	"github.com/outofforest/capsule/pkg/filedev"
)

// Capsule is used to access named values stored in a single self-describing
// file. It ties the object store to the key store and persists the key
// directory through the store's save-changes hook.
type Capsule struct {
	store *objectstore.Store
	keys  *keystore.Store
	dev   persistence.Dev
}

// Open opens a capsule over the device.
func Open(dev persistence.Dev, readOnly bool) (*Capsule, error) {
	var keys *keystore.Store
	store, err := objectstore.Open(dev, objectstore.Options{
		ReadOnly: readOnly,
		SaveChanges: func() error {
			if keys == nil {
				return nil
			}
			return keys.Save()
		},
	})
	if err != nil {
		return nil, err
	}

	keys, err = keystore.Open(store)
	if err != nil {
		return nil, err
	}

	return &Capsule{
		store: store,
		keys:  keys,
		dev:   dev,
	}, nil
}

// OpenFile opens a capsule over the file at the path. A writable capsule
// creates the file if it does not exist; a read-only one requires it.
func OpenFile(path string, readOnly bool) (*Capsule, error) {
	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	c, err := Open(filedev.New(file), readOnly)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return c, nil
}

// Get returns the value stored under the name.
func (c *Capsule) Get(name string) ([]byte, bool, error) {
	return c.keys.Get(name)
}

// Set stores the value under the name.
func (c *Capsule) Set(name string, value []byte) error {
	return c.keys.Set(name, value)
}

// Delete removes the name and its value.
func (c *Capsule) Delete(name string) (bool, error) {
	return c.keys.Delete(name)
}

// Names returns all stored names in ascending order.
func (c *Capsule) Names() []string {
	return c.keys.Names()
}

// Store returns the underlying object store.
func (c *Capsule) Store() *objectstore.Store {
	return c.store
}

// Close saves the index and releases the device.
func (c *Capsule) Close() error {
	err := c.store.Close()
	if closer, ok := c.dev.(io.Closer); ok {
		if closeErr := closer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}
