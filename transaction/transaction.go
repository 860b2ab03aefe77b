package transaction

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/outofforest/capsule/blocks"
	"github.com/outofforest/capsule/objectstore"
)

// ErrDone is returned by operations on a committed or rolled back transaction.
var ErrDone = errors.New("transaction already finished")

// Tx buffers writes and deletes against the object store. Writes land under
// shadow object IDs and are moved under their target IDs on Commit; Rollback
// discards the shadows. Commit renames by reading the shadow and rewriting the
// target, so it is best-effort, not atomic.
type Tx struct {
	store   *objectstore.Store
	shadows map[blocks.ObjectID]blocks.ObjectID
	deleted map[blocks.ObjectID]bool
	done    bool
}

// New begins a transaction over the store.
func New(store *objectstore.Store) *Tx {
	return &Tx{
		store:   store,
		shadows: map[blocks.ObjectID]blocks.ObjectID{},
		deleted: map[blocks.ObjectID]bool{},
	}
}

// Write stores the payload under a shadow of the object ID.
func (t *Tx) Write(objectID blocks.ObjectID, p []byte) error {
	if t.done {
		return errors.WithStack(ErrDone)
	}

	shadow, exists := t.shadows[objectID]
	if !exists {
		var err error
		shadow, err = t.store.NewObjectID()
		if err != nil {
			return err
		}
	}
	if err := t.store.Write(shadow, p); err != nil {
		return err
	}
	t.shadows[objectID] = shadow
	delete(t.deleted, objectID)
	return nil
}

// Read returns the payload as the transaction sees it: the shadow if the
// object was written, nothing if it was deleted, the stored payload otherwise.
func (t *Tx) Read(objectID blocks.ObjectID) ([]byte, bool, error) {
	if t.done {
		return nil, false, errors.WithStack(ErrDone)
	}

	if t.deleted[objectID] {
		return nil, false, nil
	}
	if shadow, exists := t.shadows[objectID]; exists {
		return t.store.Read(shadow)
	}
	return t.store.Read(objectID)
}

// Delete marks the object for deletion. Deleting an object which exists
// neither in the store nor in the transaction is an error.
func (t *Tx) Delete(objectID blocks.ObjectID) error {
	if t.done {
		return errors.WithStack(ErrDone)
	}

	shadow, written := t.shadows[objectID]
	if !written && !t.store.Contains(objectID) {
		return errors.Wrapf(objectstore.ErrObjectNotFound, "object ID: %d", objectID)
	}
	if written {
		if _, err := t.store.Delete(shadow); err != nil {
			return err
		}
		delete(t.shadows, objectID)
	}
	t.deleted[objectID] = true
	return nil
}

// Commit moves every shadow under its target object ID and applies the
// deletions. The transaction is spent afterwards.
func (t *Tx) Commit() error {
	if t.done {
		return errors.WithStack(ErrDone)
	}

	for _, objectID := range sortedKeys(t.shadows) {
		shadow := t.shadows[objectID]
		p, exists, err := t.store.Read(shadow)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Wrapf(objectstore.ErrObjectNotFound, "shadow of object ID: %d", objectID)
		}
		if err := t.store.Write(objectID, p); err != nil {
			return err
		}
		if _, err := t.store.Delete(shadow); err != nil {
			return err
		}
	}

	deleted := make([]blocks.ObjectID, 0, len(t.deleted))
	for objectID := range t.deleted {
		deleted = append(deleted, objectID)
	}
	slices.Sort(deleted)
	for _, objectID := range deleted {
		if _, err := t.store.Delete(objectID); err != nil {
			return err
		}
	}

	t.finish()
	return nil
}

// Rollback discards every shadow. The transaction is spent afterwards.
func (t *Tx) Rollback() error {
	if t.done {
		return errors.WithStack(ErrDone)
	}

	for _, objectID := range sortedKeys(t.shadows) {
		if _, err := t.store.Delete(t.shadows[objectID]); err != nil {
			return err
		}
	}

	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.shadows = nil
	t.deleted = nil
	t.done = true
}

func sortedKeys(m map[blocks.ObjectID]blocks.ObjectID) []blocks.ObjectID {
	keys := make([]blocks.ObjectID, 0, len(m))
	for objectID := range m {
		keys = append(keys, objectID)
	}
	slices.Sort(keys)
	return keys
}
