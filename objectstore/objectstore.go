package objectstore

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/capsule/blocks"
	"github.com/outofforest/capsule/freespace"
	"github.com/outofforest/capsule/persistence"
)

// Errors reported by the store.
var (
	// ErrObjectExists is returned when inserting an object under an ID which is already taken.
	ErrObjectExists = errors.New("object already exists")

	// ErrObjectNotFound is returned by operations requiring the object to exist.
	ErrObjectNotFound = errors.New("object does not exist")

	// ErrObjectIDsExhausted is returned when every object ID is taken.
	ErrObjectIDsExhausted = errors.New("no free object IDs available")

	// ErrCorrupted is returned when the index stream contains an impossible value.
	ErrCorrupted = errors.New("index is corrupted")

	// ErrReadOnly is returned by mutating operations on a read-only store.
	ErrReadOnly = errors.New("store is opened in read-only mode")
)

// Options configure the store.
type Options struct {
	// ReadOnly disables all mutating operations.
	ReadOnly bool

	// Logger receives reports about index repairs. Defaults to the stdlib log package.
	Logger Logger

	// SaveChanges, if set, is called once at the beginning of Close, before the
	// index chain is freed and rewritten. It may call Write, Delete and Reserve
	// on the store.
	SaveChanges func() error
}

// Store maps object IDs to payloads persisted in a single file of
// fixed-size blocks. The index locating the payloads lives in the same file,
// serialized on Close, so the file is self-contained.
type Store struct {
	mu    sync.RWMutex
	store *persistence.Store
	opts  Options

	index        *objectIndex
	free         *freespace.Set
	lastObjectID blocks.ObjectID
}

// Open loads the store from the device. A zero-length device is a valid empty store.
func Open(dev persistence.Dev, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}

	s := &Store{
		store: persistence.OpenStore(dev),
		opts:  opts,
		index: newObjectIndex(),
		free:  freespace.New(),
	}
	if err := s.readOIDs(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close rewrites the index chain starting at block 0, compacts the file and
// syncs the device. On a read-only store it is a no-op.
func (s *Store) Close() error {
	if s.opts.ReadOnly {
		return nil
	}

	// The hook runs before the lock is taken so it may call back into the
	// store's mutating operations.
	if s.opts.SaveChanges != nil {
		if err := s.opts.SaveChanges(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveOIDs(); err != nil {
		return err
	}
	return s.store.Sync()
}

// ReadOnly reports whether the store was opened in read-only mode.
func (s *Store) ReadOnly() bool {
	return s.opts.ReadOnly
}

// IsEmpty reports whether the backing file holds no data at all.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.Len() == 0
}

// Contains reports whether the object exists.
func (s *Store) Contains(objectID blocks.ObjectID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.index.contains(objectID)
}

// Read returns the payload stored under the object ID. The second result is
// false if the object does not exist.
func (s *Store) Read(objectID blocks.ObjectID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.read(objectID)
}

func (s *Store) read(objectID blocks.ObjectID) ([]byte, bool, error) {
	ob, exists := s.index.get(objectID)
	if !exists {
		return nil, false, nil
	}

	p := make([]byte, ob.Size)
	for i, offset := range ob.Blocks {
		chunk := p[int64(i)*blocks.BlockSize:]
		if int64(len(chunk)) > blocks.BlockSize {
			chunk = chunk[:blocks.BlockSize]
		}
		if err := s.store.ReadAt(offset, chunk); err != nil {
			return nil, false, err
		}
	}
	return p, true, nil
}

// Write stores the payload under the object ID, replacing any previous payload.
func (s *Store) Write(objectID blocks.ObjectID, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ReadOnly {
		return errors.WithStack(ErrReadOnly)
	}
	return s.write(objectID, p)
}

func (s *Store) write(objectID blocks.ObjectID, p []byte) error {
	if int64(len(p)) > math.MaxInt32 {
		return errors.Errorf("payload too big: %d bytes", len(p))
	}

	ob := &blocks.ObjectBlock{
		ObjectID: objectID,
		Size:     int32(len(p)),
	}
	s.delete(objectID)
	var err error
	ob.Blocks, err = s.findNewPos(blocks.BlockCount(ob.Size))
	if err != nil {
		return err
	}

	for i, offset := range ob.Blocks {
		chunk := p[int64(i)*blocks.BlockSize:]
		if int64(len(chunk)) > blocks.BlockSize {
			chunk = chunk[:blocks.BlockSize]
		}
		if err := s.store.WriteAt(offset, chunk); err != nil {
			return err
		}
	}

	if err := s.index.insert(ob); err != nil {
		return err
	}
	if objectID > s.lastObjectID {
		s.lastObjectID = objectID
	}
	return nil
}

// Delete removes the object and returns its block offsets to free space.
// The removed record is returned, or nil if the object did not exist.
func (s *Store) Delete(objectID blocks.ObjectID) (*blocks.ObjectBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ReadOnly {
		return nil, errors.WithStack(ErrReadOnly)
	}
	return s.delete(objectID), nil
}

func (s *Store) delete(objectID blocks.ObjectID) *blocks.ObjectBlock {
	ob := s.index.remove(objectID)
	if ob == nil {
		return nil
	}
	s.free.InsertMany(ob.Blocks)
	return ob
}

// DeleteBlocks returns the block offsets to free space.
func (s *Store) DeleteBlocks(offsets []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ReadOnly {
		return errors.WithStack(ErrReadOnly)
	}
	s.free.InsertMany(offsets)
	return nil
}

// Reserve claims the object ID without storing any payload.
func (s *Store) Reserve(objectID blocks.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ReadOnly {
		return errors.WithStack(ErrReadOnly)
	}

	if err := s.index.insert(&blocks.ObjectBlock{ObjectID: objectID}); err != nil {
		return err
	}
	if objectID > s.lastObjectID {
		s.lastObjectID = objectID
	}
	return nil
}

// FileLen returns the current byte length of the backing file.
func (s *Store) FileLen() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.Len()
}

// Objects returns a copy of all object records in ascending object ID order.
func (s *Store) Objects() []blocks.ObjectBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]blocks.ObjectBlock, 0, s.index.len())
	for _, ob := range s.index.ascending() {
		copied := *ob
		copied.Blocks = append([]int64(nil), ob.Blocks...)
		objects = append(objects, copied)
	}
	return objects
}

// FreeOffsets returns a copy of all free block offsets in ascending order.
func (s *Store) FreeOffsets() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.free.Ascending()
}
