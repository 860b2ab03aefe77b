package objectstore

import (
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/outofforest/capsule/blocks"
)

var (
	_ io.Reader = &Stream{}
	_ io.Writer = &Stream{}
	_ io.Seeker = &Stream{}
)

// Stream is a seekable byte stream over the payload of one object. The payload
// is logically contiguous but physically scattered across blocks; the stream
// translates positions and grows or shrinks the block list on demand.
//
// A stream borrows the store's file handle; every operation is positioned, so
// streams over distinct objects may coexist.
type Stream struct {
	store *Store
	ob    *blocks.ObjectBlock
	pos   int64
}

// OpenStream opens a stream over the object. On a writable store a missing
// object is created empty; on a read-only store it is an error.
func (s *Store) OpenStream(objectID blocks.ObjectID) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, exists := s.index.get(objectID)
	if !exists {
		if s.opts.ReadOnly {
			return nil, errors.Wrapf(ErrObjectNotFound, "object ID: %d", objectID)
		}
		ob = &blocks.ObjectBlock{ObjectID: objectID}
		if err := s.index.insert(ob); err != nil {
			return nil, err
		}
		if objectID > s.lastObjectID {
			s.lastObjectID = objectID
		}
	}

	return &Stream{
		store: s,
		ob:    ob,
	}, nil
}

// ObjectID returns the ID of the object the stream is bound to.
func (st *Stream) ObjectID() blocks.ObjectID {
	return st.ob.ObjectID
}

// Len returns the current byte length of the object.
func (st *Stream) Len() int64 {
	st.store.mu.RLock()
	defer st.store.mu.RUnlock()

	return int64(st.ob.Size)
}

// Read reads up to len(p) bytes from the current position.
func (st *Stream) Read(p []byte) (int, error) {
	st.store.mu.RLock()
	defer st.store.mu.RUnlock()

	if len(p) == 0 {
		return 0, nil
	}

	count := int64(st.ob.Size) - st.pos
	if count > int64(len(p)) {
		count = int64(len(p))
	}
	if count <= 0 || st.pos/blocks.BlockSize >= int64(len(st.ob.Blocks)) {
		return 0, io.EOF
	}

	var read int64
	for read < count {
		inBlock := st.pos % blocks.BlockSize
		n := blocks.BlockSize - inBlock
		if n > count-read {
			n = count - read
		}
		offset := st.ob.Blocks[st.pos/blocks.BlockSize] + inBlock
		if err := st.store.store.ReadAt(offset, p[read:read+n]); err != nil {
			return int(read), err
		}
		st.pos += n
		read += n
	}
	return int(read), nil
}

// Write writes len(p) bytes at the current position, extending the object when
// the write reaches past its last block.
func (st *Stream) Write(p []byte) (int, error) {
	st.store.mu.Lock()
	defer st.store.mu.Unlock()

	if st.store.opts.ReadOnly {
		return 0, errors.WithStack(ErrReadOnly)
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := st.pos + int64(len(p))
	if (end-1)/blocks.BlockSize >= int64(len(st.ob.Blocks)) {
		if err := st.setLen(end); err != nil {
			return 0, err
		}
	}

	var written int64
	for written < int64(len(p)) {
		inBlock := st.pos % blocks.BlockSize
		n := blocks.BlockSize - inBlock
		if n > int64(len(p))-written {
			n = int64(len(p)) - written
		}
		offset := st.ob.Blocks[st.pos/blocks.BlockSize] + inBlock
		if err := st.store.store.WriteAt(offset, p[written:written+n]); err != nil {
			return int(written), err
		}
		st.pos += n
		written += n
	}

	if st.pos > int64(st.ob.Size) {
		st.ob.Size = int32(st.pos)
	}
	return int(written), nil
}

// Seek sets the position. The End origin subtracts: Seek(n, io.SeekEnd)
// addresses n bytes before the end. This matches the on-disk format's users
// and differs from the usual library convention. Positions past the end clamp
// to the end; positions before 0 are an error.
func (st *Stream) Seek(offset int64, whence int) (int64, error) {
	st.store.mu.RLock()
	defer st.store.mu.RUnlock()

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = st.pos + offset
	case io.SeekEnd:
		pos = int64(st.ob.Size) - offset
	default:
		return 0, errors.Errorf("invalid whence: %d", whence)
	}

	if pos < 0 {
		return 0, errors.WithStack(io.ErrUnexpectedEOF)
	}
	if pos > int64(st.ob.Size) {
		pos = int64(st.ob.Size)
	}
	st.pos = pos
	return pos, nil
}

// SetLen grows or shrinks the object to the requested byte length. Shrinking
// returns the blocks past the new length to free space; growing allocates
// blocks placed after the object's current last block where possible.
func (st *Stream) SetLen(size int64) error {
	st.store.mu.Lock()
	defer st.store.mu.Unlock()

	if st.store.opts.ReadOnly {
		return errors.WithStack(ErrReadOnly)
	}
	return st.setLen(size)
}

func (st *Stream) setLen(size int64) error {
	if size < 0 || size > math.MaxInt32 {
		return errors.Errorf("invalid object length: %d", size)
	}

	desired := blocks.BlockCount(int32(size))
	current := len(st.ob.Blocks)
	switch {
	case desired < current:
		st.store.free.InsertMany(st.ob.Blocks[desired:])
		st.ob.Blocks = st.ob.Blocks[:desired]
	case desired > current:
		after := int64(-1)
		if current > 0 {
			after = st.ob.Blocks[current-1]
		}
		appended, err := st.store.findNewPosAfter(desired-current, after)
		if err != nil {
			return err
		}
		st.ob.Blocks = append(st.ob.Blocks, appended...)
	}
	st.ob.Size = int32(size)
	return nil
}

// Flush forces written data to the device.
func (st *Stream) Flush() error {
	return st.store.store.Sync()
}

// Close flushes the stream. The object's record and free space are persisted
// only when the store itself is closed.
func (st *Stream) Close() error {
	if st.store.opts.ReadOnly {
		return nil
	}
	return st.Flush()
}
