package objectstore

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/capsule/blocks"
)

// chainPointerSize is the size of the continuation pointer at the tail of a
// chain block.
const chainPointerSize int64 = 8

// oidWriter serializes the index into a chain of blocks rooted at offset 0.
// A scalar is written in place only if it fits before the space reserved for
// the continuation pointer; otherwise the pointer is emitted and writing
// resumes in the next chain block.
type oidWriter struct {
	s       *Store
	pos     int64
	fileLen int64
	chain   []int64
	scratch [8]byte
}

func (w *oidWriter) writeInt32(v int32) error {
	if err := w.ensure(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w.scratch[:4], uint32(v))
	if err := w.s.store.WriteAt(w.pos, w.scratch[:4]); err != nil {
		return err
	}
	w.pos += 4
	return nil
}

func (w *oidWriter) writeInt64(v int64) error {
	if err := w.ensure(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w.scratch[:8], uint64(v))
	if err := w.s.store.WriteAt(w.pos, w.scratch[:8]); err != nil {
		return err
	}
	w.pos += 8
	return nil
}

func (w *oidWriter) ensure(size int64) error {
	left := blocks.BlockSize - w.pos%blocks.BlockSize
	if left >= size+chainPointerSize {
		return nil
	}

	var next int64
	switch {
	case w.s.free.Len() > 0:
		next, _ = w.s.free.PopFirst()
	case w.pos == w.fileLen:
		next = w.pos + chainPointerSize
		w.fileLen += blocks.BlockSize
		if err := w.s.store.SetLen(w.fileLen); err != nil {
			return err
		}
	default:
		next = w.fileLen
		w.fileLen += blocks.BlockSize
		if err := w.s.store.SetLen(w.fileLen); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint64(w.scratch[:8], uint64(next))
	if err := w.s.store.WriteAt(w.pos, w.scratch[:8]); err != nil {
		return err
	}
	w.pos = next
	w.chain = append(w.chain, next)
	return nil
}

// oidReader decodes the chain written by oidWriter. Out-of-range continuation
// pointers are repaired to the block following the previous chain block, the
// way they would have been laid out by a clean save.
type oidReader struct {
	s         *Store
	pos       int64
	fileLen   int64
	prevChain int64
	chain     []int64
	scratch   [8]byte
}

func (r *oidReader) readInt32() (int32, error) {
	if err := r.ensure(4); err != nil {
		return 0, err
	}
	if err := r.s.store.ReadAt(r.pos, r.scratch[:4]); err != nil {
		return 0, err
	}
	r.pos += 4
	return int32(binary.LittleEndian.Uint32(r.scratch[:4])), nil
}

func (r *oidReader) readInt64() (int64, error) {
	if err := r.ensure(8); err != nil {
		return 0, err
	}
	if err := r.s.store.ReadAt(r.pos, r.scratch[:8]); err != nil {
		return 0, err
	}
	r.pos += 8
	return int64(binary.LittleEndian.Uint64(r.scratch[:8])), nil
}

func (r *oidReader) ensure(size int64) error {
	left := blocks.BlockSize - r.pos%blocks.BlockSize
	if left >= size+chainPointerSize {
		return nil
	}

	if r.pos+chainPointerSize > r.fileLen {
		return errors.Wrapf(ErrCorrupted, "chain pointer at %d lies past the end of the file", r.pos)
	}
	if err := r.s.store.ReadAt(r.pos, r.scratch[:8]); err != nil {
		return err
	}
	next := int64(binary.LittleEndian.Uint64(r.scratch[:8]))

	// Chain offsets are strictly increasing when written, so a pointer at or
	// before the previous chain block is as impossible as one past the end.
	if next <= r.prevChain || next > r.fileLen {
		repaired := r.prevChain + blocks.BlockSize
		r.s.opts.Logger.Infof("repairing index chain pointer at %d: %d -> %d", r.pos, next, repaired)
		next = repaired
	}
	if next+size > r.fileLen {
		return errors.Wrapf(ErrCorrupted, "chain block %d lies past the end of the file", next)
	}

	r.chain = append(r.chain, next)
	r.prevChain = next
	r.pos = next
	return nil
}

// saveOIDs compacts the file and rewrites the index chain starting at block 0.
func (s *Store) saveOIDs() error {
	// Release the previous chain. Block 0 always heads the new one, so it must
	// never be handed out by the allocator.
	s.delete(blocks.IndexObjectID)
	s.free.Remove(0)

	var lastData int64
	for _, ob := range s.index.ascending() {
		for _, offset := range ob.Blocks {
			if offset > lastData {
				lastData = offset
			}
		}
	}
	s.free.DropAtOrAfter(lastData + 1)

	fileLen := lastData + blocks.BlockSize
	if over := fileLen % blocks.BlockSize; over != 0 {
		fileLen += blocks.BlockSize - over
	}
	if err := s.store.SetLen(fileLen); err != nil {
		return err
	}

	// Restore disjointness between free space and live blocks before the free
	// list is persisted.
	for _, ob := range s.index.ascending() {
		for _, offset := range ob.Blocks {
			if s.free.Remove(offset) {
				s.opts.Logger.Infof("dropping live block offset %d from free space", offset)
			}
		}
	}

	w := &oidWriter{
		s:       s,
		fileLen: fileLen,
		chain:   []int64{0},
	}

	if err := w.writeInt32(int32(s.index.len())); err != nil {
		return err
	}
	for _, ob := range s.index.ascending() {
		if err := w.writeInt64(int64(ob.ObjectID)); err != nil {
			return err
		}
		if err := w.writeInt32(ob.Size); err != nil {
			return err
		}
		if err := w.writeInt32(int32(len(ob.Blocks))); err != nil {
			return err
		}
		for _, offset := range ob.Blocks {
			if err := w.writeInt64(offset); err != nil {
				return err
			}
		}
	}

	// Snapshot the free list: continuation pointers may pop free space while
	// the list is being written. The load path drops chain blocks from free
	// space again, so a popped offset listed here is harmless.
	freeOffsets := s.free.Ascending()
	if err := w.writeInt32(int32(len(freeOffsets))); err != nil {
		return err
	}
	for _, offset := range freeOffsets {
		if err := w.writeInt64(offset); err != nil {
			return err
		}
	}

	return s.index.insert(&blocks.ObjectBlock{
		ObjectID: blocks.IndexObjectID,
		Size:     int32(len(w.chain)) * int32(blocks.BlockSize),
		Blocks:   w.chain,
	})
}

// readOIDs loads the index and the free list from the chain rooted at block 0.
func (s *Store) readOIDs() error {
	fileLen := s.store.Len()
	if fileLen == 0 {
		return s.index.insert(&blocks.ObjectBlock{
			ObjectID: blocks.IndexObjectID,
			Size:     int32(blocks.BlockSize),
			Blocks:   []int64{0},
		})
	}

	if over := fileLen % blocks.BlockSize; over != 0 {
		fileLen += blocks.BlockSize - over
		if !s.opts.ReadOnly {
			if err := s.store.SetLen(fileLen); err != nil {
				return err
			}
		}
	}

	r := &oidReader{
		s:       s,
		fileLen: fileLen,
		chain:   []int64{0},
	}

	n, err := r.readInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return errors.Wrapf(ErrCorrupted, "negative object count: %d", n)
	}

	for i := int32(0); i < n; i++ {
		objectID, err := r.readInt64()
		if err != nil {
			return err
		}
		size, err := r.readInt32()
		if err != nil {
			return err
		}
		blockCount, err := r.readInt32()
		if err != nil {
			return err
		}
		if size < 0 || blockCount < 0 || blocks.BlockCount(size) != int(blockCount) {
			return errors.Wrapf(ErrCorrupted, "object %d: size %d inconsistent with block count %d",
				objectID, size, blockCount)
		}

		ob := &blocks.ObjectBlock{
			ObjectID: blocks.ObjectID(objectID),
			Size:     size,
			Blocks:   make([]int64, 0, blockCount),
		}
		for j := int32(0); j < blockCount; j++ {
			offset, err := r.readInt64()
			if err != nil {
				return err
			}
			s.free.Remove(offset)
			ob.Blocks = append(ob.Blocks, offset)
		}

		if err := s.index.insert(ob); err != nil {
			return errors.Wrapf(ErrCorrupted, "duplicate object %d in index", objectID)
		}
		if ob.ObjectID > s.lastObjectID {
			s.lastObjectID = ob.ObjectID
		}
	}

	m, err := r.readInt32()
	if err != nil {
		return err
	}
	if m < 0 {
		return errors.Wrapf(ErrCorrupted, "negative free offset count: %d", m)
	}
	for j := int32(0); j < m; j++ {
		offset, err := r.readInt64()
		if err != nil {
			return err
		}
		s.free.Insert(offset)
	}

	// Chain blocks belong to the index object, never to free space.
	for _, offset := range r.chain {
		s.free.Remove(offset)
	}

	s.index.remove(blocks.IndexObjectID)
	return s.index.insert(&blocks.ObjectBlock{
		ObjectID: blocks.IndexObjectID,
		Size:     int32(len(r.chain)) * int32(blocks.BlockSize),
		Blocks:   r.chain,
	})
}
