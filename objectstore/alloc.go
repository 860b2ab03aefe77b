package objectstore

import (
	"math"

	"github.com/pkg/errors"

	"github.com/outofforest/capsule/blocks"
)

// NewObjectID returns the next unused object ID. IDs advance monotonically and
// wrap to the negative range once the positive one is exhausted.
func (s *Store) NewObjectID() (blocks.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ReadOnly {
		return 0, errors.WithStack(ErrReadOnly)
	}
	return s.newObjectID()
}

func (s *Store) newObjectID() (blocks.ObjectID, error) {
	objectID := s.lastObjectID + 1
	if objectID == math.MaxInt64 {
		objectID = math.MinInt64
	}
	if objectID == 0 {
		// The counter came full circle. Scan for a hole, positive range first.
		found := false
		for candidate := blocks.ObjectID(0); candidate < math.MaxInt64; candidate++ {
			if !s.index.contains(candidate) {
				objectID = candidate
				found = true
				break
			}
		}
		if !found {
			for candidate := blocks.ObjectID(math.MinInt64); candidate < -1; candidate++ {
				if !s.index.contains(candidate) {
					objectID = candidate
					found = true
					break
				}
			}
		}
		if !found {
			return 0, errors.WithStack(ErrObjectIDsExhausted)
		}
	}
	s.lastObjectID = objectID
	return objectID, nil
}

// findNewPos chooses offsets for count new blocks. Free space is drained first,
// preferring a physically contiguous run; the file is extended otherwise.
func (s *Store) findNewPos(count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}

	if count == 1 {
		if offset, exists := s.free.PopFirst(); exists {
			return []int64{offset}, nil
		}
	}

	if count > s.free.Len() {
		return s.appendAtEnd(count)
	}

	offsets := s.free.Ascending()
	run := -1
	for i := 0; i+count <= len(offsets); i++ {
		contiguous := true
		for j := 1; j < count; j++ {
			if offsets[i+j] != offsets[i]+int64(j)*blocks.BlockSize {
				contiguous = false
				break
			}
		}
		if contiguous {
			run = i
			break
		}
	}

	var chosen []int64
	if run >= 0 {
		chosen = offsets[run : run+count]
	} else {
		// No contiguous run of the required length exists; take the first
		// count offsets even though they are scattered.
		chosen = offsets[:count]
	}
	for _, offset := range chosen {
		s.free.Remove(offset)
	}
	return chosen, nil
}

// findNewPosAfter chooses offsets for count new blocks which must all lie
// strictly after the given offset. Pass -1 when there is no predecessor.
func (s *Store) findNewPosAfter(count int, after int64) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}

	chosen := s.free.After(after)
	if len(chosen) > count {
		chosen = chosen[:count]
	}
	for _, offset := range chosen {
		s.free.Remove(offset)
	}
	if len(chosen) < count {
		appended, err := s.appendAtEnd(count - len(chosen))
		if err != nil {
			return nil, err
		}
		chosen = append(chosen, appended...)
	}
	return chosen, nil
}

func (s *Store) appendAtEnd(count int) ([]int64, error) {
	fileLen := s.store.Len()
	end := (fileLen + blocks.BlockSize - 1) / blocks.BlockSize * blocks.BlockSize
	if end < blocks.BlockSize {
		// Block 0 is reserved for the index chain head.
		end = blocks.BlockSize
	}

	offsets := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		offsets = append(offsets, end+int64(i)*blocks.BlockSize)
	}
	s.free.DropAtOrAfter(fileLen)

	// Cover the handed-out blocks immediately so a later allocation cannot
	// return the same tail before they are written.
	if err := s.store.SetLen(end + int64(count)*blocks.BlockSize); err != nil {
		return nil, err
	}

	return offsets, nil
}
