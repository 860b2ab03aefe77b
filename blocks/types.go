package blocks

import (
	"github.com/pkg/errors"
)

// BlockSize is the size of the data unit used by capsule.
const BlockSize int64 = 256

// ObjectID is the ID of the object in capsule.
type ObjectID int64

// Reserved object IDs.
const (
	// IndexObjectID is the object holding the serialized index chain, rooted at offset 0.
	IndexObjectID ObjectID = 0

	// RootObjectID is the object reserved for the application root.
	RootObjectID ObjectID = 1
)

// BlockCount returns the number of blocks required to store n bytes.
func BlockCount(n int32) int {
	return int((int64(n) + BlockSize - 1) / BlockSize)
}

// ObjectBlock locates the payload of one object: its byte size and the ordered
// list of block offsets holding it. An object with Size 0 owns no blocks and
// represents a reserved ID.
type ObjectBlock struct {
	ObjectID ObjectID
	Size     int32
	Blocks   []int64
}

// Validate verifies that the block list is consistent with the byte size.
func (ob *ObjectBlock) Validate() error {
	if ob.Size < 0 {
		return errors.Errorf("object %d: negative size: %d", ob.ObjectID, ob.Size)
	}
	if count := BlockCount(ob.Size); count != len(ob.Blocks) {
		return errors.Errorf("object %d: size %d requires %d blocks, has %d",
			ob.ObjectID, ob.Size, count, len(ob.Blocks))
	}
	for _, off := range ob.Blocks {
		if off < 0 || off%BlockSize != 0 {
			return errors.Errorf("object %d: misaligned block offset: %d", ob.ObjectID, off)
		}
	}
	return nil
}
