package keystore

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/capsule/blocks"
)

// entry links a name to the object holding its compressed value.
type entry struct {
	ObjectID    blocks.ObjectID
	Fingerprint uint64
	Size        int32
}

// The directory is the payload of the root object: int32 entry count, then per
// entry a 7-bit-length-prefixed UTF-8 name, int64 object ID, uint64 content
// fingerprint and int32 uncompressed size. All integers are little-endian.

func encodeDirectory(names []string, entries map[string]entry) []byte {
	p := make([]byte, 0, 4+len(names)*32)
	p = binary.LittleEndian.AppendUint32(p, uint32(len(names)))
	for _, name := range names {
		e := entries[name]
		p = binary.AppendUvarint(p, uint64(len(name)))
		p = append(p, name...)
		p = binary.LittleEndian.AppendUint64(p, uint64(e.ObjectID))
		p = binary.LittleEndian.AppendUint64(p, e.Fingerprint)
		p = binary.LittleEndian.AppendUint32(p, uint32(e.Size))
	}
	return p
}

func decodeDirectory(p []byte) (map[string]entry, error) {
	if len(p) < 4 {
		return nil, errors.Errorf("directory too short: %d bytes", len(p))
	}
	count := int32(binary.LittleEndian.Uint32(p))
	p = p[4:]
	if count < 0 {
		return nil, errors.Errorf("negative directory entry count: %d", count)
	}

	entries := make(map[string]entry, count)
	for i := int32(0); i < count; i++ {
		nameLen, n := binary.Uvarint(p)
		if n <= 0 || uint64(len(p)-n) < nameLen {
			return nil, errors.New("truncated directory entry name")
		}
		p = p[n:]
		name := string(p[:nameLen])
		p = p[nameLen:]

		if len(p) < 20 {
			return nil, errors.Errorf("truncated directory entry %q", name)
		}
		entries[name] = entry{
			ObjectID:    blocks.ObjectID(binary.LittleEndian.Uint64(p)),
			Fingerprint: binary.LittleEndian.Uint64(p[8:]),
			Size:        int32(binary.LittleEndian.Uint32(p[16:])),
		}
		p = p[20:]
	}
	return entries, nil
}
