package memdev

import (
	"io"

	"github.com/pkg/errors"
)

var (
	_ io.ReaderAt = &MemDev{}
	_ io.WriterAt = &MemDev{}
)

// MemDev simulates device io operations in memory. It grows automatically when
// written past its end.
type MemDev struct {
	data []byte
}

// New returns new memdev.
func New(size int64) *MemDev {
	return &MemDev{
		data: make([]byte, size),
	}
}

// ReadAt reads data from the memdev.
func (md *MemDev) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("invalid offset: %d", off)
	}
	if off >= int64(len(md.data)) {
		return 0, io.EOF
	}
	n := copy(p, md.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes data to the memdev, growing it when needed.
func (md *MemDev) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("invalid offset: %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(md.data)) {
		data := make([]byte, end)
		copy(data, md.data)
		md.data = data
	}
	return copy(md.data[off:], p), nil
}

// Truncate grows or shrinks the memdev to the requested size.
func (md *MemDev) Truncate(size int64) error {
	if size < 0 {
		return errors.Errorf("invalid size: %d", size)
	}
	switch {
	case size <= int64(len(md.data)):
		md.data = md.data[:size]
	default:
		data := make([]byte, size)
		copy(data, md.data)
		md.data = data
	}
	return nil
}

// Size returns the byte size of the memdev.
func (md *MemDev) Size() int64 {
	return int64(len(md.data))
}

// Sync does nothing, data are always in memory.
func (md *MemDev) Sync() error {
	return nil
}
