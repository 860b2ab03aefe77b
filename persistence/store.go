package persistence

import (
	"io"

	"github.com/pkg/errors"
)

// Dev is the interface required from the device.
type Dev interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Size() int64
	Truncate(size int64) error
}

// Store represents persistent storage addressed by absolute byte offsets.
type Store struct {
	dev Dev
}

// OpenStore opens the persistent store.
func OpenStore(dev Dev) *Store {
	return &Store{
		dev: dev,
	}
}

// Len returns the current byte length of the device.
func (s *Store) Len() int64 {
	return s.dev.Size()
}

// SetLen grows or shrinks the device to the requested byte length.
func (s *Store) SetLen(size int64) error {
	if size < 0 {
		return errors.Errorf("invalid length: %d", size)
	}
	return errors.WithStack(s.dev.Truncate(size))
}

// ReadAt fills p with bytes starting at the offset. Bytes past the end of the
// device read as zeros, so a partial trailing block decodes the same as a
// zero-padded one.
func (s *Store) ReadAt(offset int64, p []byte) error {
	if offset < 0 {
		return errors.Errorf("invalid offset: %d", offset)
	}
	n, err := s.dev.ReadAt(p, offset)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return errors.WithStack(err)
		}
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
	}
	return nil
}

// WriteAt writes p at the offset, growing the device when writing past its end.
func (s *Store) WriteAt(offset int64, p []byte) error {
	if offset < 0 {
		return errors.Errorf("invalid offset: %d", offset)
	}
	if _, err := s.dev.WriteAt(p, offset); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Sync forces data to be written to the dev.
func (s *Store) Sync() error {
	return errors.WithStack(s.dev.Sync())
}
