package filedev

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

var (
	_ io.ReaderAt = &FileDev{}
	_ io.WriterAt = &FileDev{}
)

// FileDev uses file handle as a device.
type FileDev struct {
	file *os.File
}

// New returns new filedev.
func New(file *os.File) *FileDev {
	return &FileDev{
		file: file,
	}
}

// ReadAt reads data from the file.
func (fd *FileDev) ReadAt(p []byte, off int64) (int, error) {
	n, err := fd.file.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errors.WithStack(err)
	}
	return n, err
}

// WriteAt writes data to the file.
func (fd *FileDev) WriteAt(p []byte, off int64) (int, error) {
	n, err := fd.file.WriteAt(p, off)
	if err != nil {
		return n, errors.WithStack(err)
	}
	return n, nil
}

// Truncate grows or shrinks the file to the requested size.
func (fd *FileDev) Truncate(size int64) error {
	return errors.WithStack(fd.file.Truncate(size))
}

// Size returns the byte size of the file.
func (fd *FileDev) Size() int64 {
	info, err := fd.file.Stat()
	if err != nil {
		panic(errors.WithStack(err))
	}
	return info.Size()
}

// Sync syncs data to the file.
func (fd *FileDev) Sync() error {
	return errors.WithStack(fd.file.Sync())
}

// Close closes the underlying file.
func (fd *FileDev) Close() error {
	return errors.WithStack(fd.file.Close())
}
