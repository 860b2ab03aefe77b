package objectstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/capsule/blocks"
	"github.com/outofforest/capsule/pkg/memdev"
)

func TestFreshFile(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.True(s.IsEmpty())
	requireT.False(s.Contains(5))

	payload := bytes.Repeat([]byte{0xAA}, 300)
	requireT.NoError(s.Write(5, payload))

	requireT.False(s.IsEmpty())
	requireT.True(s.Contains(5))

	read, exists, err := s.Read(5)
	requireT.NoError(err)
	requireT.True(exists)
	requireT.Equal(payload, read)

	ob, exists := s.index.get(5)
	requireT.True(exists)
	requireT.Len(ob.Blocks, 2)
}

func TestReopen(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	payload := bytes.Repeat([]byte{0xAA}, 300)
	requireT.NoError(s.Write(5, payload))
	requireT.NoError(s.Close())

	s, err = Open(dev, Options{})
	requireT.NoError(err)

	read, exists, err := s.Read(5)
	requireT.NoError(err)
	requireT.True(exists)
	requireT.Equal(payload, read)
}

func TestReadMissing(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	read, exists, err := s.Read(42)
	requireT.NoError(err)
	requireT.False(exists)
	requireT.Nil(read)
}

func TestDeletedBlockIsReused(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Write(7, bytes.Repeat([]byte{0x01}, 256)))

	ob, exists := s.index.get(7)
	requireT.True(exists)
	requireT.Len(ob.Blocks, 1)
	reusable := ob.Blocks[0]

	deleted, err := s.Delete(7)
	requireT.NoError(err)
	requireT.NotNil(deleted)
	requireT.Equal([]int64{reusable}, s.FreeOffsets())

	requireT.NoError(s.Write(8, bytes.Repeat([]byte{0x02}, 256)))

	ob, exists = s.index.get(8)
	requireT.True(exists)
	requireT.Equal([]int64{reusable}, ob.Blocks)
	requireT.Empty(s.FreeOffsets())
}

func TestDeleteIsIdempotent(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Write(7, bytes.Repeat([]byte{0x01}, 300)))

	deleted, err := s.Delete(7)
	requireT.NoError(err)
	requireT.NotNil(deleted)

	free := s.FreeOffsets()

	deleted, err = s.Delete(7)
	requireT.NoError(err)
	requireT.Nil(deleted)
	requireT.Equal(free, s.FreeOffsets())
	requireT.False(s.Contains(7))
}

func TestOverwriteReleasesBlocks(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Write(5, bytes.Repeat([]byte{0x01}, 512)))

	ob, _ := s.index.get(5)
	first := ob.Blocks[0]
	second := ob.Blocks[1]

	payload := bytes.Repeat([]byte{0x02}, 256)
	requireT.NoError(s.Write(5, payload))

	// The old blocks went to free space and the lowest one was taken back.
	ob, _ = s.index.get(5)
	requireT.Equal([]int64{first}, ob.Blocks)
	requireT.Equal([]int64{second}, s.FreeOffsets())

	read, exists, err := s.Read(5)
	requireT.NoError(err)
	requireT.True(exists)
	requireT.Equal(payload, read)
}

func TestDeleteBlocks(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.DeleteBlocks([]int64{512, 256}))
	requireT.NoError(s.DeleteBlocks([]int64{256}))
	requireT.Equal([]int64{256, 512}, s.FreeOffsets())
}

func TestReserve(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Reserve(blocks.RootObjectID))
	requireT.True(s.Contains(blocks.RootObjectID))
	requireT.ErrorIs(s.Reserve(blocks.RootObjectID), ErrObjectExists)

	read, exists, err := s.Read(blocks.RootObjectID)
	requireT.NoError(err)
	requireT.True(exists)
	requireT.Empty(read)

	requireT.NoError(s.Reserve(10))

	objectID, err := s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(11, objectID)
}

func TestWriteRaisesIDWatermark(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Write(100, []byte{0x01}))

	objectID, err := s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(101, objectID)
}

func TestWatermarkSurvivesReopen(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Write(100, []byte{0x01}))
	requireT.NoError(s.Close())

	s, err = Open(dev, Options{})
	requireT.NoError(err)

	objectID, err := s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(101, objectID)
}

func TestReadOnly(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)
	requireT.NoError(s.Write(5, []byte{0x01, 0x02}))
	requireT.NoError(s.Close())

	s, err = Open(dev, Options{ReadOnly: true})
	requireT.NoError(err)

	read, exists, err := s.Read(5)
	requireT.NoError(err)
	requireT.True(exists)
	requireT.Equal([]byte{0x01, 0x02}, read)

	requireT.ErrorIs(s.Write(6, []byte{0x03}), ErrReadOnly)
	requireT.ErrorIs(s.Reserve(6), ErrReadOnly)
	requireT.ErrorIs(s.DeleteBlocks([]int64{512}), ErrReadOnly)

	_, err = s.Delete(5)
	requireT.ErrorIs(err, ErrReadOnly)

	_, err = s.NewObjectID()
	requireT.ErrorIs(err, ErrReadOnly)

	fileLen := s.FileLen()
	requireT.NoError(s.Close())
	requireT.Equal(fileLen, dev.Size())
}

func TestSaveChangesHook(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)

	fired := 0
	var s *Store
	s, err := Open(dev, Options{
		SaveChanges: func() error {
			fired++
			return s.Write(blocks.RootObjectID, []byte("root"))
		},
	})
	requireT.NoError(err)

	requireT.NoError(s.Write(5, []byte{0x01}))
	requireT.NoError(s.Close())
	requireT.Equal(1, fired)

	s, err = Open(dev, Options{})
	requireT.NoError(err)

	read, exists, err := s.Read(blocks.RootObjectID)
	requireT.NoError(err)
	requireT.True(exists)
	requireT.Equal([]byte("root"), read)
}

func TestObjectsAndFreeOffsets(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Write(9, bytes.Repeat([]byte{0x01}, 100)))
	requireT.NoError(s.Write(3, bytes.Repeat([]byte{0x02}, 300)))
	requireT.NoError(s.Write(6, bytes.Repeat([]byte{0x03}, 10)))

	_, err = s.Delete(6)
	requireT.NoError(err)

	objects := s.Objects()
	requireT.Len(objects, 3)
	requireT.EqualValues(blocks.IndexObjectID, objects[0].ObjectID)
	requireT.EqualValues(3, objects[1].ObjectID)
	requireT.EqualValues(9, objects[2].ObjectID)
	requireT.Len(s.FreeOffsets(), 1)
}
