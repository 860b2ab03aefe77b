package objectstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/capsule/blocks"
	"github.com/outofforest/capsule/pkg/memdev"
)

func TestFindNewPosPrefersContiguousRun(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(1280)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.InsertMany([]int64{256, 512, 1024})

	offsets, err := s.findNewPos(2)
	requireT.NoError(err)
	requireT.Equal([]int64{256, 512}, offsets)
	requireT.Equal([]int64{1024}, s.FreeOffsets())
}

func TestFindNewPosFallsBackToScatteredOffsets(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(2048)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.InsertMany([]int64{256, 768, 1280})

	offsets, err := s.findNewPos(2)
	requireT.NoError(err)
	requireT.Equal([]int64{256, 768}, offsets)
	requireT.Equal([]int64{1280}, s.FreeOffsets())
}

func TestFindNewPosPopsFirstForSingleBlock(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(1280)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.InsertMany([]int64{512, 768})

	offsets, err := s.findNewPos(1)
	requireT.NoError(err)
	requireT.Equal([]int64{512}, offsets)
	requireT.Equal([]int64{768}, s.FreeOffsets())
}

func TestFindNewPosAppendsWhenFreeSpaceIsShort(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(1280)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.Insert(512)

	offsets, err := s.findNewPos(3)
	requireT.NoError(err)
	requireT.Equal([]int64{1280, 1536, 1792}, offsets)
	requireT.Equal([]int64{512}, s.FreeOffsets())
	requireT.EqualValues(2048, dev.Size())
}

func TestFindNewPosDropsStaleFreeOffsetsBeyondEOF(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(1280)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.InsertMany([]int64{512, 1536})

	offsets, err := s.findNewPos(3)
	requireT.NoError(err)
	requireT.Equal([]int64{1280, 1536, 1792}, offsets)
	requireT.Equal([]int64{512}, s.FreeOffsets())
}

func TestFindNewPosReservesBlockZero(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	offsets, err := s.findNewPos(1)
	requireT.NoError(err)
	requireT.Equal([]int64{256}, offsets)
}

func TestFindNewPosAfter(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(1280)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.InsertMany([]int64{256, 768, 1024})

	offsets, err := s.findNewPosAfter(2, 512)
	requireT.NoError(err)
	requireT.Equal([]int64{768, 1024}, offsets)
	requireT.Equal([]int64{256}, s.FreeOffsets())
}

func TestFindNewPosAfterAppendsWhenShort(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(1280)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.free.InsertMany([]int64{256, 1024})

	offsets, err := s.findNewPosAfter(3, 512)
	requireT.NoError(err)
	requireT.Equal([]int64{1024, 1280, 1536}, offsets)
	requireT.Equal([]int64{256}, s.FreeOffsets())
}

func TestNewObjectIDAdvances(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	objectID, err := s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(1, objectID)

	objectID, err = s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(2, objectID)
}

func TestNewObjectIDWrapsToNegativeRange(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	s.lastObjectID = math.MaxInt64 - 1

	objectID, err := s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(blocks.ObjectID(math.MinInt64), objectID)

	objectID, err = s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(blocks.ObjectID(math.MinInt64+1), objectID)
}

func TestNewObjectIDScansForHole(t *testing.T) {
	requireT := require.New(t)

	dev := memdev.New(0)
	s, err := Open(dev, Options{})
	requireT.NoError(err)

	requireT.NoError(s.Reserve(1))
	requireT.NoError(s.Reserve(2))

	// The counter is about to produce 0, which is reserved for the index, so
	// the allocator scans for the first hole instead.
	s.lastObjectID = -1

	objectID, err := s.NewObjectID()
	requireT.NoError(err)
	requireT.EqualValues(3, objectID)
}
