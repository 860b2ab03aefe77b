package objectstore

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/outofforest/capsule/blocks"
)

// objectIndex keeps object records ordered ascending by object ID. The order
// must be stable across serialization so a reloaded store reproduces the same
// ID watermark.
type objectIndex struct {
	objects map[blocks.ObjectID]*blocks.ObjectBlock
	ids     []blocks.ObjectID
}

func newObjectIndex() *objectIndex {
	return &objectIndex{
		objects: map[blocks.ObjectID]*blocks.ObjectBlock{},
	}
}

func (oi *objectIndex) len() int {
	return len(oi.ids)
}

func (oi *objectIndex) contains(objectID blocks.ObjectID) bool {
	_, exists := oi.objects[objectID]
	return exists
}

func (oi *objectIndex) get(objectID blocks.ObjectID) (*blocks.ObjectBlock, bool) {
	ob, exists := oi.objects[objectID]
	return ob, exists
}

func (oi *objectIndex) insert(ob *blocks.ObjectBlock) error {
	if _, exists := oi.objects[ob.ObjectID]; exists {
		return errors.Wrapf(ErrObjectExists, "object ID: %d", ob.ObjectID)
	}
	i, _ := slices.BinarySearch(oi.ids, ob.ObjectID)
	oi.ids = slices.Insert(oi.ids, i, ob.ObjectID)
	oi.objects[ob.ObjectID] = ob
	return nil
}

func (oi *objectIndex) remove(objectID blocks.ObjectID) *blocks.ObjectBlock {
	ob, exists := oi.objects[objectID]
	if !exists {
		return nil
	}
	delete(oi.objects, objectID)
	i, _ := slices.BinarySearch(oi.ids, objectID)
	oi.ids = slices.Delete(oi.ids, i, i+1)
	return ob
}

func (oi *objectIndex) ascending() []*blocks.ObjectBlock {
	objects := make([]*blocks.ObjectBlock, 0, len(oi.ids))
	for _, objectID := range oi.ids {
		objects = append(objects, oi.objects[objectID])
	}
	return objects
}
