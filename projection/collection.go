package projection

import (
	"sort"

	"github.com/tcriess/adda/types"
)

// Collection is an ordered set of rows keyed by id. Inserting a present id is a no-op, updates replace the row
// (last write wins) and keep its position unless the ordering demands otherwise. With a less function the rows
// stay sorted; rows that compare equal keep their arrival order. Collections are not safe for concurrent use.
type Collection[T any] struct {
	key   func(T) string
	less  func(a, b T) bool
	items []T
}

func NewCollection[T any](key func(T) string, less func(a, b T) bool) *Collection[T] {
	return &Collection[T]{key: key, less: less}
}

func (c *Collection[T]) indexOf(id string) int {
	for i, item := range c.items {
		if c.key(item) == id {
			return i
		}
	}
	return -1
}

// position returns where item goes: after every row that does not sort behind it.
func (c *Collection[T]) position(item T) int {
	if c.less == nil {
		return len(c.items)
	}
	return sort.Search(len(c.items), func(i int) bool {
		return c.less(item, c.items[i])
	})
}

func (c *Collection[T]) insertAt(i int, item T) {
	var zero T
	c.items = append(c.items, zero)
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item
}

// Insert adds a row unless its id is present. It reports whether the collection changed.
func (c *Collection[T]) Insert(item T) bool {
	if c.indexOf(c.key(item)) >= 0 {
		return false
	}
	c.insertAt(c.position(item), item)
	return true
}

// Upsert replaces the row with the same id, or inserts it.
func (c *Collection[T]) Upsert(item T) {
	i := c.indexOf(c.key(item))
	if i < 0 {
		c.insertAt(c.position(item), item)
		return
	}
	if c.less == nil {
		c.items[i] = item
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.insertAt(c.position(item), item)
}

// Delete removes the row with the given id and reports whether it was present.
func (c *Collection[T]) Delete(id string) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return true
}

// Apply applies one change event whose row has already been decoded. It reports whether the collection changed.
func (c *Collection[T]) Apply(kind types.ChangeKind, id string, item T) bool {
	switch kind {
	case types.ChangeInsert:
		return c.Insert(item)
	case types.ChangeUpdate:
		c.Upsert(item)
		return true
	case types.ChangeDelete:
		return c.Delete(id)
	}
	return false
}

// Reset replaces all rows, for example with a fresh authoritative fetch. Duplicate ids keep the first row.
func (c *Collection[T]) Reset(items []T) {
	c.items = c.items[:0]
	for _, item := range items {
		c.Insert(item)
	}
}

func (c *Collection[T]) Get(id string) (T, bool) {
	i := c.indexOf(id)
	if i < 0 {
		var zero T
		return zero, false
	}
	return c.items[i], true
}

func (c *Collection[T]) Len() int {
	return len(c.items)
}

// Items returns a copy of the rows in order.
func (c *Collection[T]) Items() []T {
	res := make([]T, len(c.items))
	copy(res, c.items)
	return res
}
