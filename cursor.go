package bptreekv

import "github.com/bptreekv/bptreekv/internal/pager"

// Cursor is a generic, typed wrapper over internal/pager.Cursor: a lazy,
// bidirectional, bounded sequence over a Tree's entries, decoded through
// the same codecs the Tree itself uses. It is not restartable — call
// Tree.Range/Keys/Values/Entries again for a fresh scan.
type Cursor[K, V any] struct {
	t   *Tree[K, V]
	raw *pager.Cursor
}

// Next advances the cursor, reporting whether another entry is available.
func (c *Cursor[K, V]) Next() (bool, error) { return c.raw.Next() }

// Key decodes the current entry's key.
func (c *Cursor[K, V]) Key() (K, error) {
	var zero K
	kb, err := c.raw.Key()
	if err != nil {
		return zero, err
	}
	return c.t.keyCodec.Decode(kb)
}

// Value decodes the current entry's value.
func (c *Cursor[K, V]) Value() (V, error) {
	var zero V
	vb, err := c.raw.Value()
	if err != nil {
		return zero, err
	}
	return c.t.valCodec.Decode(vb)
}

// Entry decodes the current key and value together.
func (c *Cursor[K, V]) Entry() (K, V, error) {
	kb, vb, err := c.raw.Entry()
	if err != nil {
		var k K
		var v V
		return k, v, err
	}
	return c.t.decodeEntry(kb, vb)
}

// Close releases the cursor. Safe to call multiple times.
func (c *Cursor[K, V]) Close() error { return c.raw.Close() }

// Range returns a cursor over [lo, hi) in ascending order. With hasLo false
// lo is ignored and the scan starts at the beginning; with hasHi false hi is
// ignored and the scan runs to the end.
func (t *Tree[K, V]) Range(lo, hi K, hasLo, hasHi bool) *Cursor[K, V] {
	var lob, hib []byte
	if hasLo {
		lob = t.keyCodec.Encode(lo)
	}
	if hasHi {
		hib = t.keyCodec.Encode(hi)
	}
	return &Cursor[K, V]{t: t, raw: t.bt.NewCursor(lob, hib, pager.Forward)}
}

// Keys returns a cursor yielding every key in ascending order.
func (t *Tree[K, V]) Keys() *Cursor[K, V] {
	return &Cursor[K, V]{t: t, raw: t.bt.NewCursor(nil, nil, pager.Forward)}
}

// Values returns a cursor yielding every value in ascending key order.
func (t *Tree[K, V]) Values() *Cursor[K, V] {
	return t.Keys()
}

// Entries returns a cursor yielding every key/value pair in ascending key
// order.
func (t *Tree[K, V]) Entries() *Cursor[K, V] {
	return t.Keys()
}

// Descending returns a cursor over the whole tree in descending key order.
func (t *Tree[K, V]) Descending() *Cursor[K, V] {
	return &Cursor[K, V]{t: t, raw: t.bt.NewCursor(nil, nil, pager.Backward)}
}

// Nodes calls yield once per page in the tree's on-disk layout, for
// diagnostic and tooling use (spec.md §6's nodes() operation).
func (t *Tree[K, V]) Nodes(yield func(pager.NodeSummary) bool) error {
	return t.bt.Nodes(yield)
}
