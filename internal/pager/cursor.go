package pager

import "bytes"

// ───────────────────────────────────────────────────────────────────────────
// Cursor — bidirectional, lazy, bounded iteration
// ───────────────────────────────────────────────────────────────────────────
//
// A Cursor holds (leaf page id, slot index, direction, bounds) exactly as
// spec.md §4.5 describes, and advances by incrementing/decrementing the slot
// and hopping the NextLeaf/PrevLeaf sibling pointer at leaf boundaries. It
// has no teacher precedent — tinySQL's scans are forward-only table scans —
// but is grounded on this package's own forward ScanRange (btree.go), turned
// into a resumable cursor instead of a one-shot callback walk, with a
// direction flag added for the reverse case.
//
// Staleness: this engine does not yet implement the copy-on-write
// superblock-swap snapshot discipline spec.md §5 describes for concurrent
// writers, so a Cursor sees whatever a direct ReadPage call sees at the time
// it advances — live pager state, not a pinned snapshot. A single in-process
// writer interleaved with its own cursors (as the test suite and both CLIs
// do) behaves correctly; a Cursor held across a structural mutation made by
// a second concurrent writer is not guaranteed to see a consistent view.
// This is recorded as an open design decision in DESIGN.md rather than
// silently ignored.

// Direction selects ascending or descending iteration order.
type Direction int

const (
	Forward Direction = iota
	Backward
)

// Cursor iterates over a BTree's entries in key order, optionally bounded
// and optionally reversed. It is not restartable: NewCursor again for a
// fresh scan.
type Cursor struct {
	bt        *BTree
	dir       Direction
	lo, hi    []byte // inclusive lower bound, exclusive upper bound; nil = unbounded
	leafID    PageID
	slot      int
	started   bool
	exhausted bool
}

// NewCursor creates a cursor over [lo, hi) (either bound may be nil) moving
// in the given direction. It does not position itself until the first Next.
func (bt *BTree) NewCursor(lo, hi []byte, dir Direction) *Cursor {
	return &Cursor{bt: bt, dir: dir, lo: lo, hi: hi}
}

// Next advances the cursor and reports whether a new entry is available.
// Call Key/Value/Entry to read it.
func (c *Cursor) Next() (bool, error) {
	if c.exhausted {
		return false, nil
	}
	if !c.started {
		c.started = true
		if err := c.seekStart(); err != nil {
			return false, err
		}
		if c.leafID == InvalidPageID {
			c.exhausted = true
			return false, nil
		}
		return c.checkBounds()
	}
	return c.advance()
}

func (c *Cursor) seekStart() error {
	if c.bt.root == InvalidPageID {
		c.leafID = InvalidPageID
		return nil
	}
	var startKey []byte
	var leafID PageID
	var err error
	if c.dir == Forward {
		startKey = c.lo
		leafID, err = c.bt.findLeaf(startKey)
	} else if c.hi != nil {
		startKey = c.hi
		leafID, err = c.bt.findLeaf(startKey)
	} else {
		leafID, err = c.bt.findRightmostLeaf()
	}
	if err != nil {
		return err
	}
	buf, err := c.bt.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)
	entries := bp.GetAllLeafEntries()

	if c.dir == Forward {
		pos := 0
		if startKey != nil {
			for pos < len(entries) && bytes.Compare(entries[pos].Key, startKey) < 0 {
				pos++
			}
		}
		c.bt.pager.UnpinPage(leafID)
		if pos >= len(entries) {
			next := bp.NextLeaf()
			c.leafID, c.slot = next, -1
			if next == InvalidPageID {
				c.leafID = InvalidPageID
				return nil
			}
			return c.advance()
		}
		c.leafID, c.slot = leafID, pos
		return nil
	}

	// Backward: position at the last entry < hi (hi is exclusive), or the
	// last entry of the leaf if hi is nil.
	pos := len(entries) - 1
	if startKey != nil {
		for pos >= 0 && bytes.Compare(entries[pos].Key, startKey) >= 0 {
			pos--
		}
	}
	c.bt.pager.UnpinPage(leafID)
	if pos < 0 {
		prev := bp.PrevLeaf()
		c.leafID, c.slot = prev, -1
		if prev == InvalidPageID {
			c.leafID = InvalidPageID
			return nil
		}
		return c.advance()
	}
	c.leafID, c.slot = leafID, pos
	return nil
}

// advance moves to the next slot in the current direction, hopping to the
// sibling leaf when the current page is exhausted.
func (c *Cursor) advance() (bool, error) {
	for {
		buf, err := c.bt.pager.ReadPage(c.leafID)
		if err != nil {
			return false, err
		}
		bp := WrapBTreePage(buf)
		sc := bp.slotCount()

		if c.dir == Forward {
			c.slot++
		} else {
			c.slot--
		}

		if c.slot >= 0 && c.slot < sc {
			c.bt.pager.UnpinPage(c.leafID)
			return c.checkBounds()
		}

		var next PageID
		if c.dir == Forward {
			next = bp.NextLeaf()
		} else {
			next = bp.PrevLeaf()
		}
		c.bt.pager.UnpinPage(c.leafID)
		if next == InvalidPageID {
			c.exhausted = true
			c.leafID = InvalidPageID
			return false, nil
		}
		c.leafID = next
		if c.dir == Forward {
			c.slot = -1
		} else {
			buf2, err := c.bt.pager.ReadPage(next)
			if err != nil {
				return false, err
			}
			c.slot = WrapBTreePage(buf2).slotCount()
			c.bt.pager.UnpinPage(next)
		}
	}
}

// checkBounds reads the current entry's key and stops the cursor if it has
// moved past the bound for its direction.
func (c *Cursor) checkBounds() (bool, error) {
	buf, err := c.bt.pager.ReadPage(c.leafID)
	if err != nil {
		return false, err
	}
	defer c.bt.pager.UnpinPage(c.leafID)
	e := WrapBTreePage(buf).GetLeafEntry(c.slot)

	if c.dir == Forward && c.hi != nil && bytes.Compare(e.Key, c.hi) >= 0 {
		c.exhausted = true
		return false, nil
	}
	if c.dir == Backward && c.lo != nil && bytes.Compare(e.Key, c.lo) < 0 {
		c.exhausted = true
		return false, nil
	}
	return true, nil
}

// Key returns the current entry's key. Valid only after Next returns true.
func (c *Cursor) Key() ([]byte, error) {
	e, err := c.entry()
	if err != nil {
		return nil, err
	}
	return e.Key, nil
}

// Value returns the current entry's value, resolving an overflow chain if
// necessary. Valid only after Next returns true.
func (c *Cursor) Value() ([]byte, error) {
	e, err := c.entry()
	if err != nil {
		return nil, err
	}
	if !e.Overflow {
		return e.Value, nil
	}
	return c.bt.readOverflow(e.OverflowPageID, e.TotalSize)
}

// Entry returns the current key and value together.
func (c *Cursor) Entry() (key, value []byte, err error) {
	key, err = c.Key()
	if err != nil {
		return nil, nil, err
	}
	value, err = c.Value()
	return key, value, err
}

func (c *Cursor) entry() (LeafEntry, error) {
	buf, err := c.bt.pager.ReadPage(c.leafID)
	if err != nil {
		return LeafEntry{}, err
	}
	defer c.bt.pager.UnpinPage(c.leafID)
	return WrapBTreePage(buf).GetLeafEntry(c.slot), nil
}

// Close releases any resources held by the cursor. Safe to call multiple
// times; currently a no-op since Cursor pins pages only transiently, but
// kept for API symmetry with resources that do hold a pin across calls.
func (c *Cursor) Close() error {
	c.exhausted = true
	return nil
}
