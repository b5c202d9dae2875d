package pager

import (
	"bytes"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// BTree — transactional B+Tree built on top of the Pager
// ───────────────────────────────────────────────────────────────────────────
//
// Node capacity is governed by the branching factor B (persisted in the
// superblock), not by raw byte counts: a leaf becomes overfull once its
// entry count reaches B, a branch once its separator count reaches B.
// Minimum occupancy for any non-root node is floor(B/2) leaf entries or
// ceil(B/2)-1 branch separators (see minLeafEntries/minBranchSeps). The root is exempt from the minimum.

// BTree represents a B+Tree stored in the pager.
type BTree struct {
	pager          *Pager
	root           PageID
	b              uint32 // branching factor
	overflowThresh int    // max inline value bytes before spilling to overflow pages
}

// NewBTree creates a handle to an existing B+Tree with the given root.
// For a new tree, call CreateBTree first.
func NewBTree(p *Pager, root PageID, b uint32) *BTree {
	return &BTree{
		pager:          p,
		root:           root,
		b:              b,
		overflowThresh: overflowThresholdFor(p.pageSize),
	}
}

// overflowThresholdFor computes the max inline value size given page size.
func overflowThresholdFor(pageSize int) int {
	usable := pageSize - btreeSlotDirOff - 64 // rough overhead
	t := usable / 4
	if t < 256 {
		t = 256
	}
	return t
}

// CreateBTree allocates a new B+Tree with an empty leaf root page.
// Must be called within a transaction.
func CreateBTree(p *Pager, txID TxID, b uint32) (*BTree, error) {
	rootID, rootBuf := p.AllocPage()
	InitBTreePage(rootBuf, rootID, true)
	SetPageCRC(rootBuf)
	if err := p.WritePage(txID, rootID, rootBuf); err != nil {
		return nil, err
	}
	p.UnpinPage(rootID)
	return &BTree{pager: p, root: rootID, b: b, overflowThresh: overflowThresholdFor(p.pageSize)}, nil
}

// Root returns the root page ID.
func (bt *BTree) Root() PageID { return bt.root }

// minLeafEntries returns the minimum entry count for a non-root leaf.
//
// A preemptive leaf split fires once a leaf would grow to hold B entries,
// and divides those B entries as floor((B+1)/2) left / remaining right — so
// for an odd B the smaller side gets only floor(B/2) entries (e.g. B=3
// splits 2/1). Requiring ceil(B/2) on both sides would make that split
// itself an invariant violation, so the floor is the true minimum for odd
// B; even B has floor(B/2) == ceil(B/2) and is unaffected.
func (bt *BTree) minLeafEntries() int { return int(bt.b / 2) }

// minBranchSeps returns ceil(B/2)-1, the minimum separator count for a non-root branch.
func (bt *BTree) minBranchSeps() int {
	m := int((bt.b+1)/2) - 1
	if m < 1 {
		m = 1
	}
	return m
}

// ── Search ────────────────────────────────────────────────────────────────

// Get looks up a key. Returns (value, true) or (nil, false).
// Handles overflow pages transparently.
func (bt *BTree) Get(key []byte) ([]byte, bool, error) {
	leafID, err := bt.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return nil, false, err
	}
	defer bt.pager.UnpinPage(leafID)

	bp := WrapBTreePage(buf)
	pos, found := bp.FindLeafEntry(key)
	if !found {
		return nil, false, nil
	}
	entry := bp.GetLeafEntry(pos)
	if entry.Overflow {
		val, err := bt.readOverflow(entry.OverflowPageID, entry.TotalSize)
		if err != nil {
			return nil, false, err
		}
		return val, true, nil
	}
	return entry.Value, true, nil
}

// findLeaf traverses from root to the leaf page containing key.
func (bt *BTree) findLeaf(key []byte) (PageID, error) {
	pageID := bt.root
	for {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			return pageID, nil
		}
		child := bp.SearchInternal(key)
		bt.pager.UnpinPage(pageID)
		pageID = child
	}
}

// findRightmostLeaf traverses from root to the rightmost leaf, always
// following RightChild — used to seed a descending cursor with no upper
// bound.
func (bt *BTree) findRightmostLeaf() (PageID, error) {
	pageID := bt.root
	for {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			return pageID, nil
		}
		child := bp.RightChild()
		bt.pager.UnpinPage(pageID)
		pageID = child
	}
}

// pathToLeaf returns the page IDs from root to the leaf containing key.
func (bt *BTree) pathToLeaf(key []byte) ([]PageID, error) {
	var path []PageID
	pageID := bt.root
	for {
		path = append(path, pageID)
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return nil, err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			return path, nil
		}
		child := bp.SearchInternal(key)
		bt.pager.UnpinPage(pageID)
		pageID = child
	}
}

// descendWithIndices walks from the root to the leaf containing key, also
// recording, for every branch visited, the child index taken — needed by
// delete-time rebalancing to find same-parent siblings.
func (bt *BTree) descendWithIndices(key []byte) (ancestors []PageID, idxs []int, leafID PageID, err error) {
	pageID := bt.root
	for {
		buf, rerr := bt.pager.ReadPage(pageID)
		if rerr != nil {
			return nil, nil, 0, rerr
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			return ancestors, idxs, pageID, nil
		}
		child := bp.SearchInternal(key)
		idx := childIndexInParent(bp, child)
		ancestors = append(ancestors, pageID)
		idxs = append(idxs, idx)
		bt.pager.UnpinPage(pageID)
		pageID = child
	}
}

// childIndexInParent returns the position of childID among bp's children
// (0..slotCount()-1 for entry-held children, slotCount() for RightChild).
func childIndexInParent(bp *BTreePage, childID PageID) int {
	sc := bp.slotCount()
	for i := 0; i < sc; i++ {
		if bp.GetInternalEntry(i).ChildID == childID {
			return i
		}
	}
	return sc
}

// childAt returns the i-th child pointer of an internal page.
func childAt(bp *BTreePage, i int) PageID {
	sc := bp.slotCount()
	if i < sc {
		return bp.GetInternalEntry(i).ChildID
	}
	return bp.RightChild()
}

// allChildren returns every child pointer of an internal page, in order.
func allChildren(bp *BTreePage) []PageID {
	sc := bp.slotCount()
	out := make([]PageID, 0, sc+1)
	for i := 0; i < sc; i++ {
		out = append(out, bp.GetInternalEntry(i).ChildID)
	}
	out = append(out, bp.RightChild())
	return out
}

// allKeys returns every separator key of an internal page, in order.
func allKeys(bp *BTreePage) [][]byte {
	sc := bp.slotCount()
	out := make([][]byte, sc)
	for i := 0; i < sc; i++ {
		out[i] = bp.GetInternalEntry(i).Key
	}
	return out
}

// rebuildInternalPage reconstructs an internal page's contents from a
// children/keys pair (len(children) == len(keys)+1) onto the given page id.
func rebuildInternalPage(pageSize int, pid PageID, children []PageID, keys [][]byte) []byte {
	buf := make([]byte, pageSize)
	bp := InitBTreePage(buf, pid, false)
	for i, k := range keys {
		if err := bp.InsertInternalEntry(InternalEntry{ChildID: children[i], Key: k}); err != nil {
			panic(fmt.Sprintf("rebuildInternalPage: %v", err)) // pre-sized; should never overflow
		}
	}
	bp.SetRightChild(children[len(children)-1])
	SetPageCRC(buf)
	return buf
}

// ── Insert ────────────────────────────────────────────────────────────────

// Insert adds or updates a key-value pair within the given transaction.
func (bt *BTree) Insert(txID TxID, key, value []byte) error {
	entry := LeafEntry{Key: key}

	if len(value) > bt.overflowThresh {
		// Store as overflow.
		overflowHead, err := bt.writeOverflow(txID, value)
		if err != nil {
			return err
		}
		entry.Overflow = true
		entry.OverflowPageID = overflowHead
		entry.TotalSize = uint32(len(value))
	} else {
		entry.Value = value
	}

	return bt.insertIntoTree(txID, key, entry)
}

func (bt *BTree) insertIntoTree(txID TxID, key []byte, entry LeafEntry) error {
	// Walk down to find the leaf.
	path, err := bt.pathToLeaf(key)
	if err != nil {
		return err
	}

	leafID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)

	// Check for existing key — replace in place (spec: insert on a duplicate
	// key replaces the value; this never changes the tree's shape).
	pos, found := bp.FindLeafEntry(key)
	if found {
		oldEntry := bp.GetLeafEntry(pos)
		if oldEntry.Overflow {
			bt.freeOverflowChain(txID, oldEntry.OverflowPageID)
		}
		if err := bp.UpdateLeafEntry(pos, entry); err != nil {
			// Page full on update — need to split.
			bt.pager.UnpinPage(leafID)
			return bt.insertWithSplit(txID, path, entry)
		}
		SetPageCRC(buf)
		bt.pager.UnpinPage(leafID)
		return bt.pager.WritePage(txID, leafID, buf)
	}

	// New key. Split preemptively once the entry count would reach B —
	// capacity is entry-counted, not byte-counted (a true byte-capacity
	// failure from InsertLeafEntry is handled the same way as a fallback).
	if bp.KeyCount() >= int(bt.b)-1 {
		bt.pager.UnpinPage(leafID)
		return bt.insertWithSplit(txID, path, entry)
	}
	if _, err := bp.InsertLeafEntry(entry); err != nil {
		bt.pager.UnpinPage(leafID)
		return bt.insertWithSplit(txID, path, entry)
	}

	SetPageCRC(buf)
	bt.pager.UnpinPage(leafID)
	return bt.pager.WritePage(txID, leafID, buf)
}

func (bt *BTree) insertWithSplit(txID TxID, path []PageID, entry LeafEntry) error {
	// Read the full leaf.
	leafID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)

	// Collect all entries + new entry, sorted.
	entries := bp.GetAllLeafEntries()
	inserted := false
	var merged []LeafEntry
	for _, e := range entries {
		if !inserted && bytes.Compare(entry.Key, e.Key) <= 0 {
			merged = append(merged, entry)
			inserted = true
		}
		if bytes.Equal(e.Key, entry.Key) {
			// Replace existing — free old overflow chain if any.
			if e.Overflow {
				bt.freeOverflowChain(txID, e.OverflowPageID)
			}
			continue
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, entry)
	}

	// Split at ceil(B/2): left keeps the lower half, right takes the upper half.
	mid := (len(merged) + 1) / 2
	leftEntries := merged[:mid]
	rightEntries := merged[mid:]
	splitKey := rightEntries[0].Key

	// Rewrite left leaf (reuse old page).
	leftBuf := make([]byte, bt.pager.pageSize)
	leftBP := InitBTreePage(leftBuf, leafID, true)
	for _, e := range leftEntries {
		if _, err := leftBP.InsertLeafEntry(e); err != nil {
			return fmt.Errorf("split left insert: %w", err)
		}
	}

	// Allocate right leaf.
	rightID, rightBuf := bt.pager.AllocPage()
	rightBP := InitBTreePage(rightBuf, rightID, true)
	for _, e := range rightEntries {
		if _, err := rightBP.InsertLeafEntry(e); err != nil {
			return fmt.Errorf("split right insert: %w", err)
		}
	}

	// Link siblings: left <-> right <-> old-next, bidirectionally.
	oldNext := bp.NextLeaf()
	leftBP.SetNextLeaf(rightID)
	leftBP.SetPrevLeaf(bp.PrevLeaf())
	rightBP.SetPrevLeaf(leafID)
	rightBP.SetNextLeaf(oldNext)

	SetPageCRC(leftBuf)
	if err := bt.pager.WritePage(txID, leafID, leftBuf); err != nil {
		return err
	}
	SetPageCRC(rightBuf)
	if err := bt.pager.WritePage(txID, rightID, rightBuf); err != nil {
		return err
	}
	bt.pager.UnpinPage(leafID)
	bt.pager.UnpinPage(rightID)

	// Fix the old next leaf's backward pointer.
	if oldNext != InvalidPageID {
		nextBuf, err := bt.pager.ReadPage(oldNext)
		if err == nil {
			nextBP := WrapBTreePage(nextBuf)
			nextBP.SetPrevLeaf(rightID)
			SetPageCRC(nextBuf)
			_ = bt.pager.WritePage(txID, oldNext, nextBuf)
			bt.pager.UnpinPage(oldNext)
		}
	}

	// Promote the right leaf's smallest key to the parent.
	return bt.insertIntoParent(txID, path[:len(path)-1], leafID, splitKey, rightID)
}

func (bt *BTree) insertIntoParent(txID TxID, path []PageID, leftID PageID, key []byte, rightID PageID) error {
	if len(path) == 0 {
		// Need a new root.
		return bt.createNewRoot(txID, leftID, key, rightID)
	}

	parentID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)

	if bp.slotCount() >= int(bt.b)-1 {
		bt.pager.UnpinPage(parentID)
		return bt.splitInternal(txID, path, leftID, key, rightID)
	}

	newEntry := InternalEntry{ChildID: leftID, Key: key}
	if err := bp.InsertInternalEntry(newEntry); err != nil {
		bt.pager.UnpinPage(parentID)
		return bt.splitInternal(txID, path, leftID, key, rightID)
	}
	// The newly-inserted separator's right pointer must become rightID:
	// that pointer lives either in the next entry's ChildID slot, or — if
	// our key became the last separator — in RightChild. ChildID is
	// varint-encoded, so the page is rebuilt rather than patched in place.
	children := allChildren(bp)
	keys := allKeys(bp)
	for i, k := range keys {
		if bytes.Equal(k, key) {
			children[i+1] = rightID
			break
		}
	}

	bt.pager.UnpinPage(parentID)
	return bt.pager.WritePage(txID, parentID, rebuildInternalPage(bt.pager.pageSize, parentID, children, keys))
}

func (bt *BTree) splitInternal(txID TxID, path []PageID, leftChildID PageID, key []byte, rightChildID PageID) error {
	parentID := path[len(path)-1]
	buf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)

	entries := bp.GetAllInternalEntries()
	oldRight := bp.RightChild()

	newEntry := InternalEntry{ChildID: leftChildID, Key: key}
	var merged []InternalEntry
	inserted := false
	for _, e := range entries {
		if !inserted && bytes.Compare(key, e.Key) < 0 {
			merged = append(merged, newEntry)
			inserted = true
		}
		merged = append(merged, e)
	}
	if !inserted {
		merged = append(merged, newEntry)
	}
	// The entry after the new key (or the node's right child, when the new
	// key sorts last) must now point at the split's right half.
	for i := range merged {
		if bytes.Equal(merged[i].Key, key) {
			if i+1 < len(merged) {
				merged[i+1].ChildID = rightChildID
			} else {
				oldRight = rightChildID
			}
			break
		}
	}

	// Median separator is promoted; it is not duplicated into either child.
	mid := len(merged) / 2
	pushUpKey := merged[mid].Key
	leftEntries := merged[:mid]
	rightEntries := merged[mid+1:]
	midChildRight := merged[mid].ChildID

	leftBuf := make([]byte, bt.pager.pageSize)
	leftBP := InitBTreePage(leftBuf, parentID, false)
	for _, e := range leftEntries {
		if err := leftBP.InsertInternalEntry(e); err != nil {
			return fmt.Errorf("split internal left: %w", err)
		}
	}

	foundInLeft := false
	for _, e := range leftEntries {
		if bytes.Equal(e.Key, key) {
			foundInLeft = true
			break
		}
	}
	if bytes.Equal(pushUpKey, key) {
		leftBP.SetRightChild(leftChildID)
		if len(rightEntries) > 0 {
			rightEntries[0] = InternalEntry{ChildID: rightChildID, Key: rightEntries[0].Key}
		}
	} else if foundInLeft {
		leftBP.SetRightChild(midChildRight)
	} else {
		leftBP.SetRightChild(midChildRight)
	}

	newRightID, rightBuf := bt.pager.AllocPage()
	rightInternalBP := InitBTreePage(rightBuf, newRightID, false)
	for _, e := range rightEntries {
		if err := rightInternalBP.InsertInternalEntry(e); err != nil {
			return fmt.Errorf("split internal right: %w", err)
		}
	}
	rightInternalBP.SetRightChild(oldRight)

	SetPageCRC(leftBuf)
	if err := bt.pager.WritePage(txID, parentID, leftBuf); err != nil {
		return err
	}
	SetPageCRC(rightBuf)
	if err := bt.pager.WritePage(txID, newRightID, rightBuf); err != nil {
		return err
	}
	bt.pager.UnpinPage(parentID)
	bt.pager.UnpinPage(newRightID)

	return bt.insertIntoParent(txID, path[:len(path)-1], parentID, pushUpKey, newRightID)
}

func (bt *BTree) createNewRoot(txID TxID, leftID PageID, key []byte, rightID PageID) error {
	rootID, rootBuf := bt.pager.AllocPage()
	rootBP := InitBTreePage(rootBuf, rootID, false)
	if err := rootBP.InsertInternalEntry(InternalEntry{ChildID: leftID, Key: key}); err != nil {
		return err
	}
	rootBP.SetRightChild(rightID)
	SetPageCRC(rootBuf)
	if err := bt.pager.WritePage(txID, rootID, rootBuf); err != nil {
		return err
	}
	bt.pager.UnpinPage(rootID)
	bt.root = rootID
	return nil
}

// ── Delete ────────────────────────────────────────────────────────────────

// Delete removes a key from the B+Tree, rebalancing (borrow or merge) any
// node left underfull by the removal.
func (bt *BTree) Delete(txID TxID, key []byte) (bool, error) {
	ancestors, idxs, leafID, err := bt.descendWithIndices(key)
	if err != nil {
		return false, err
	}
	buf, err := bt.pager.ReadPage(leafID)
	if err != nil {
		return false, err
	}
	bp := WrapBTreePage(buf)

	pos, found := bp.FindLeafEntry(key)
	if !found {
		bt.pager.UnpinPage(leafID)
		return false, nil
	}

	entry := bp.GetLeafEntry(pos)
	if entry.Overflow {
		bt.freeOverflowChain(txID, entry.OverflowPageID)
	}

	if err := bp.DeleteLeafEntry(pos); err != nil {
		bt.pager.UnpinPage(leafID)
		return false, err
	}
	remaining := bp.KeyCount()

	SetPageCRC(buf)
	bt.pager.UnpinPage(leafID)
	if err := bt.pager.WritePage(txID, leafID, buf); err != nil {
		return false, err
	}

	if len(ancestors) == 0 {
		// The leaf is the root; it may be underfull (even empty).
		return true, nil
	}
	if remaining >= bt.minLeafEntries() {
		return true, nil
	}
	return true, bt.rebalanceLeaf(txID, ancestors, idxs, leafID)
}

// siblingsOf reads the parent of nodeID (the last entry of ancestors/idxs)
// and returns whether a left/right same-parent sibling exists and its id.
func (bt *BTree) siblingsOf(ancestors []PageID, idxs []int) (parentID PageID, idx int, haveLeft bool, leftID PageID, haveRight bool, rightID PageID, err error) {
	last := len(ancestors) - 1
	parentID = ancestors[last]
	idx = idxs[last]
	buf, rerr := bt.pager.ReadPage(parentID)
	if rerr != nil {
		err = rerr
		return
	}
	bp := WrapBTreePage(buf)
	childCount := bp.slotCount() + 1
	haveLeft = idx > 0
	haveRight = idx < childCount-1
	if haveLeft {
		leftID = childAt(bp, idx-1)
	}
	if haveRight {
		rightID = childAt(bp, idx+1)
	}
	bt.pager.UnpinPage(parentID)
	return
}

func (bt *BTree) rebalanceLeaf(txID TxID, ancestors []PageID, idxs []int, leafID PageID) error {
	parentID, idx, haveLeft, leftID, haveRight, rightID, err := bt.siblingsOf(ancestors, idxs)
	if err != nil {
		return err
	}
	minLeaf := bt.minLeafEntries()

	// 1. Borrow-from-left.
	if haveLeft {
		lbuf, err := bt.pager.ReadPage(leftID)
		if err != nil {
			return err
		}
		lbp := WrapBTreePage(lbuf)
		if lbp.KeyCount() > minLeaf {
			entries := lbp.GetAllLeafEntries()
			borrowed := entries[len(entries)-1]
			prevOfLeft := lbp.PrevLeaf()
			nextOfLeft := lbp.NextLeaf()
			bt.pager.UnpinPage(leftID)

			nlbuf := make([]byte, bt.pager.pageSize)
			nlbp := InitBTreePage(nlbuf, leftID, true)
			nlbp.SetPrevLeaf(prevOfLeft)
			nlbp.SetNextLeaf(nextOfLeft)
			for _, e := range entries[:len(entries)-1] {
				if _, err := nlbp.InsertLeafEntry(e); err != nil {
					return fmt.Errorf("borrow-left rebuild: %w", err)
				}
			}
			SetPageCRC(nlbuf)
			if err := bt.pager.WritePage(txID, leftID, nlbuf); err != nil {
				return err
			}

			cbuf, err := bt.pager.ReadPage(leafID)
			if err != nil {
				return err
			}
			cbp := WrapBTreePage(cbuf)
			prevOfLeaf := cbp.PrevLeaf()
			nextOfLeaf := cbp.NextLeaf()
			entriesC := cbp.GetAllLeafEntries()
			bt.pager.UnpinPage(leafID)

			ncbuf := make([]byte, bt.pager.pageSize)
			ncbp := InitBTreePage(ncbuf, leafID, true)
			ncbp.SetPrevLeaf(prevOfLeaf)
			ncbp.SetNextLeaf(nextOfLeaf)
			if _, err := ncbp.InsertLeafEntry(borrowed); err != nil {
				return fmt.Errorf("borrow-left insert: %w", err)
			}
			for _, e := range entriesC {
				if _, err := ncbp.InsertLeafEntry(e); err != nil {
					return fmt.Errorf("borrow-left rebuild current: %w", err)
				}
			}
			SetPageCRC(ncbuf)
			if err := bt.pager.WritePage(txID, leafID, ncbuf); err != nil {
				return err
			}

			return bt.updateSeparator(txID, parentID, idx-1, borrowed.Key)
		}
		bt.pager.UnpinPage(leftID)
	}

	// 2. Borrow-from-right.
	if haveRight {
		rbuf, err := bt.pager.ReadPage(rightID)
		if err != nil {
			return err
		}
		rbp := WrapBTreePage(rbuf)
		if rbp.KeyCount() > minLeaf {
			entries := rbp.GetAllLeafEntries()
			borrowed := entries[0]
			prevOfRight := rbp.PrevLeaf()
			nextOfRight := rbp.NextLeaf()
			bt.pager.UnpinPage(rightID)

			nrbuf := make([]byte, bt.pager.pageSize)
			nrbp := InitBTreePage(nrbuf, rightID, true)
			nrbp.SetPrevLeaf(prevOfRight)
			nrbp.SetNextLeaf(nextOfRight)
			for _, e := range entries[1:] {
				if _, err := nrbp.InsertLeafEntry(e); err != nil {
					return fmt.Errorf("borrow-right rebuild: %w", err)
				}
			}
			SetPageCRC(nrbuf)
			if err := bt.pager.WritePage(txID, rightID, nrbuf); err != nil {
				return err
			}

			cbuf, err := bt.pager.ReadPage(leafID)
			if err != nil {
				return err
			}
			cbp := WrapBTreePage(cbuf)
			prevOfLeaf := cbp.PrevLeaf()
			nextOfLeaf := cbp.NextLeaf()
			entriesC := cbp.GetAllLeafEntries()
			bt.pager.UnpinPage(leafID)

			ncbuf := make([]byte, bt.pager.pageSize)
			ncbp := InitBTreePage(ncbuf, leafID, true)
			ncbp.SetPrevLeaf(prevOfLeaf)
			ncbp.SetNextLeaf(nextOfLeaf)
			for _, e := range entriesC {
				if _, err := ncbp.InsertLeafEntry(e); err != nil {
					return fmt.Errorf("borrow-right rebuild current: %w", err)
				}
			}
			if _, err := ncbp.InsertLeafEntry(borrowed); err != nil {
				return fmt.Errorf("borrow-right insert: %w", err)
			}
			SetPageCRC(ncbuf)
			if err := bt.pager.WritePage(txID, leafID, ncbuf); err != nil {
				return err
			}

			return bt.updateSeparator(txID, parentID, idx, entries[1].Key)
		}
		bt.pager.UnpinPage(rightID)
	}

	// 3. Merge. Prefer merge-with-left.
	if haveLeft {
		return bt.mergeLeaves(txID, ancestors, idxs, leftID, leafID, idx-1)
	}
	return bt.mergeLeaves(txID, ancestors, idxs, leafID, rightID, idx)
}

// mergeLeaves concatenates victimID's entries onto survivorID (survivor is
// always the left member of the pair), frees victimID, rewires the leaf
// chain, and removes the separator between them from the parent.
func (bt *BTree) mergeLeaves(txID TxID, ancestors []PageID, idxs []int, survivorID, victimID PageID, sepIdx int) error {
	sbuf, err := bt.pager.ReadPage(survivorID)
	if err != nil {
		return err
	}
	sbp := WrapBTreePage(sbuf)
	sEntries := sbp.GetAllLeafEntries()
	prevOfSurvivor := sbp.PrevLeaf()
	bt.pager.UnpinPage(survivorID)

	vbuf, err := bt.pager.ReadPage(victimID)
	if err != nil {
		return err
	}
	vbp := WrapBTreePage(vbuf)
	vEntries := vbp.GetAllLeafEntries()
	newNext := vbp.NextLeaf()
	bt.pager.UnpinPage(victimID)

	merged := append(append([]LeafEntry{}, sEntries...), vEntries...)

	nbuf := make([]byte, bt.pager.pageSize)
	nbp := InitBTreePage(nbuf, survivorID, true)
	nbp.SetPrevLeaf(prevOfSurvivor)
	nbp.SetNextLeaf(newNext)
	for _, e := range merged {
		if _, err := nbp.InsertLeafEntry(e); err != nil {
			return fmt.Errorf("merge leaves: %w", err)
		}
	}
	SetPageCRC(nbuf)
	if err := bt.pager.WritePage(txID, survivorID, nbuf); err != nil {
		return err
	}

	if newNext != InvalidPageID {
		nextBuf, err := bt.pager.ReadPage(newNext)
		if err == nil {
			nextBP := WrapBTreePage(nextBuf)
			nextBP.SetPrevLeaf(survivorID)
			SetPageCRC(nextBuf)
			_ = bt.pager.WritePage(txID, newNext, nextBuf)
			bt.pager.UnpinPage(newNext)
		}
	}

	bt.pager.FreePage(txID, victimID)

	return bt.removeSeparatorAndChild(txID, ancestors, idxs, sepIdx)
}

// updateSeparator rewrites the separator key at position sepIdx in parentID.
func (bt *BTree) updateSeparator(txID TxID, parentID PageID, sepIdx int, newKey []byte) error {
	buf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)
	children := allChildren(bp)
	keys := allKeys(bp)
	bt.pager.UnpinPage(parentID)

	keys[sepIdx] = append([]byte{}, newKey...)
	nbuf := rebuildInternalPage(bt.pager.pageSize, parentID, children, keys)
	return bt.pager.WritePage(txID, parentID, nbuf)
}

// removeSeparatorAndChild removes the separator at sepIdx and its associated
// right-hand child (position sepIdx+1) from the parent named by the last
// entry of ancestors/idxs, collapsing the root or recursing the underflow
// check upward as needed.
func (bt *BTree) removeSeparatorAndChild(txID TxID, ancestors []PageID, idxs []int, sepIdx int) error {
	last := len(ancestors) - 1
	parentID := ancestors[last]
	buf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	bp := WrapBTreePage(buf)
	children := allChildren(bp)
	keys := allKeys(bp)
	bt.pager.UnpinPage(parentID)

	childRemovePos := sepIdx + 1
	newChildren := append(append([]PageID{}, children[:childRemovePos]...), children[childRemovePos+1:]...)
	newKeys := append(append([][]byte{}, keys[:sepIdx]...), keys[sepIdx+1:]...)

	if len(ancestors) == 1 && len(newChildren) == 1 {
		// Root collapse: the single remaining child becomes the new root.
		bt.pager.FreePage(txID, parentID)
		bt.root = newChildren[0]
		return nil
	}

	nbuf := rebuildInternalPage(bt.pager.pageSize, parentID, newChildren, newKeys)
	if err := bt.pager.WritePage(txID, parentID, nbuf); err != nil {
		return err
	}

	if len(ancestors) == 1 {
		// Root branch — exempt from the minimum-occupancy requirement.
		return nil
	}
	if len(newKeys) >= bt.minBranchSeps() {
		return nil
	}
	return bt.rebalanceBranch(txID, ancestors[:last], idxs[:last], parentID)
}

func (bt *BTree) rebalanceBranch(txID TxID, ancestors []PageID, idxs []int, nodeID PageID) error {
	parentID, idx, haveLeft, leftID, haveRight, rightID, err := bt.siblingsOf(ancestors, idxs)
	if err != nil {
		return err
	}
	minSep := bt.minBranchSeps()

	// 1. Borrow-from-left: rotate through the parent's separator.
	if haveLeft {
		lbuf, err := bt.pager.ReadPage(leftID)
		if err != nil {
			return err
		}
		lbp := WrapBTreePage(lbuf)
		if lbp.slotCount() > minSep {
			lChildren := allChildren(lbp)
			lKeys := allKeys(lbp)
			bt.pager.UnpinPage(leftID)

			pbuf, err := bt.pager.ReadPage(parentID)
			if err != nil {
				return err
			}
			pbp := WrapBTreePage(pbuf)
			parentSep := append([]byte{}, pbp.GetInternalEntry(idx-1).Key...)
			bt.pager.UnpinPage(parentID)

			nbuf, err := bt.pager.ReadPage(nodeID)
			if err != nil {
				return err
			}
			nbp := WrapBTreePage(nbuf)
			nChildren := allChildren(nbp)
			nKeys := allKeys(nbp)
			bt.pager.UnpinPage(nodeID)

			movedChild := lChildren[len(lChildren)-1]
			movedKeyForParent := lKeys[len(lKeys)-1]

			newLChildren := lChildren[:len(lChildren)-1]
			newLKeys := lKeys[:len(lKeys)-1]
			newNChildren := append([]PageID{movedChild}, nChildren...)
			newNKeys := append([][]byte{parentSep}, nKeys...)

			lnbuf := rebuildInternalPage(bt.pager.pageSize, leftID, newLChildren, newLKeys)
			if err := bt.pager.WritePage(txID, leftID, lnbuf); err != nil {
				return err
			}
			nnbuf := rebuildInternalPage(bt.pager.pageSize, nodeID, newNChildren, newNKeys)
			if err := bt.pager.WritePage(txID, nodeID, nnbuf); err != nil {
				return err
			}

			return bt.updateSeparator(txID, parentID, idx-1, movedKeyForParent)
		}
		bt.pager.UnpinPage(leftID)
	}

	// 2. Borrow-from-right.
	if haveRight {
		rbuf, err := bt.pager.ReadPage(rightID)
		if err != nil {
			return err
		}
		rbp := WrapBTreePage(rbuf)
		if rbp.slotCount() > minSep {
			rChildren := allChildren(rbp)
			rKeys := allKeys(rbp)
			bt.pager.UnpinPage(rightID)

			pbuf, err := bt.pager.ReadPage(parentID)
			if err != nil {
				return err
			}
			pbp := WrapBTreePage(pbuf)
			parentSep := append([]byte{}, pbp.GetInternalEntry(idx).Key...)
			bt.pager.UnpinPage(parentID)

			nbuf, err := bt.pager.ReadPage(nodeID)
			if err != nil {
				return err
			}
			nbp := WrapBTreePage(nbuf)
			nChildren := allChildren(nbp)
			nKeys := allKeys(nbp)
			bt.pager.UnpinPage(nodeID)

			movedChild := rChildren[0]
			movedKeyForParent := rKeys[0]

			newRChildren := rChildren[1:]
			newRKeys := rKeys[1:]
			newNChildren := append(append([]PageID{}, nChildren...), movedChild)
			newNKeys := append(append([][]byte{}, nKeys...), parentSep)

			rnbuf := rebuildInternalPage(bt.pager.pageSize, rightID, newRChildren, newRKeys)
			if err := bt.pager.WritePage(txID, rightID, rnbuf); err != nil {
				return err
			}
			nnbuf := rebuildInternalPage(bt.pager.pageSize, nodeID, newNChildren, newNKeys)
			if err := bt.pager.WritePage(txID, nodeID, nnbuf); err != nil {
				return err
			}

			return bt.updateSeparator(txID, parentID, idx, movedKeyForParent)
		}
		bt.pager.UnpinPage(rightID)
	}

	// 3. Merge with pull-down separator. Prefer merge-with-left.
	if haveLeft {
		return bt.mergeBranches(txID, ancestors, idxs, leftID, nodeID, idx-1)
	}
	return bt.mergeBranches(txID, ancestors, idxs, nodeID, rightID, idx)
}

// mergeBranches pulls the parent's separator at sepIdx down between
// survivorID's and victimID's separator sequences, concatenates their
// children, frees victimID, and removes the pulled separator from the parent.
func (bt *BTree) mergeBranches(txID TxID, ancestors []PageID, idxs []int, survivorID, victimID PageID, sepIdx int) error {
	last := len(ancestors) - 1
	parentID := ancestors[last]
	pbuf, err := bt.pager.ReadPage(parentID)
	if err != nil {
		return err
	}
	pbp := WrapBTreePage(pbuf)
	pulldown := append([]byte{}, pbp.GetInternalEntry(sepIdx).Key...)
	bt.pager.UnpinPage(parentID)

	sbuf, err := bt.pager.ReadPage(survivorID)
	if err != nil {
		return err
	}
	sbp := WrapBTreePage(sbuf)
	sChildren := allChildren(sbp)
	sKeys := allKeys(sbp)
	bt.pager.UnpinPage(survivorID)

	vbuf, err := bt.pager.ReadPage(victimID)
	if err != nil {
		return err
	}
	vbp := WrapBTreePage(vbuf)
	vChildren := allChildren(vbp)
	vKeys := allKeys(vbp)
	bt.pager.UnpinPage(victimID)

	mergedChildren := append(append([]PageID{}, sChildren...), vChildren...)
	mergedKeys := append(append(append([][]byte{}, sKeys...), pulldown), vKeys...)

	nbuf := rebuildInternalPage(bt.pager.pageSize, survivorID, mergedChildren, mergedKeys)
	if err := bt.pager.WritePage(txID, survivorID, nbuf); err != nil {
		return err
	}
	bt.pager.FreePage(txID, victimID)

	return bt.removeSeparatorAndChild(txID, ancestors, idxs, sepIdx)
}

// ── Range scan ────────────────────────────────────────────────────────────

// ScanRange calls fn for each key-value pair where startKey <= key <= endKey.
// If endKey is nil, scans to the end. If fn returns false, the scan stops.
func (bt *BTree) ScanRange(startKey, endKey []byte, fn func(key, value []byte) bool) error {
	leafID, err := bt.findLeaf(startKey)
	if err != nil {
		return err
	}

	for leafID != InvalidPageID {
		buf, err := bt.pager.ReadPage(leafID)
		if err != nil {
			return err
		}
		bp := WrapBTreePage(buf)
		sc := bp.slotCount()

		for i := 0; i < sc; i++ {
			entry := bp.GetLeafEntry(i)
			if bytes.Compare(entry.Key, startKey) < 0 {
				continue
			}
			if endKey != nil && bytes.Compare(entry.Key, endKey) > 0 {
				bt.pager.UnpinPage(leafID)
				return nil
			}
			var val []byte
			if entry.Overflow {
				val, err = bt.readOverflow(entry.OverflowPageID, entry.TotalSize)
				if err != nil {
					bt.pager.UnpinPage(leafID)
					return err
				}
			} else {
				val = entry.Value
			}
			if !fn(entry.Key, val) {
				bt.pager.UnpinPage(leafID)
				return nil
			}
		}

		nextLeaf := bp.NextLeaf()
		bt.pager.UnpinPage(leafID)
		leafID = nextLeaf
	}
	return nil
}

// ── Overflow chain I/O ───────────────────────────────────────────────────

func (bt *BTree) writeOverflow(txID TxID, data []byte) (PageID, error) {
	chunkCap := OverflowCapacity(bt.pager.pageSize)
	var headID PageID
	var prevBuf []byte
	var prevID PageID

	for off := 0; off < len(data); off += chunkCap {
		end := off + chunkCap
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]

		pid, buf := bt.pager.AllocPage()
		op := InitOverflowPage(buf, pid)
		if err := op.SetData(chunk); err != nil {
			return 0, err
		}

		if prevBuf != nil {
			prevOP := WrapOverflowPage(prevBuf)
			prevOP.SetNextOverflow(pid)
			SetPageCRC(prevBuf)
			if err := bt.pager.WritePage(txID, prevID, prevBuf); err != nil {
				return 0, err
			}
			bt.pager.UnpinPage(prevID)
		} else {
			headID = pid
		}

		prevBuf = buf
		prevID = pid
	}

	if prevBuf != nil {
		SetPageCRC(prevBuf)
		if err := bt.pager.WritePage(txID, prevID, prevBuf); err != nil {
			return 0, err
		}
		bt.pager.UnpinPage(prevID)
	}

	return headID, nil
}

func (bt *BTree) readOverflow(headID PageID, totalSize uint32) ([]byte, error) {
	result := make([]byte, 0, totalSize)
	pid := headID
	for pid != InvalidPageID {
		buf, err := bt.pager.ReadPage(pid)
		if err != nil {
			return nil, err
		}
		op := WrapOverflowPage(buf)
		if err := op.Verify(); err != nil {
			bt.pager.UnpinPage(pid)
			return nil, err
		}
		result = append(result, op.Data()...)
		next := op.NextOverflow()
		bt.pager.UnpinPage(pid)
		pid = next
	}
	return result, nil
}

func (bt *BTree) freeOverflowChain(txID TxID, headID PageID) {
	pid := headID
	for pid != InvalidPageID {
		buf, err := bt.pager.ReadPage(pid)
		if err != nil {
			break
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		bt.pager.UnpinPage(pid)
		bt.pager.FreePage(txID, pid)
		pid = next
	}
}

// FreeAllPages recursively frees every page owned by this B+Tree
// (internal nodes, leaf nodes, and overflow chains). After this call
// the tree is invalid and must not be used.
//
// Pages are collected into a single batch and freed via Pager.FreePages
// rather than one Pager.FreePage call per page, so a Clear() on a large
// tree takes the pager's free-list lock once instead of once per page.
func (bt *BTree) FreeAllPages(txID TxID) {
	var pids []PageID
	bt.collectSubtree(txID, bt.root, &pids)
	bt.pager.FreePages(txID, pids)
}

func (bt *BTree) collectSubtree(txID TxID, pid PageID, pids *[]PageID) {
	if pid == InvalidPageID {
		return
	}
	buf, err := bt.pager.ReadPage(pid)
	if err != nil {
		return
	}
	bp := WrapBTreePage(buf)

	if bp.IsLeaf() {
		sc := bp.slotCount()
		for i := 0; i < sc; i++ {
			entry := bp.GetLeafEntry(i)
			if entry.Overflow {
				bt.collectOverflowChain(entry.OverflowPageID, pids)
			}
		}
		bt.pager.UnpinPage(pid)
		*pids = append(*pids, pid)
		return
	}

	children := allChildren(bp)
	bt.pager.UnpinPage(pid)

	for _, child := range children {
		bt.collectSubtree(txID, child, pids)
	}
	*pids = append(*pids, pid)
}

func (bt *BTree) collectOverflowChain(pid PageID, pids *[]PageID) {
	for pid != InvalidPageID {
		buf, err := bt.pager.ReadPage(pid)
		if err != nil {
			return
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		bt.pager.UnpinPage(pid)
		*pids = append(*pids, pid)
		pid = next
	}
}

// ── Count ─────────────────────────────────────────────────────────────────

// Count returns the total number of key-value pairs in the tree.
func (bt *BTree) Count() (int, error) {
	pageID := bt.root
	for {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		bp := WrapBTreePage(buf)
		if bp.IsLeaf() {
			bt.pager.UnpinPage(pageID)
			break
		}
		child := childAt(bp, 0)
		bt.pager.UnpinPage(pageID)
		pageID = child
	}

	count := 0
	for pageID != InvalidPageID {
		buf, err := bt.pager.ReadPage(pageID)
		if err != nil {
			return 0, err
		}
		bp := WrapBTreePage(buf)
		count += bp.KeyCount()
		next := bp.NextLeaf()
		bt.pager.UnpinPage(pageID)
		pageID = next
	}
	return count, nil
}
