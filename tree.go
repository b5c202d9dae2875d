// Package bptreekv is an embedded, persistent, single-writer ordered
// key-value index backed by an on-disk B+Tree with write-ahead logging.
// Tree is the generic façade over internal/pager's raw-[]byte engine.
package bptreekv

import (
	"fmt"
	"sync"

	"github.com/bptreekv/bptreekv/internal/checkpoint"
	"github.com/bptreekv/bptreekv/internal/pager"
	"github.com/google/uuid"
)

// Tree is an ordered key-value index over keys of type K and values of
// type V, encoded to and from the engine's native []byte ordering via
// Codec[K] and Codec[V]. A Tree is safe for concurrent readers; writes
// (Insert/Delete/Clear) must come from a single goroutine at a time, per
// spec.md §5's single-writer discipline.
type Tree[K, V any] struct {
	mu        sync.Mutex
	p         *pager.Pager
	bt        *pager.BTree
	keyCodec  Codec[K]
	valCodec  Codec[V]
	sched     *checkpoint.Scheduler
}

// Open opens an existing tree at cfg.DBPath, or creates one if cfg.Create
// is set and no file exists there yet.
func Open[K, V any](cfg Config, keyCodec Codec[K], valCodec Codec[V]) (*Tree[K, V], error) {
	p, err := pager.OpenPager(cfg.toPagerConfig())
	if err != nil {
		return nil, err
	}

	sb := p.Superblock()
	var bt *pager.BTree
	if sb.RootPageID == pager.InvalidPageID {
		txID, err := p.BeginTx()
		if err != nil {
			p.Close()
			return nil, err
		}
		bt, err = pager.CreateBTree(p, txID, cfg.branchingFactor())
		if err != nil {
			p.AbortTx(txID)
			p.Close()
			return nil, err
		}
		root := bt.Root()
		p.UpdateSuperblock(func(sb *pager.Superblock) { sb.RootPageID = root })
		if err := p.CommitTx(txID); err != nil {
			p.Close()
			return nil, err
		}
		// Persist the new root durably now rather than leaving it to the
		// first caller-triggered checkpoint — a crash before then would
		// otherwise reopen to an empty tree with the root page orphaned.
		if err := p.Checkpoint(); err != nil {
			p.Close()
			return nil, err
		}
	} else {
		bt = pager.NewBTree(p, sb.RootPageID, sb.BranchingFactor)
	}

	t := &Tree[K, V]{p: p, bt: bt, keyCodec: keyCodec, valCodec: valCodec}

	if cfg.CheckpointSchedule != "" {
		sched, err := checkpoint.NewScheduler(p, cfg.CheckpointSchedule)
		if err != nil {
			p.Close()
			return nil, pager.Wrap(pager.KindConfig, "Open", err)
		}
		sched.Start()
		t.sched = sched
	}

	return t, nil
}

// InstanceID returns the random identifier stamped into this tree's file
// at creation time.
func (t *Tree[K, V]) InstanceID() uuid.UUID {
	id := t.p.InstanceID()
	u, _ := uuid.FromBytes(id[:])
	return u
}

// Get looks up key, reporting whether it was present.
func (t *Tree[K, V]) Get(key K) (value V, found bool, err error) {
	kb := t.keyCodec.Encode(key)
	vb, found, err := t.bt.Get(kb)
	if err != nil || !found {
		return value, found, err
	}
	value, err = t.valCodec.Decode(vb)
	return value, found, err
}

// Contains reports whether key is present, without decoding its value.
func (t *Tree[K, V]) Contains(key K) (bool, error) {
	kb := t.keyCodec.Encode(key)
	_, found, err := t.bt.Get(kb)
	return found, err
}

// Insert adds key/value, or overwrites the value if key already exists.
// It returns the value key held before this call, if any, per spec.md §6's
// insert(key, value) -> previous_value | none.
func (t *Tree[K, V]) Insert(key K, value V) (previous V, hadPrevious bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kb := t.keyCodec.Encode(key)
	vb := t.valCodec.Encode(value)

	oldBytes, found, err := t.bt.Get(kb)
	if err != nil {
		return previous, false, err
	}
	if found {
		previous, err = t.valCodec.Decode(oldBytes)
		if err != nil {
			return previous, false, err
		}
	}

	txID, err := t.p.BeginTx()
	if err != nil {
		return previous, found, err
	}
	if err := t.bt.Insert(txID, kb, vb); err != nil {
		t.p.AbortTx(txID)
		return previous, found, err
	}
	root := t.bt.Root()
	t.p.UpdateSuperblock(func(sb *pager.Superblock) { sb.RootPageID = root })
	return previous, found, t.p.CommitTx(txID)
}

// Delete removes key, returning the value it held, if any, per spec.md §6's
// delete(key) -> value | none.
func (t *Tree[K, V]) Delete(key K) (value V, found bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kb := t.keyCodec.Encode(key)
	oldBytes, found, err := t.bt.Get(kb)
	if err != nil || !found {
		return value, found, err
	}
	value, err = t.valCodec.Decode(oldBytes)
	if err != nil {
		return value, found, err
	}

	txID, err := t.p.BeginTx()
	if err != nil {
		return value, found, err
	}
	deleted, err := t.bt.Delete(txID, kb)
	if err != nil {
		t.p.AbortTx(txID)
		return value, found, err
	}
	if !deleted {
		// Raced with a concurrent write between the Get above and this
		// Delete — should not happen under the single-writer discipline
		// spec.md §5 requires, but report honestly if it does.
		t.p.AbortTx(txID)
		return value, false, nil
	}
	root := t.bt.Root()
	t.p.UpdateSuperblock(func(sb *pager.Superblock) { sb.RootPageID = root })
	return value, true, t.p.CommitTx(txID)
}

// Clear frees every non-superblock page the tree owns and resets the root
// to a fresh empty leaf, per spec.md §6's clear().
func (t *Tree[K, V]) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	txID, err := t.p.BeginTx()
	if err != nil {
		return err
	}
	t.bt.FreeAllPages(txID)

	newBt, err := pager.CreateBTree(t.p, txID, t.p.BranchingFactor())
	if err != nil {
		t.p.AbortTx(txID)
		return err
	}
	root := newBt.Root()
	t.p.UpdateSuperblock(func(sb *pager.Superblock) { sb.RootPageID = root })
	if err := t.p.CommitTx(txID); err != nil {
		return err
	}
	t.bt = newBt
	return nil
}

// Count returns the number of entries currently stored.
func (t *Tree[K, V]) Count() (int, error) {
	return t.bt.Count()
}

// Checkpoint flushes the WAL into the main file and truncates it.
func (t *Tree[K, V]) Checkpoint() error {
	return t.p.Checkpoint()
}

// Verify walks the tree checking every structural invariant spec.md §3
// names. It is read-only; safe to call between writes.
func (t *Tree[K, V]) Verify() (*pager.VerifyResult, error) {
	return t.bt.Verify()
}

// Close stops any background checkpoint schedule and closes the underlying
// file handles.
func (t *Tree[K, V]) Close() error {
	if t.sched != nil {
		t.sched.Stop()
	}
	return t.p.Close()
}

func (t *Tree[K, V]) decodeEntry(kb, vb []byte) (K, V, error) {
	var k K
	var v V
	k, err := t.keyCodec.Decode(kb)
	if err != nil {
		return k, v, fmt.Errorf("decode key: %w", err)
	}
	v, err = t.valCodec.Decode(vb)
	if err != nil {
		return k, v, fmt.Errorf("decode value: %w", err)
	}
	return k, v, nil
}
