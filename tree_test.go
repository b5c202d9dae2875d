package bptreekv

import (
	"path/filepath"
	"testing"

	"github.com/bptreekv/bptreekv/internal/pager"
)

func newTestTree(t *testing.T) *Tree[uint64, string] {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DBPath:          filepath.Join(dir, "test.db"),
		BranchingFactor: 4,
		Create:          true,
	}
	tr, err := Open[uint64, string](cfg, Uint64Codec{}, StringCodec{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTree_InsertGetDelete(t *testing.T) {
	tr := newTestTree(t)

	if _, found, err := tr.Insert(1, "one"); err != nil || found {
		t.Fatalf("first insert: found=%v err=%v", found, err)
	}
	prev, found, err := tr.Insert(1, "uno")
	if err != nil {
		t.Fatal(err)
	}
	if !found || prev != "one" {
		t.Fatalf("overwrite: found=%v prev=%q", found, prev)
	}

	v, found, err := tr.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !found || v != "uno" {
		t.Fatalf("get: found=%v v=%q", found, v)
	}

	deleted, found, err := tr.Delete(1)
	if err != nil {
		t.Fatal(err)
	}
	if !found || deleted != "uno" {
		t.Fatalf("delete: found=%v deleted=%q", found, deleted)
	}

	if found, err := tr.Contains(1); err != nil || found {
		t.Fatalf("contains after delete: found=%v err=%v", found, err)
	}
}

func TestTree_RangeAndDescending(t *testing.T) {
	tr := newTestTree(t)
	for i := uint64(0); i < 20; i++ {
		if _, _, err := tr.Insert(i, ""); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	cur := tr.Range(5, 10, true, true)
	var got []uint64
	for {
		ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		k, err := cur.Key()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, k)
	}
	if len(got) != 5 {
		t.Fatalf("range got %d keys want 5: %v", len(got), got)
	}
	for i, k := range got {
		if k != 5+uint64(i) {
			t.Fatalf("got[%d]=%d want %d", i, k, 5+uint64(i))
		}
	}

	desc := tr.Descending()
	ok, err := desc.Next()
	if err != nil || !ok {
		t.Fatalf("descending Next: ok=%v err=%v", ok, err)
	}
	first, err := desc.Key()
	if err != nil {
		t.Fatal(err)
	}
	if first != 19 {
		t.Fatalf("descending first key = %d want 19", first)
	}
}

func TestTree_CountAndClear(t *testing.T) {
	tr := newTestTree(t)
	for i := uint64(0); i < 30; i++ {
		if _, _, err := tr.Insert(i, "x"); err != nil {
			t.Fatal(err)
		}
	}
	count, err := tr.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 30 {
		t.Fatalf("count = %d want 30", count)
	}

	if err := tr.Clear(); err != nil {
		t.Fatal(err)
	}
	count, err = tr.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count after clear = %d want 0", count)
	}
	if _, found, err := tr.Get(0); err != nil || found {
		t.Fatalf("get after clear: found=%v err=%v", found, err)
	}

	// Tree must still be usable after Clear.
	if _, _, err := tr.Insert(0, "reborn"); err != nil {
		t.Fatalf("insert after clear: %v", err)
	}
	count, err = tr.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count after post-clear insert = %d want 1", count)
	}
}

func TestTree_VerifyAndNodes(t *testing.T) {
	tr := newTestTree(t)
	for i := uint64(0); i < 100; i++ {
		if _, _, err := tr.Insert(i, "v"); err != nil {
			t.Fatal(err)
		}
	}
	res, err := tr.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("verify found violations: %v", res.Violations)
	}

	var leaves, branches int
	err = tr.Nodes(func(n pager.NodeSummary) bool {
		if n.IsLeaf {
			leaves++
		} else {
			branches++
		}
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if leaves == 0 {
		t.Fatal("expected at least one leaf")
	}
}

func TestTree_ReopenPersists(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "reopen.db")

	tr, err := Open[uint64, string](Config{DBPath: dbPath, BranchingFactor: 4, Create: true}, Uint64Codec{}, StringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 10; i++ {
		if _, _, err := tr.Insert(i, "persisted"); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	tr2, err := Open[uint64, string](Config{DBPath: dbPath}, Uint64Codec{}, StringCodec{})
	if err != nil {
		t.Fatal(err)
	}
	defer tr2.Close()

	v, found, err := tr2.Get(5)
	if err != nil {
		t.Fatal(err)
	}
	if !found || v != "persisted" {
		t.Fatalf("reopened tree: found=%v v=%q", found, v)
	}
	count, err := tr2.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 10 {
		t.Fatalf("reopened count = %d want 10", count)
	}
}

func TestTree_OpenWithoutCreateFailsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Open[uint64, string](Config{DBPath: filepath.Join(dir, "missing.db")}, Uint64Codec{}, StringCodec{})
	if err == nil {
		t.Fatal("expected error opening a missing database without Create")
	}
}
