package pager

import (
	"fmt"
	"testing"
)

func TestCursor_ForwardUnbounded(t *testing.T) {
	p := newTestPager(t)
	txID, _ := p.BeginTx()
	bt, _ := CreateBTree(p, txID, DefaultBranchingFactor)
	n := 50
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		bt.Insert(txID, []byte(key), []byte(fmt.Sprintf("v%05d", i)))
	}
	p.CommitTx(txID)

	cur := bt.NewCursor(nil, nil, Forward)
	var keys []string
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
		keys = append(keys, string(k))
	}
	if len(keys) != n {
		t.Fatalf("got %d keys want %d", len(keys), n)
	}
	for i, k := range keys {
		want := fmt.Sprintf("k%05d", i)
		if k != want {
			t.Fatalf("keys[%d]=%q want %q", i, k, want)
		}
	}
}

func TestCursor_BackwardUnbounded(t *testing.T) {
	p := newTestPager(t)
	txID, _ := p.BeginTx()
	bt, _ := CreateBTree(p, txID, DefaultBranchingFactor)
	n := 50
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		bt.Insert(txID, []byte(key), []byte(fmt.Sprintf("v%05d", i)))
	}
	p.CommitTx(txID)

	cur := bt.NewCursor(nil, nil, Backward)
	var keys []string
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
		keys = append(keys, string(k))
	}
	if len(keys) != n {
		t.Fatalf("got %d keys want %d", len(keys), n)
	}
	for i, k := range keys {
		want := fmt.Sprintf("k%05d", n-1-i)
		if k != want {
			t.Fatalf("keys[%d]=%q want %q", i, k, want)
		}
	}
}

func TestCursor_Bounded(t *testing.T) {
	p := newTestPager(t)
	txID, _ := p.BeginTx()
	bt, _ := CreateBTree(p, txID, DefaultBranchingFactor)
	n := 50
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		bt.Insert(txID, []byte(key), []byte(fmt.Sprintf("v%05d", i)))
	}
	p.CommitTx(txID)

	lo := []byte("k00010")
	hi := []byte("k00020")
	cur := bt.NewCursor(lo, hi, Forward)
	var keys []string
	for {
		ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		k, _, err := cur.Entry()
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, string(k))
	}
	if len(keys) != 10 {
		t.Fatalf("got %d keys want 10: %v", len(keys), keys)
	}
	if keys[0] != "k00010" || keys[len(keys)-1] != "k00019" {
		t.Fatalf("unexpected bound keys: first=%q last=%q", keys[0], keys[len(keys)-1])
	}

	curBack := bt.NewCursor(lo, hi, Backward)
	var backKeys []string
	for {
		ok, err := curBack.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		k, err := curBack.Key()
		if err != nil {
			t.Fatal(err)
		}
		backKeys = append(backKeys, string(k))
	}
	if len(backKeys) != len(keys) {
		t.Fatalf("backward got %d keys want %d", len(backKeys), len(keys))
	}
	for i, k := range backKeys {
		want := keys[len(keys)-1-i]
		if k != want {
			t.Fatalf("backKeys[%d]=%q want %q", i, k, want)
		}
	}
}

func TestCursor_EmptyTree(t *testing.T) {
	p := newTestPager(t)
	txID, _ := p.BeginTx()
	bt, _ := CreateBTree(p, txID, DefaultBranchingFactor)
	p.CommitTx(txID)

	cur := bt.NewCursor(nil, nil, Forward)
	ok, err := cur.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no entries in empty tree")
	}
}

func TestCursor_NotRestartable(t *testing.T) {
	p := newTestPager(t)
	txID, _ := p.BeginTx()
	bt, _ := CreateBTree(p, txID, DefaultBranchingFactor)
	bt.Insert(txID, []byte("a"), []byte("1"))
	p.CommitTx(txID)

	cur := bt.NewCursor(nil, nil, Forward)
	ok, err := cur.Next()
	if err != nil || !ok {
		t.Fatalf("expected one entry, got ok=%v err=%v", ok, err)
	}
	ok, err = cur.Next()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected cursor exhausted after single entry")
	}
	// Calling Next again on an exhausted cursor stays exhausted rather than
	// restarting the scan.
	ok, err = cur.Next()
	if err != nil || ok {
		t.Fatalf("exhausted cursor should stay exhausted, got ok=%v err=%v", ok, err)
	}
}

func TestCursor_SpansMultipleLeaves(t *testing.T) {
	p := newTestPager(t)
	txID, _ := p.BeginTx()
	bt, _ := CreateBTree(p, txID, MinBranchingFactor)
	n := 80
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%05d", i)
		bt.Insert(txID, []byte(key), []byte(fmt.Sprintf("v%05d", i)))
	}
	p.CommitTx(txID)

	res, err := bt.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("tree not well-formed before cursor test: %v", res.Violations)
	}

	cur := bt.NewCursor(nil, nil, Forward)
	count := 0
	for {
		ok, err := cur.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != n {
		t.Fatalf("got %d entries want %d", count, n)
	}
}
