package pager

import (
	"fmt"
	"sort"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recovery reads the WAL from the beginning and replays only fully
// committed transactions whose page images have an LSN > the checkpoint
// LSN. Uncommitted/aborted transactions are discarded.
//
// Algorithm:
//   1. Read all WAL records.
//   2. Build a map TxID → list of PAGE_IMAGE/FREE records.
//   3. Track which TxIDs have a COMMIT record (committed set).
//   4. For each committed TX in TxID order (BeginTx issues ids in
//      increasing order), apply PAGE_IMAGE records whose LSN > the
//      checkpoint LSN, and replay FREE records into the
//      in-memory free-list so freed pages are not mistaken for live ones.
//   5. If a SUPERBLOCK record was logged, it becomes the recovery baseline
//      (it reflects state that a checkpoint promised durable even if the
//      plain superblock page write that followed it never landed).
//   6. Fsync the database file.
//   7. Update and flush the superblock with the new checkpoint LSN.
//   8. Truncate the WAL.

// Recover replays the WAL and applies committed transactions.
func (p *Pager) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("recover read WAL: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	type txRecords struct {
		pages     []*WALRecord
		frees     []PageID
		committed bool
		aborted   bool
	}
	txMap := make(map[TxID]*txRecords)

	var maxLSN LSN
	var maxTxID TxID
	var lastSuperblock []byte

	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}

		switch rec.Type {
		case WALRecordBegin:
			txMap[rec.TxID] = &txRecords{}
		case WALRecordPageImage:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.pages = append(tr.pages, rec)
		case WALRecordFree:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.frees = append(tr.frees, rec.PageID)
		case WALRecordCommit:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.committed = true
			}
		case WALRecordAbort:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.aborted = true
			}
		case WALRecordSuperblock:
			lastSuperblock = rec.Data
		case WALRecordCheckpoint:
			// Checkpoint record; all prior transactions are flushed.
		}
	}

	// A logged superblock reflects a checkpoint's promised durable state;
	// adopt it as the recovery baseline before replaying anything newer.
	if lastSuperblock != nil {
		if sb, err := UnmarshalSuperblock(lastSuperblock); err == nil {
			p.sb = sb
		}
	}

	txIDs := make([]TxID, 0, len(txMap))
	for id := range txMap {
		txIDs = append(txIDs, id)
	}
	sort.Slice(txIDs, func(i, j int) bool { return txIDs[i] < txIDs[j] })

	var applied int
	for _, id := range txIDs {
		tr := txMap[id]
		if !tr.committed || tr.aborted {
			continue
		}
		for _, rec := range tr.pages {
			if rec.LSN <= LSN(p.sb.CheckpointLSN) {
				continue
			}
			if err := p.writePageRaw(rec.PageID, rec.Data); err != nil {
				return fmt.Errorf("recover apply page %d: %w", rec.PageID, err)
			}
			applied++
		}
		for _, pid := range tr.frees {
			p.freeMgr.Free(pid)
		}
	}

	if applied > 0 {
		if err := p.file.Sync(); err != nil {
			return err
		}
	}

	// Update superblock counters regardless of whether any page images
	// were replayed — NextTxID/NextPageID must still advance past anything
	// the WAL recorded.
	p.sb.CheckpointLSN = maxLSN
	if TxID(maxTxID+1) > p.sb.NextTxID {
		p.sb.NextTxID = TxID(maxTxID + 1)
	}
	for _, tr := range txMap {
		if !tr.committed {
			continue
		}
		for _, rec := range tr.pages {
			if PageID(rec.PageID+1) > p.sb.NextPageID {
				p.sb.NextPageID = PageID(rec.PageID + 1)
				p.sb.PageCount = uint64(p.sb.NextPageID)
			}
		}
	}

	sbBuf := MarshalSuperblock(p.sb, p.pageSize)
	if err := p.writePageRaw(0, sbBuf); err != nil {
		return fmt.Errorf("recover superblock: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return err
	}

	// Set WAL next LSN beyond recovered records.
	p.wal.SetNextLSN(maxLSN + 1)

	// Truncate the WAL.
	return p.wal.Truncate()
}
