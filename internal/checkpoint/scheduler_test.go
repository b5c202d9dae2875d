package checkpoint

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeCheckpointer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCheckpointer) Checkpoint() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeCheckpointer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	target := &fakeCheckpointer{}
	s, err := NewScheduler(target, "@every 10ms")
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for target.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if target.count() == 0 {
		t.Fatal("expected at least one checkpoint to have run")
	}
}

func TestScheduler_RecordsLastError(t *testing.T) {
	wantErr := errors.New("disk full")
	target := &fakeCheckpointer{err: wantErr}
	s, err := NewScheduler(target, "@every 10ms")
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for s.LastError() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.LastError() == nil {
		t.Fatal("expected LastError to be recorded")
	}
}

func TestScheduler_InvalidSpecRejected(t *testing.T) {
	target := &fakeCheckpointer{}
	if _, err := NewScheduler(target, "not a cron spec"); err == nil {
		t.Fatal("expected an error for an invalid cron spec")
	}
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	target := &fakeCheckpointer{}
	s, err := NewScheduler(target, "@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Stop()
	s.Stop() // must not panic or block
}
