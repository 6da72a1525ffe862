package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"classtrack/internal/remote"
	"classtrack/internal/store"
)

type fakeBoundary struct {
	mu      sync.Mutex
	offline bool
	fail    error
	batches [][]store.Event
}

func (f *fakeBoundary) Reachable(context.Context) bool { return !f.offline }

func (f *fakeBoundary) SyncEvents(_ context.Context, _ string, events []store.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.batches = append(f.batches, events)
	return nil
}

func testRepo(t *testing.T) *store.Repository {
	t.Helper()
	db, err := store.NewDB(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewRepository(db)
}

func seedEvents(t *testing.T, repo *store.Repository, owner string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		evt, err := repo.InsertEvent(context.Background(), store.Event{
			Owner: owner, ClassID: owner + "/c", StudentID: "S1", Mode: "joining", Status: "joined",
		})
		if err != nil {
			t.Fatalf("seeding event: %v", err)
		}
		ids = append(ids, evt.ID)
	}
	return ids
}

func TestReconcile_Offline_MakesNoAttempt(t *testing.T) {
	repo := testRepo(t)
	seedEvents(t, repo, "o", 2)
	boundary := &fakeBoundary{offline: true}

	report := New(repo, boundary, "o").Reconcile(context.Background())

	if report.OK || report.Reason != "offline" {
		t.Fatalf("report = %+v, want offline failure", report)
	}
	if len(boundary.batches) != 0 {
		t.Error("no batch may be submitted while offline")
	}
}

func TestReconcile_NothingPending_ReportsZero(t *testing.T) {
	report := New(testRepo(t), &fakeBoundary{}, "o").Reconcile(context.Background())
	if !report.OK || report.Synced != 0 {
		t.Fatalf("report = %+v, want ok with zero synced", report)
	}
}

func TestReconcile_Success_AcknowledgesWholeBatch(t *testing.T) {
	repo := testRepo(t)
	seedEvents(t, repo, "o", 3)
	boundary := &fakeBoundary{}
	rec := New(repo, boundary, "o")

	report := rec.Reconcile(context.Background())
	if !report.OK || report.Synced != 3 {
		t.Fatalf("report = %+v, want 3 synced", report)
	}
	if len(boundary.batches) != 1 || len(boundary.batches[0]) != 3 {
		t.Fatalf("expected one batch of 3, got %v", boundary.batches)
	}

	// Second pass with nothing new: idempotent, nothing resubmitted.
	report = rec.Reconcile(context.Background())
	if !report.OK || report.Synced != 0 {
		t.Fatalf("second report = %+v, want ok with zero synced", report)
	}
	if len(boundary.batches) != 1 {
		t.Error("acknowledged events must not be submitted again")
	}
}

func TestReconcile_Failure_LeavesBatchQueuedForNextPass(t *testing.T) {
	repo := testRepo(t)
	ids := seedEvents(t, repo, "o", 2)
	boundary := &fakeBoundary{fail: &remote.NetworkError{Err: context.DeadlineExceeded}}
	rec := New(repo, boundary, "o")

	report := rec.Reconcile(context.Background())
	if report.OK {
		t.Fatalf("report = %+v, want failure", report)
	}

	pending, err := repo.ListUnacknowledged(context.Background(), "o")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("failed pass must leave all records unacknowledged, got %d", len(pending))
	}

	// Recovery: the very next successful pass carries the same events.
	boundary.fail = nil
	report = rec.Reconcile(context.Background())
	if !report.OK || report.Synced != 2 {
		t.Fatalf("recovery report = %+v, want 2 synced", report)
	}
	batch := boundary.batches[0]
	if batch[0].ID != ids[0] || batch[1].ID != ids[1] {
		t.Errorf("recovered batch = %v, want the originally failed events %v", batch, ids)
	}
}

// blockingBoundary holds every SyncEvents call open until released, so a test
// can pile concurrent reconcile calls onto one in-flight pass.
type blockingBoundary struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	batches [][]store.Event
}

func (b *blockingBoundary) Reachable(context.Context) bool { return true }

func (b *blockingBoundary) SyncEvents(_ context.Context, _ string, events []store.Event) error {
	b.entered <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.batches = append(b.batches, events)
	b.mu.Unlock()
	return nil
}

func TestReconcile_ConcurrentCalls_CoalesceIntoOneBatch(t *testing.T) {
	repo := testRepo(t)
	seedEvents(t, repo, "o", 2)

	const callers = 4
	boundary := &blockingBoundary{
		entered: make(chan struct{}, callers),
		release: make(chan struct{}),
	}
	rec := New(repo, boundary, "o")

	reports := make(chan Report, callers)
	for i := 0; i < callers; i++ {
		go func() { reports <- rec.Reconcile(context.Background()) }()
	}

	<-boundary.entered
	// Let the remaining callers arrive while the first pass is in flight.
	time.Sleep(50 * time.Millisecond)
	close(boundary.release)

	for i := 0; i < callers; i++ {
		select {
		case report := <-reports:
			if !report.OK {
				t.Fatalf("caller got %+v, want a successful shared or follow-up report", report)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("a reconcile call never returned")
		}
	}

	boundary.mu.Lock()
	defer boundary.mu.Unlock()
	if len(boundary.batches) != 1 {
		t.Fatalf("submitted %d batches, want exactly one for concurrent callers", len(boundary.batches))
	}
	if len(boundary.batches[0]) != 2 {
		t.Errorf("batch carried %d events, want 2", len(boundary.batches[0]))
	}
}

func TestReconcile_ScopedToOwner(t *testing.T) {
	repo := testRepo(t)
	seedEvents(t, repo, "mine", 1)
	seedEvents(t, repo, "theirs", 1)
	boundary := &fakeBoundary{}

	report := New(repo, boundary, "mine").Reconcile(context.Background())
	if report.Synced != 1 {
		t.Fatalf("synced %d, want only the owner's event", report.Synced)
	}
	if boundary.batches[0][0].Owner != "mine" {
		t.Errorf("submitted event owned by %s", boundary.batches[0][0].Owner)
	}
}
