package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"classtrack/internal/remote"
	"classtrack/internal/store"
)

// TimestampSender is the slice of the remote boundary the finalizer needs.
type TimestampSender interface {
	SaveStudentTimestamps(ctx context.Context, classID, facultyNumber string, joinedAt, leftAt *time.Time) error
}

// StudentFailure reports one student's failed delivery during finalization.
type StudentFailure struct {
	StudentID string `json:"student_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}

// FinalizeReport is the per-student outcome of closing a session. Partial
// failure is expected and non-fatal; every failed student's events remain
// durable locally and will be retried by the reconciler.
type FinalizeReport struct {
	Succeeded []string         `json:"succeeded"`
	Failed    []StudentFailure `json:"failed"`
}

// Finalizer converts a finished session into durable attendance events and
// pushes the captured timestamps to the remote boundary.
type Finalizer struct {
	repo   *store.Repository
	sender TimestampSender
}

// NewFinalizer creates a finalizer.
func NewFinalizer(repo *store.Repository, sender TimestampSender) *Finalizer {
	return &Finalizer{repo: repo, sender: sender}
}

// Finalize closes a session. Completed students get a durable, queued-for-sync
// attendance event; every captured timestamp pair is delivered to the remote
// boundary as an independent fan-out call. One student's failure never blocks
// another's delivery, and the session's in-memory tables are cleared no
// matter what — the durable event is the authoritative outcome.
func (f *Finalizer) Finalize(ctx context.Context, sess *Session) FinalizeReport {
	completed := sess.Completed()
	stamps := sess.Timestamps()
	defer sess.Clear()

	failures := make(map[string]StudentFailure)
	touched := make(map[string]bool)

	for _, id := range completed {
		touched[id] = true
		_, err := f.repo.InsertEvent(ctx, store.Event{
			Owner:     sess.Owner,
			ClassID:   sess.ClassID,
			StudentID: id,
			Mode:      string(ModeLeaving),
			Status:    string(StatusCompleted),
		})
		if err != nil {
			failures[id] = StudentFailure{StudentID: id, Kind: failureKind(err), Error: err.Error()}
		}
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, stamp := range stamps {
		if stamp.Empty() {
			continue
		}
		touched[id] = true
		wg.Add(1)
		go func(id string, stamp Stamp) {
			defer wg.Done()
			err := f.sender.SaveStudentTimestamps(ctx, sess.ClassID, id, stamp.JoinedAt, stamp.LeftAt)
			if err == nil {
				return
			}
			mu.Lock()
			if _, exists := failures[id]; !exists {
				failures[id] = StudentFailure{StudentID: id, Kind: failureKind(err), Error: err.Error()}
			}
			mu.Unlock()
		}(id, stamp)
	}
	wg.Wait()

	var report FinalizeReport
	for id := range touched {
		if fail, ok := failures[id]; ok {
			report.Failed = append(report.Failed, fail)
		} else {
			report.Succeeded = append(report.Succeeded, id)
		}
	}
	sort.Strings(report.Succeeded)
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].StudentID < report.Failed[j].StudentID
	})
	return report
}

func failureKind(err error) string {
	var storageErr *store.StorageError
	if errors.As(err, &storageErr) {
		return "storage"
	}
	return remote.ErrorKind(err)
}
