package syncer

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"classtrack/internal/remote"
	"classtrack/internal/store"
)

// Boundary is the slice of the remote client the reconciler needs.
type Boundary interface {
	Reachable(ctx context.Context) bool
	SyncEvents(ctx context.Context, batchID string, events []store.Event) error
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	OK     bool   `json:"ok"`
	Synced int    `json:"synced"`
	Reason string `json:"reason,omitempty"`
}

// Reconciler delivers locally durable, unacknowledged events to the remote
// boundary, at least once. A pass is all-or-nothing: records are marked
// acknowledged only after the whole batch is accepted, so a failed pass
// leaves everything queued for the next one.
type Reconciler struct {
	repo   *store.Repository
	remote Boundary
	owner  string
	group  singleflight.Group
}

// New creates a reconciler for one owner.
func New(repo *store.Repository, boundary Boundary, owner string) *Reconciler {
	return &Reconciler{repo: repo, remote: boundary, owner: owner}
}

// Reconcile runs one pass. Concurrent calls for the same owner are coalesced
// into a single in-flight pass; the duplicate callers share its report, so
// the same batch is never submitted twice in parallel.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	v, _, _ := r.group.Do(r.owner, func() (any, error) {
		return r.run(ctx), nil
	})
	return v.(Report)
}

func (r *Reconciler) run(ctx context.Context) Report {
	if !r.remote.Reachable(ctx) {
		return Report{OK: false, Reason: "offline"}
	}
	events, err := r.repo.ListUnacknowledged(ctx, r.owner)
	if err != nil {
		return Report{OK: false, Reason: "storage: " + err.Error()}
	}
	if len(events) == 0 {
		return Report{OK: true, Synced: 0}
	}
	if err := r.remote.SyncEvents(ctx, uuid.NewString(), events); err != nil {
		return Report{OK: false, Reason: remote.ErrorKind(err) + ": " + err.Error()}
	}
	ids := make([]int64, len(events))
	for i, evt := range events {
		ids[i] = evt.ID
	}
	if err := r.repo.MarkAcknowledged(ctx, ids); err != nil {
		// The batch was delivered; the flags flip on the next pass and the
		// server sees a duplicate batch, which at-least-once allows.
		return Report{OK: false, Reason: "storage: " + err.Error()}
	}
	return Report{OK: true, Synced: len(events)}
}
