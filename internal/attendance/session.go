package attendance

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classtrack/internal/store"
)

// ErrClassNotReady is returned when a session is started for a class with an
// empty roster.
var ErrClassNotReady = errors.New("class roster is empty")

// Stamp holds the join/leave instants captured for one student during a
// session. Either side may be nil if the corresponding scan never happened.
type Stamp struct {
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Empty reports whether neither instant was captured.
func (s Stamp) Empty() bool { return s.JoinedAt == nil && s.LeftAt == nil }

// Session is one continuous scanning period for a class. It owns the status
// table and the in-memory timestamp table; nothing here touches storage or
// the network. Sessions are values with an explicit lifetime, created by
// Registry.Start and discarded after finalization.
type Session struct {
	ID        string
	Owner     string
	ClassID   string
	StartedAt time.Time

	mu     sync.Mutex
	roster map[string]bool
	status map[string]Status
	stamps map[string]Stamp
}

// NewSession starts a session for a class, seeding every roster member at
// StatusNone so status queries are total.
func NewSession(owner string, class store.ClassRecord, now time.Time) (*Session, error) {
	if !class.Ready() {
		return nil, ErrClassNotReady
	}
	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		ClassID:   class.ID,
		StartedAt: now,
		roster:    make(map[string]bool, len(class.Roster)),
		status:    make(map[string]Status, len(class.Roster)),
		stamps:    make(map[string]Stamp),
	}
	for _, id := range class.Roster {
		s.roster[id] = true
		s.status[id] = StatusNone
	}
	return s, nil
}

// ApplyScan validates roster membership and applies one guarded transition.
// joined-at is captured exactly once, on none->joined; left-at exactly once,
// on joined->completed.
func (s *Session) ApplyScan(studentID string, mode Mode, now time.Time) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.roster[studentID] {
		return Outcome{Kind: OutcomeNotInRoster, StudentID: studentID, Status: StatusNone, At: now}
	}
	current := s.status[studentID]
	next, kind := advance(current, mode)
	if kind != OutcomeChanged {
		return Outcome{Kind: kind, StudentID: studentID, Status: current, At: now}
	}
	s.status[studentID] = next
	stamp := s.stamps[studentID]
	at := now
	switch next {
	case StatusJoined:
		stamp.JoinedAt = &at
	case StatusCompleted:
		stamp.LeftAt = &at
	}
	s.stamps[studentID] = stamp
	return Outcome{Kind: OutcomeChanged, StudentID: studentID, Status: next, At: now}
}

// Status returns the current status for one roster member.
func (s *Session) Status(studentID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[studentID]
}

// Statuses returns a snapshot of the status table.
func (s *Session) Statuses() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.status))
	for id, st := range s.status {
		out[id] = st
	}
	return out
}

// Timestamps returns a snapshot of the captured join/leave instants.
func (s *Session) Timestamps() map[string]Stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stamp, len(s.stamps))
	for id, st := range s.stamps {
		out[id] = st
	}
	return out
}

// Completed returns the ids of students who finished the session, sorted for
// stable reports.
func (s *Session) Completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, st := range s.status {
		if st == StatusCompleted {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clear wipes the status and timestamp tables. Called unconditionally at the
// end of finalization, whatever the delivery outcome.
func (s *Session) Clear() {
	s.mu.Lock()
	s.status = make(map[string]Status)
	s.stamps = make(map[string]Stamp)
	s.roster = make(map[string]bool)
	s.mu.Unlock()
}

// Registry tracks live sessions by id. It replaces the module-global session
// state of older builds; callers own the registry's lifetime.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Start opens a session for a class and registers it.
func (r *Registry) Start(owner string, class store.ClassRecord, now time.Time) (*Session, error) {
	sess, err := NewSession(owner, class, now)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess, nil
}

// Get returns a live session, nil when unknown.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove drops a session from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
