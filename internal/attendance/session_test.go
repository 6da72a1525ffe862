package attendance

import (
	"testing"
	"time"

	"classtrack/internal/store"
)

func testClass(roster ...string) store.ClassRecord {
	return store.ClassRecord{
		ID:     "t@uni.example/Algorithms",
		Owner:  "t@uni.example",
		Name:   "Algorithms",
		Roster: roster,
	}
}

func TestNewSession_EmptyRoster_ReturnsErrClassNotReady(t *testing.T) {
	_, err := NewSession("t@uni.example", testClass(), time.Now())
	if err != ErrClassNotReady {
		t.Fatalf("expected ErrClassNotReady, got %v", err)
	}
}

func TestNewSession_SeedsWholeRosterAtNone(t *testing.T) {
	sess, err := NewSession("t@uni.example", testClass("S1", "S2"), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	statuses := sess.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 seeded statuses, got %d", len(statuses))
	}
	for id, st := range statuses {
		if st != StatusNone {
			t.Errorf("student %s seeded at %s, want none", id, st)
		}
	}
}

func TestSession_ScanScenario_ForwardOnlyTransitions(t *testing.T) {
	base := time.Unix(1700000000, 0).UTC()
	sess, err := NewSession("t@uni.example", testClass("S1", "S2"), base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := sess.ApplyScan("S1", ModeJoining, base)
	if out.Kind != OutcomeChanged || out.Status != StatusJoined {
		t.Fatalf("join scan: got %+v, want changed/joined", out)
	}

	out = sess.ApplyScan("S1", ModeJoining, base.Add(50*time.Millisecond))
	if out.Kind != OutcomeAlreadyJoined {
		t.Errorf("repeat join: got %s, want already_joined", out.Kind)
	}
	if sess.Status("S1") != StatusJoined {
		t.Error("repeat join must not change status")
	}

	out = sess.ApplyScan("S1", ModeLeaving, base.Add(time.Second))
	if out.Kind != OutcomeChanged || out.Status != StatusCompleted {
		t.Fatalf("leave scan: got %+v, want changed/completed", out)
	}

	stamp := sess.Timestamps()["S1"]
	if stamp.JoinedAt == nil || !stamp.JoinedAt.Equal(base) {
		t.Errorf("joined-at = %v, want %v", stamp.JoinedAt, base)
	}
	if stamp.LeftAt == nil || !stamp.LeftAt.Equal(base.Add(time.Second)) {
		t.Errorf("left-at = %v, want %v", stamp.LeftAt, base.Add(time.Second))
	}
}

func TestSession_ScanForStudentOutsideRoster_IsIgnored(t *testing.T) {
	sess, _ := NewSession("t@uni.example", testClass("S1", "S2"), time.Now())

	out := sess.ApplyScan("S3", ModeJoining, time.Now())
	if out.Kind != OutcomeNotInRoster {
		t.Fatalf("got %s, want not_in_roster", out.Kind)
	}
	if _, present := sess.Statuses()["S3"]; present {
		t.Error("roster violation must not create state for the student")
	}
	if _, present := sess.Timestamps()["S3"]; present {
		t.Error("roster violation must not capture timestamps")
	}
}

func TestSession_LeavingBeforeJoining_IsIgnored(t *testing.T) {
	sess, _ := NewSession("t@uni.example", testClass("S1"), time.Now())

	out := sess.ApplyScan("S1", ModeLeaving, time.Now())
	if out.Kind != OutcomeNotJoined {
		t.Fatalf("got %s, want not_joined", out.Kind)
	}
	if sess.Status("S1") != StatusNone {
		t.Error("ignored leave must not change status")
	}
	if !sess.Timestamps()["S1"].Empty() {
		t.Error("ignored leave must not capture a timestamp")
	}
}

func TestSession_CompletedIsTerminal(t *testing.T) {
	base := time.Now().UTC()
	sess, _ := NewSession("t@uni.example", testClass("S1"), base)
	sess.ApplyScan("S1", ModeJoining, base)
	sess.ApplyScan("S1", ModeLeaving, base.Add(time.Second))

	if out := sess.ApplyScan("S1", ModeJoining, base.Add(2*time.Second)); out.Kind != OutcomeAlreadyJoined {
		t.Errorf("join after completed: got %s, want already_joined", out.Kind)
	}
	if out := sess.ApplyScan("S1", ModeLeaving, base.Add(3*time.Second)); out.Kind != OutcomeNotJoined {
		t.Errorf("leave after completed: got %s, want not_joined", out.Kind)
	}

	stamp := sess.Timestamps()["S1"]
	if !stamp.LeftAt.Equal(base.Add(time.Second)) {
		t.Error("left-at must be captured exactly once")
	}
}

func TestSession_Completed_ListsOnlyFinishedStudents(t *testing.T) {
	base := time.Now().UTC()
	sess, _ := NewSession("t@uni.example", testClass("S1", "S2", "S3"), base)
	sess.ApplyScan("S2", ModeJoining, base)
	sess.ApplyScan("S1", ModeJoining, base)
	sess.ApplyScan("S1", ModeLeaving, base.Add(time.Minute))

	got := sess.Completed()
	if len(got) != 1 || got[0] != "S1" {
		t.Errorf("completed = %v, want [S1]", got)
	}
}

func TestRegistry_SessionLifetime(t *testing.T) {
	reg := NewRegistry()
	sess, err := reg.Start("t@uni.example", testClass("S1"), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Get(sess.ID) != sess {
		t.Fatal("started session must be retrievable by id")
	}
	reg.Remove(sess.ID)
	if reg.Get(sess.ID) != nil {
		t.Error("removed session must be gone")
	}
}
