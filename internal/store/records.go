package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TeacherRecord is the locally cached account of the agent's owner.
type TeacherRecord struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// StudentRecord is a directory entry cached for offline lookup. It is
// immutable once fetched; Put simply replaces the cached copy.
type StudentRecord struct {
	ID        string    `json:"id"` // faculty number
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Group     string    `json:"group"`
	CreatedAt time.Time `json:"created_at"`
}

// ClassRecord is a class owned by a teacher, with its roster of student ids.
type ClassRecord struct {
	ID     string   `json:"id"`
	Owner  string   `json:"owner"`
	Name   string   `json:"name"`
	Roster []string `json:"roster"`
}

// ClassID builds the composite class identity from owner and class name.
func ClassID(owner, name string) string { return owner + "/" + name }

// Ready reports whether the class can hold a session (roster non-empty).
func (c ClassRecord) Ready() bool { return len(c.Roster) > 0 }

// HasStudent reports roster membership.
func (c ClassRecord) HasStudent(studentID string) bool {
	for _, id := range c.Roster {
		if id == studentID {
			return true
		}
	}
	return false
}

// Event is a durable attendance event awaiting (or past) remote delivery.
// Only the Acknowledged flag ever changes after insert.
type Event struct {
	ID           int64     `json:"id"`
	Owner        string    `json:"owner"`
	ClassID      string    `json:"class_id"`
	StudentID    string    `json:"student_id"`
	Mode         string    `json:"mode"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// Repository persists the four record kinds.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo over an opened store.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.Client}
}

// PutTeacher inserts or replaces a teacher by id.
func (r *Repository) PutTeacher(ctx context.Context, t TeacherRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teachers (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name
	`, t.ID, t.Email, t.Name)
	return wrap("put teacher", err)
}

// GetTeacher returns a teacher by id, nil when absent.
func (r *Repository) GetTeacher(ctx context.Context, id string) (*TeacherRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, email, name FROM teachers WHERE id = $1`, id)
	var t TeacherRecord
	if err := row.Scan(&t.ID, &t.Email, &t.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get teacher", err)
	}
	return &t, nil
}

// PutStudent caches a directory entry, replacing any previous copy.
func (r *Repository) PutStudent(ctx context.Context, s StudentRecord) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, email, student_group, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			student_group = EXCLUDED.student_group
	`, s.ID, s.Name, s.Email, s.Group, s.CreatedAt)
	return wrap("put student", err)
}

// GetStudent returns a cached student by faculty number, nil when absent.
func (r *Repository) GetStudent(ctx context.Context, id string) (*StudentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, student_group, created_at FROM students WHERE id = $1
	`, id)
	var s StudentRecord
	if err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Group, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get student", err)
	}
	return &s, nil
}

// GetStudentByEmail resolves a cached student by email, nil when absent.
// Older personal codes carry only an email, not a faculty number.
func (r *Repository) GetStudentByEmail(ctx context.Context, email string) (*StudentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, student_group, created_at FROM students WHERE email = $1
	`, email)
	var s StudentRecord
	if err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Group, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get student", err)
	}
	return &s, nil
}

// PutClass inserts or replaces a class, roster included.
func (r *Repository) PutClass(ctx context.Context, c ClassRecord) error {
	if c.ID == "" {
		c.ID = ClassID(c.Owner, c.Name)
	}
	roster, err := json.Marshal(c.Roster)
	if err != nil {
		return wrap("put class", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO classes (id, owner, name, roster)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET roster = EXCLUDED.roster
	`, c.ID, c.Owner, c.Name, string(roster))
	return wrap("put class", err)
}

// GetClass returns a class by composite id, nil when absent.
func (r *Repository) GetClass(ctx context.Context, id string) (*ClassRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, owner, name, roster FROM classes WHERE id = $1`, id)
	return scanClass(row)
}

// ListClasses returns all classes for an owner.
func (r *Repository) ListClasses(ctx context.Context, owner string) ([]ClassRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, name, roster FROM classes WHERE owner = $1 ORDER BY name
	`, owner)
	if err != nil {
		return nil, wrap("list classes", err)
	}
	defer rows.Close()
	var res []ClassRecord
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	return res, wrap("list classes", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClass(row rowScanner) (*ClassRecord, error) {
	var (
		c      ClassRecord
		roster string
	)
	if err := row.Scan(&c.ID, &c.Owner, &c.Name, &roster); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap("get class", err)
	}
	if err := json.Unmarshal([]byte(roster), &c.Roster); err != nil {
		return nil, wrap("get class", err)
	}
	return &c, nil
}

// DeleteClass removes a class and every attendance event referencing it, in
// one transaction so a failure leaves both intact.
func (r *Repository) DeleteClass(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete class", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE class_id = $1`, id); err != nil {
		return wrap("delete class", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return wrap("delete class", err)
	}
	return wrap("delete class", tx.Commit())
}

// InsertEvent writes a new unacknowledged event and returns it with its
// assigned sequence number.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (owner, class_id, student_id, mode, status, created_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING id
	`, evt.Owner, evt.ClassID, evt.StudentID, evt.Mode, evt.Status, evt.CreatedAt)
	if err := row.Scan(&evt.ID); err != nil {
		return Event{}, wrap("insert event", err)
	}
	evt.Acknowledged = false
	return evt, nil
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	Owner   string
	ClassID string
	Limit   int
	Offset  int
}

// ListEvents returns events matching the filter, newest first.
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT id, owner, class_id, student_id, mode, status, created_at, acknowledged FROM attendance`
	args := []any{}
	clauses := []string{}
	if f.Owner != "" {
		clauses = append(clauses, "owner = $"+itoa(len(args)+1))
		args = append(args, f.Owner)
	}
	if f.ClassID != "" {
		clauses = append(clauses, "class_id = $"+itoa(len(args)+1))
		args = append(args, f.ClassID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY id DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	return r.queryEvents(ctx, "list events", query, args...)
}

// ListUnacknowledged returns every event for the owner still awaiting remote
// delivery, oldest first so batches preserve capture order.
func (r *Repository) ListUnacknowledged(ctx context.Context, owner string) ([]Event, error) {
	return r.queryEvents(ctx, "list unacknowledged", `
		SELECT id, owner, class_id, student_id, mode, status, created_at, acknowledged
		FROM attendance
		WHERE acknowledged = FALSE AND owner = $1
		ORDER BY id
	`, owner)
}

func (r *Repository) queryEvents(ctx context.Context, op, query string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.Owner, &evt.ClassID, &evt.StudentID, &evt.Mode, &evt.Status, &evt.CreatedAt, &evt.Acknowledged); err != nil {
			return nil, wrap(op, err)
		}
		res = append(res, evt)
	}
	return res, wrap(op, rows.Err())
}

// MarkAcknowledged flips the acknowledged flag for the given ids in one
// transaction. Already-acknowledged ids are a no-op, so replays are safe.
func (r *Repository) MarkAcknowledged(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("mark acknowledged", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE attendance SET acknowledged = TRUE WHERE id = $1`, id); err != nil {
			return wrap("mark acknowledged", err)
		}
	}
	return wrap("mark acknowledged", tx.Commit())
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}
