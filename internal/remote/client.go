package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"classtrack/internal/store"
)

// Client calls the school server. Every method returns a NetworkError when
// the server is unreachable and a RemoteRejected when it answers non-2xx;
// callers decide whether that means retry-later (reconciler) or a
// per-student failure (finalizer).
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client

	tokenExpiry time.Time

	probeMu   sync.Mutex
	probeAt   time.Time
	probeOK   bool
	probeHold time.Duration
}

// New creates a client with the given request timeout. token is the
// already-obtained identity token, attached as a bearer credential.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:   baseURL,
		Token:     token,
		HTTP:      &http.Client{Timeout: timeout},
		probeHold: 5 * time.Second,
	}
}

// SetTokenExpiry arms a local expiry check: once the instant passes, every
// authenticated call returns ErrTokenExpired without touching the network.
// Set during construction, before the client is shared.
func (c *Client) SetTokenExpiry(expiresAt time.Time) {
	c.tokenExpiry = expiresAt
}

// NetworkError means the server could not be reached at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("remote unreachable: %v", e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// RemoteRejected means the server answered with a non-success status.
type RemoteRejected struct {
	Status int
	Body   string
}

func (e *RemoteRejected) Error() string {
	return fmt.Sprintf("remote rejected: status %d: %s", e.Status, e.Body)
}

// Reachable probes the server with a short HEAD request. The result is
// cached briefly so a burst of scans does not turn into a burst of probes.
func (c *Client) Reachable(ctx context.Context) bool {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if time.Since(c.probeAt) < c.probeHold {
		return c.probeOK
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.BaseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	c.probeAt = time.Now()
	c.probeOK = err == nil
	if resp != nil {
		resp.Body.Close()
	}
	return c.probeOK
}

// PostAttendance records attendance for one or more students in a class.
func (c *Client) PostAttendance(ctx context.Context, classID string, studentIDs []string) error {
	body := map[string]any{"class_id": classID}
	if len(studentIDs) == 1 {
		body["student_id"] = studentIDs[0]
	} else {
		body["student_ids"] = studentIDs
	}
	return c.post(ctx, "/attendance", body, nil)
}

// SaveStudentTimestamps delivers the captured join/leave instants for one
// student. Absent instants are omitted from the body, not sent as null.
func (c *Client) SaveStudentTimestamps(ctx context.Context, classID, facultyNumber string, joinedAt, leftAt *time.Time) error {
	body := map[string]any{
		"class_id":       classID,
		"faculty_number": facultyNumber,
	}
	if joinedAt != nil {
		body["joined_at"] = joinedAt.UTC().Format(time.RFC3339)
	}
	if leftAt != nil {
		body["left_at"] = leftAt.UTC().Format(time.RFC3339)
	}
	return c.post(ctx, "/save_student_timestamps", body, nil)
}

// SyncEvents pushes a batch of locally durable events. The contract is
// all-or-nothing per batch: any error means nothing was acknowledged.
func (c *Client) SyncEvents(ctx context.Context, batchID string, events []store.Event) error {
	body := map[string]any{"batch_id": batchID, "records": events}
	return c.post(ctx, "/attendance/sync", body, nil)
}

// SummaryRow is one line of the per-class attendance summary.
type SummaryRow struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
	Count     int    `json:"count"`
}

// Summary fetches the server-side attendance summary for a class.
func (c *Client) Summary(ctx context.Context, classID string) ([]SummaryRow, error) {
	var out struct {
		Rows []SummaryRow `json:"rows"`
	}
	if err := c.get(ctx, "/attendance/summary?class_id="+classID, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// TimestampRow is one stored join/leave pair for a class.
type TimestampRow struct {
	FacultyNumber string `json:"faculty_number"`
	JoinedAt      string `json:"joined_at,omitempty"`
	LeftAt        string `json:"left_at,omitempty"`
}

// Timestamps fetches the stored timestamps for a class.
func (c *Client) Timestamps(ctx context.Context, classID string) ([]TimestampRow, error) {
	var out struct {
		Rows []TimestampRow `json:"rows"`
	}
	if err := c.get(ctx, "/attendance/timestamps?class_id="+classID, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// FetchStudent looks a student up in the authoritative directory by faculty
// number or email, for caching into the local store.
func (c *Client) FetchStudent(ctx context.Context, key string) (*store.StudentRecord, error) {
	var out store.StudentRecord
	if err := c.get(ctx, "/students/"+key, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.Token != "" {
		if !c.tokenExpiry.IsZero() && time.Now().After(c.tokenExpiry) {
			return ErrTokenExpired
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RemoteRejected{Status: resp.StatusCode, Body: string(snippet)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
