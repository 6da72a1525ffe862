package scan

import (
	"encoding/json"
	"strings"
)

// Payload is the identity carried by a scanned code. Badges encode the
// faculty number under either key style; older personal codes carry only an
// email address.
type Payload struct {
	FacultyNumber string `json:"facultyNumber"`
	FacultySnake  string `json:"faculty_number"`
	Email         string `json:"email"`
}

// StudentKey returns the identity to resolve against the roster, preferring
// the faculty number over the email.
func (p Payload) StudentKey() string {
	if p.FacultyNumber != "" {
		return p.FacultyNumber
	}
	if p.FacultySnake != "" {
		return p.FacultySnake
	}
	return p.Email
}

// Parse decodes a raw scan. A payload that is not a JSON object carrying at
// least one identity field is unparseable; the caller logs and drops it
// rather than surfacing an error.
func Parse(raw string) (Payload, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, false
	}
	if p.StudentKey() == "" {
		return Payload{}, false
	}
	return p, true
}
