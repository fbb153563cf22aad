package models

import (
	"encoding/json"
	"time"
)

// SessionToken is the short-lived, course-scoped credential proving a
// teacher opened an attendance session. Its JSON serialization is the
// wire form presented by students; rendering it as a scannable barcode
// is a concern of external clients. Tokens are immutable and transition
// monotonically from active to expired; there is no revocation.
type SessionToken struct {
	CourseCode string    `json:"course_code"`
	IssuedBy   string    `json:"issued_by"`
	IssuerName string    `json:"issuer_name,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its validity window at the
// given instant.
func (t *SessionToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Encode returns the canonical JSON wire form of the token.
func (t *SessionToken) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ParseSessionToken decodes the raw serialized form a student's device
// presented. The required fields must all be present for the payload to
// count as a token.
func ParseSessionToken(raw string) (*SessionToken, error) {
	var token SessionToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, err
	}
	if token.CourseCode == "" || token.IssuedBy == "" || token.ExpiresAt.IsZero() {
		return nil, errMissingTokenFields
	}
	return &token, nil
}

type tokenFieldError string

func (e tokenFieldError) Error() string { return string(e) }

const errMissingTokenFields = tokenFieldError("token is missing required fields")
