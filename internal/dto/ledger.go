package dto

import "github.com/rollcall-app/rollcall-api/internal/models"

// IssueTokenResponse carries the issued token in both structured and
// wire form; clients render the serialized form as a scannable code.
type IssueTokenResponse struct {
	Token      *models.SessionToken `json:"token"`
	Serialized string               `json:"serialized"`
}

// ScanRequest is the payload a student device submits after scanning.
type ScanRequest struct {
	Token string `json:"token" validate:"required"`
}

// NoClassRequest optionally overrides the flagged date (defaults to
// today on the server).
type NoClassRequest struct {
	Date string `json:"date,omitempty"`
}
