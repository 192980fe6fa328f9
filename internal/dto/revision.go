package dto

import "time"

// IngestRevisionRequest registers a revision pulled from version control.
// Solution is base64 in JSON.
type IngestRevisionRequest struct {
	ID           int64   `json:"id" validate:"required,gt=0"`
	User         string  `json:"user" validate:"required"`
	AssignmentID int64   `json:"assignment_id" validate:"required,gt=0"`
	Message      *string `json:"message"`
	Solution     []byte  `json:"solution" validate:"required"`
}

// RegisterTicketRequest records the tracker ticket of a user for an assignment.
type RegisterTicketRequest struct {
	ID           int64  `json:"id" validate:"required,gt=0"`
	Course       string `json:"course" validate:"required"`
	User         string `json:"user" validate:"required"`
	AssignmentID int64  `json:"assignment_id" validate:"required,gt=0"`
}

// SyncStatus tells ingestion where to resume.
type SyncStatus struct {
	LastSyncedRevision int64 `json:"last_synced_revision"`
}

// CreateBlobLinkRequest asks for a signed download link to a stored blob.
type CreateBlobLinkRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// BlobLink is a signed, expiring download URL.
type BlobLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
