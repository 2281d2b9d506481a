package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actor is an already-authenticated caller as handed over by the identity layer.
type Actor struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Roles     []UserRole `json:"roles"`
	SessionID string     `json:"session_id,omitempty"`
}

// HasAnyRole reports whether the actor holds at least one of roles.
func (a Actor) HasAnyRole(roles ...UserRole) bool {
	for _, held := range a.Roles {
		for _, r := range roles {
			if held == r {
				return true
			}
		}
	}
	return false
}

// Document is the header row of a logical document. It never owns version
// content, only the pointer to the current version.
type Document struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	StudyID          uuid.UUID  `db:"study_id" json:"study_id"`
	SiteID           *uuid.UUID `db:"site_id" json:"site_id"`
	FolderID         *uuid.UUID `db:"folder_id" json:"folder_id"`
	FolderName       string     `db:"folder_name" json:"folder_name"`
	Title            string     `db:"title" json:"title"`
	CurrentVersionID *uuid.UUID `db:"current_version_id" json:"current_version_id"`
	VersionSeq       int        `db:"version_seq" json:"-"`
	IsArchived       bool       `db:"is_archived" json:"is_archived"`
	ArchivedAt       *time.Time `db:"archived_at" json:"archived_at"`
	ArchivedBy       *uuid.UUID `db:"archived_by" json:"archived_by"`
	IsDeleted        bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt        *time.Time `db:"deleted_at" json:"deleted_at"`
	DeletedBy        *uuid.UUID `db:"deleted_by" json:"deleted_by"`
	DeletionReason   string     `db:"deletion_reason" json:"deletion_reason"`
	RestoredAt       *time.Time `db:"restored_at" json:"restored_at"`
	RestoredBy       *uuid.UUID `db:"restored_by" json:"restored_by"`
	ReviewResetAt    *time.Time `db:"review_reset_at" json:"review_reset_at"`
	ReviewResetBy    *uuid.UUID `db:"review_reset_by" json:"review_reset_by"`
	CreatedBy        uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Version is one uploaded revision of a document together with its review sub-state.
type Version struct {
	ID                uuid.UUID    `db:"id" json:"id"`
	DocumentID        uuid.UUID    `db:"document_id" json:"document_id"`
	DocumentNumber    int          `db:"document_number" json:"document_number"`
	FileName          string       `db:"file_name" json:"file_name"`
	FileType          string       `db:"file_type" json:"file_type"`
	FileSize          int64        `db:"file_size" json:"file_size"`
	Checksum          string       `db:"checksum" json:"checksum"`
	StorageKey        string       `db:"storage_key" json:"storage_key"`
	UploadedBy        uuid.UUID    `db:"uploaded_by" json:"uploaded_by"`
	UploadedAt        time.Time    `db:"uploaded_at" json:"uploaded_at"`
	ChangeReason      string       `db:"change_reason" json:"change_reason"`
	ReviewStatus      ReviewStatus `db:"review_status" json:"review_status"`
	ReviewSubmittedBy *uuid.UUID   `db:"review_submitted_by" json:"review_submitted_by"`
	ReviewSubmittedTo *uuid.UUID   `db:"review_submitted_to" json:"review_submitted_to"`
	ReviewSubmittedAt *time.Time   `db:"review_submitted_at" json:"review_submitted_at"`
	ReviewedBy        *uuid.UUID   `db:"reviewed_by" json:"reviewed_by"`
	ReviewedAt        *time.Time   `db:"reviewed_at" json:"reviewed_at"`
	ReviewComment     string       `db:"review_comment" json:"review_comment"`
}

// ResetReview clears the review sub-state so the version reads as a draft.
func (v *Version) ResetReview() {
	v.ReviewStatus = ReviewStatusNone
	v.ReviewSubmittedBy = nil
	v.ReviewSubmittedTo = nil
	v.ReviewSubmittedAt = nil
	v.ReviewedBy = nil
	v.ReviewedAt = nil
	v.ReviewComment = ""
}

// DocumentState is a document header joined with its current version.
type DocumentState struct {
	Document Document `json:"document"`
	Current  *Version `json:"current_version"`
}

// Status returns the derived workflow status of the state.
func (s *DocumentState) Status() DocumentStatus {
	return DeriveStatus(&s.Document, s.Current)
}

// Clone returns a deep-enough copy for before/after snapshots.
func (s *DocumentState) Clone() *DocumentState {
	if s == nil {
		return nil
	}
	out := &DocumentState{Document: s.Document}
	if s.Current != nil {
		v := *s.Current
		out.Current = &v
	}
	return out
}

// AuditScope reports the entity and scope identifiers recorded on audit entries.
func (s *DocumentState) AuditScope() (entityID, studyID, siteID *uuid.UUID) {
	id, study := s.Document.ID, s.Document.StudyID
	if s.Document.SiteID != nil {
		site := *s.Document.SiteID
		siteID = &site
	}
	return &id, &study, siteID
}

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	StudyID        *uuid.UUID
	SiteID         *uuid.UUID
	FolderID       *uuid.UUID
	Status         DocumentStatus
	IncludeDeleted bool
}

// AuditEntry is one immutable ledger fact.
type AuditEntry struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	ActorID    *uuid.UUID      `db:"actor_id" json:"actor_id"`
	ActorEmail string          `db:"actor_email" json:"actor_email"`
	ActorRoles RoleList        `db:"actor_roles" json:"actor_roles"`
	Action     AuditAction     `db:"action" json:"action"`
	Operation  string          `db:"operation" json:"operation"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   *uuid.UUID      `db:"entity_id" json:"entity_id"`
	StudyID    *uuid.UUID      `db:"study_id" json:"study_id"`
	SiteID     *uuid.UUID      `db:"site_id" json:"site_id"`
	OldValue   json.RawMessage `db:"old_value" json:"old_value"`
	NewValue   json.RawMessage `db:"new_value" json:"new_value"`
	Status     AuditStatus     `db:"status" json:"status"`
	Message    string          `db:"message" json:"message"`
	IPAddress  string          `db:"ip_address" json:"ip_address"`
	UserAgent  string          `db:"user_agent" json:"user_agent"`
	ClientInfo string          `db:"client_info" json:"client_info"`
	SessionID  string          `db:"session_id" json:"session_id"`
	RequestID  string          `db:"request_id" json:"request_id"`
}

// AuditFilter narrows audit trail queries. Zero-valued fields are ignored.
type AuditFilter struct {
	EntityType string
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	Action     AuditAction
	Operation  string
	Status     AuditStatus
	StudyID    *uuid.UUID
	SiteID     *uuid.UUID
	From       *time.Time
	To         *time.Time
	Search     string
	// After keeps only entries that sort after the cursor in newest-first order.
	After *AuditCursor
}

// AuditCursor marks a position in the newest-first audit order.
type AuditCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAt returns the cursor positioned on e.
func CursorAt(e AuditEntry) *AuditCursor {
	return &AuditCursor{CreatedAt: e.CreatedAt, ID: e.ID}
}
