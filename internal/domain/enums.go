package domain

// UserRole is a role granted to an actor by the identity layer.
type UserRole string

const (
	RoleAdmin          UserRole = "admin"
	RoleStudyManager   UserRole = "study_manager"
	RoleDocumentAuthor UserRole = "document_author"
	RoleReviewer       UserRole = "reviewer"
	RoleAuditor        UserRole = "auditor"
)

// ValidRoles lists every role the service understands.
var ValidRoles = map[UserRole]bool{
	RoleAdmin:          true,
	RoleStudyManager:   true,
	RoleDocumentAuthor: true,
	RoleReviewer:       true,
	RoleAuditor:        true,
}

// Action is a named workflow operation on a document.
type Action string

const (
	ActionSubmitForReview  Action = "SUBMIT_FOR_REVIEW"
	ActionApprove          Action = "APPROVE"
	ActionReject           Action = "REJECT"
	ActionArchive          Action = "ARCHIVE"
	ActionUnarchive        Action = "UNARCHIVE"
	ActionSoftDelete       Action = "SOFT_DELETE"
	ActionRestore          Action = "RESTORE"
	ActionUploadNewVersion Action = "UPLOAD_NEW_VERSION"
	ActionRestoreVersion   Action = "RESTORE_VERSION"
)

// AllActions lists the workflow actions in their canonical order.
var AllActions = []Action{
	ActionSubmitForReview,
	ActionApprove,
	ActionReject,
	ActionArchive,
	ActionUnarchive,
	ActionSoftDelete,
	ActionRestore,
	ActionUploadNewVersion,
	ActionRestoreVersion,
}

// IsValid reports whether a is a known workflow action.
func (a Action) IsValid() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}

// DocumentStatus is the derived workflow state of a document.
type DocumentStatus string

const (
	StatusDraft    DocumentStatus = "DRAFT"
	StatusInReview DocumentStatus = "IN_REVIEW"
	StatusApproved DocumentStatus = "APPROVED"
	StatusArchived DocumentStatus = "ARCHIVED"
	StatusDeleted  DocumentStatus = "DELETED"
)

// ValidStatuses is used to validate status filters.
var ValidStatuses = map[DocumentStatus]bool{
	StatusDraft:    true,
	StatusInReview: true,
	StatusApproved: true,
	StatusArchived: true,
	StatusDeleted:  true,
}

// ReviewStatus is the review sub-state stored on a version. The zero value means
// the version has never been submitted.
type ReviewStatus string

const (
	ReviewStatusNone      ReviewStatus = ""
	ReviewStatusSubmitted ReviewStatus = "submitted"
	ReviewStatusApproved  ReviewStatus = "approved"
	ReviewStatusRejected  ReviewStatus = "rejected"
)

// AuditAction is the CRUD classification of an audit entry.
type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
	AuditActionSchema AuditAction = "SCHEMA"
)

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "SUCCESS"
	AuditStatusFailure AuditStatus = "FAILURE"
)

// Entity types and non-workflow operations recorded on audit entries.
const (
	EntityTypeDocument         = "document"
	EntityTypeAuditLedger      = "audit_ledger"
	OperationCreateDocument    = "CREATE_DOCUMENT"
	OperationSchemaProvisioned = "SCHEMA_PROVISIONED"
)
