package domain

// DeriveStatus computes a document's workflow status from its lifecycle flags
// and the review state of its current version. Deletion overrides archival,
// and archival overrides the review-derived status. A document whose review
// was reset (restored to an earlier version) reads as a draft until the next
// submission or upload, whatever the version recorded when it was reviewed.
func DeriveStatus(doc *Document, current *Version) DocumentStatus {
	if doc.IsDeleted {
		return StatusDeleted
	}
	if doc.IsArchived {
		return StatusArchived
	}
	if current == nil || doc.ReviewResetAt != nil {
		return StatusDraft
	}
	switch current.ReviewStatus {
	case ReviewStatusSubmitted:
		return StatusInReview
	case ReviewStatusApproved:
		return StatusApproved
	default:
		return StatusDraft
	}
}
