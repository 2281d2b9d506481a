package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctdms/internal/domain"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		archived bool
		deleted  bool
		current  *domain.Version
		want     domain.DocumentStatus
	}{
		{"no version", false, false, nil, domain.StatusDraft},
		{"never submitted", false, false, &domain.Version{}, domain.StatusDraft},
		{"submitted", false, false, &domain.Version{ReviewStatus: domain.ReviewStatusSubmitted}, domain.StatusInReview},
		{"approved", false, false, &domain.Version{ReviewStatus: domain.ReviewStatusApproved}, domain.StatusApproved},
		{"rejected goes back to draft", false, false, &domain.Version{ReviewStatus: domain.ReviewStatusRejected}, domain.StatusDraft},
		{"archival overrides review", true, false, &domain.Version{ReviewStatus: domain.ReviewStatusApproved}, domain.StatusArchived},
		{"deletion overrides archival", true, true, &domain.Version{ReviewStatus: domain.ReviewStatusSubmitted}, domain.StatusDeleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := &domain.Document{IsArchived: tt.archived, IsDeleted: tt.deleted}
			assert.Equal(t, tt.want, domain.DeriveStatus(doc, tt.current))
		})
	}
}

func TestDeriveStatus_ReviewReset(t *testing.T) {
	at := time.Now()
	doc := &domain.Document{ReviewResetAt: &at}
	approved := &domain.Version{ReviewStatus: domain.ReviewStatusApproved}

	assert.Equal(t, domain.StatusDraft, domain.DeriveStatus(doc, approved))
	assert.Equal(t, domain.ReviewStatusApproved, approved.ReviewStatus)

	doc.IsArchived = true
	assert.Equal(t, domain.StatusArchived, domain.DeriveStatus(doc, approved))
}

func TestReviewStatus_JSON(t *testing.T) {
	raw, err := json.Marshal(domain.Version{})
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	v, present := m["review_status"]
	assert.True(t, present)
	assert.Nil(t, v)

	var back domain.Version
	require.NoError(t, json.Unmarshal([]byte(`{"review_status":"approved"}`), &back))
	assert.Equal(t, domain.ReviewStatusApproved, back.ReviewStatus)
	require.NoError(t, json.Unmarshal([]byte(`{"review_status":null}`), &back))
	assert.Equal(t, domain.ReviewStatusNone, back.ReviewStatus)
}

func TestVersion_ResetReview(t *testing.T) {
	by := uuid.New()
	v := &domain.Version{
		ReviewStatus:      domain.ReviewStatusApproved,
		ReviewSubmittedBy: &by,
		ReviewSubmittedTo: &by,
		ReviewedBy:        &by,
		ReviewComment:     "fine",
	}
	v.ResetReview()

	assert.Equal(t, domain.ReviewStatusNone, v.ReviewStatus)
	assert.Nil(t, v.ReviewSubmittedBy)
	assert.Nil(t, v.ReviewSubmittedTo)
	assert.Nil(t, v.ReviewedBy)
	assert.Empty(t, v.ReviewComment)
}

func TestDocumentState_CloneIsDeep(t *testing.T) {
	cur := &domain.Version{ID: uuid.New(), ReviewStatus: domain.ReviewStatusSubmitted}
	st := &domain.DocumentState{Document: domain.Document{ID: uuid.New()}, Current: cur}

	cp := st.Clone()
	cp.Current.ReviewStatus = domain.ReviewStatusApproved
	cp.Document.IsArchived = true

	assert.Equal(t, domain.ReviewStatusSubmitted, st.Current.ReviewStatus)
	assert.False(t, st.Document.IsArchived)
	assert.Equal(t, domain.StatusInReview, st.Status())
}

func TestRoleList(t *testing.T) {
	roles := domain.ParseRoleList(" admin, ,reviewer")
	assert.Equal(t, domain.RoleList{domain.RoleAdmin, domain.RoleReviewer}, roles)

	val, err := roles.Value()
	require.NoError(t, err)
	assert.Equal(t, "admin,reviewer", val)

	var scanned domain.RoleList
	require.NoError(t, scanned.Scan([]byte("auditor")))
	assert.Equal(t, domain.RoleList{domain.RoleAuditor}, scanned)
}

func TestActor_HasAnyRole(t *testing.T) {
	a := domain.Actor{Roles: []domain.UserRole{domain.RoleReviewer}}
	assert.True(t, a.HasAnyRole(domain.RoleAdmin, domain.RoleReviewer))
	assert.False(t, a.HasAnyRole(domain.RoleAdmin))
	assert.False(t, a.HasAnyRole())
}

func TestWorkflowError(t *testing.T) {
	err := error(&domain.WorkflowError{
		Kind:   domain.ErrForbidden,
		Check:  domain.CheckReviewer,
		Action: domain.ActionApprove,
		Status: domain.StatusInReview,
	})

	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Contains(t, err.Error(), "caller is not the assigned reviewer")

	we, ok := domain.AsWorkflowError(errors.Join(errors.New("ctx"), err))
	require.True(t, ok)
	assert.Equal(t, domain.CheckReviewer, we.Check)
}
