// Package memory provides in-process implementations of the repository ports.
// They honor the same contracts as the postgres repositories and back the
// service tests and the "memory" storage driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ctdms/internal/domain"
	"ctdms/internal/port"
)

// DocumentStore is a mutex-guarded DocumentRepository. A single lock covers
// every document, which is stricter than the per-row lock of the SQL store.
type DocumentStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*domain.Document
	versions map[uuid.UUID][]*domain.Version
}

// NewDocumentStore creates an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs:     make(map[uuid.UUID]*domain.Document),
		versions: make(map[uuid.UUID][]*domain.Version),
	}
}

var _ port.DocumentRepository = (*DocumentStore)(nil)

func (s *DocumentStore) Create(_ context.Context, doc *domain.Document, first *domain.Version) (*domain.DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return nil, domain.ErrVersionConflict
	}
	now := time.Now().UTC()
	d := *doc
	d.CreatedAt = now
	d.UpdatedAt = now
	d.CurrentVersionID = nil
	d.VersionSeq = 0
	s.docs[d.ID] = &d

	s.insertVersion(&d, first, now)
	*doc = d
	return s.state(d.ID), nil
}

func (s *DocumentStore) GetState(_ context.Context, docID uuid.UUID) (*domain.DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[docID]; !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return s.state(docID), nil
}

func (s *DocumentStore) List(_ context.Context, filter domain.DocumentFilter, offset, limit int) ([]domain.DocumentState, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.DocumentState
	for id, d := range s.docs {
		if filter.StudyID != nil && d.StudyID != *filter.StudyID {
			continue
		}
		if filter.SiteID != nil && !sameID(d.SiteID, filter.SiteID) {
			continue
		}
		if filter.FolderID != nil && !sameID(d.FolderID, filter.FolderID) {
			continue
		}
		st := s.state(id)
		if filter.Status != "" && st.Status() != filter.Status {
			continue
		}
		if d.IsDeleted && !filter.IncludeDeleted && filter.Status != domain.StatusDeleted {
			continue
		}
		matched = append(matched, *st)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i].Document, matched[j].Document
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return paginate(matched, offset, limit), len(matched), nil
}

func (s *DocumentStore) GetVersion(_ context.Context, docID, versionID uuid.UUID) (*domain.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions[docID] {
		if v.ID == versionID {
			out := *v
			return &out, nil
		}
	}
	return nil, domain.ErrVersionNotFound
}

func (s *DocumentStore) ListVersions(_ context.Context, docID uuid.UUID) ([]domain.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.versions[docID]
	out := make([]domain.Version, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, *list[i])
	}
	return out, nil
}

func (s *DocumentStore) Transition(_ context.Context, docID uuid.UUID, fn port.TransitionFunc) (*domain.DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}

	change, err := fn(s.state(docID))
	if err != nil {
		return nil, err
	}
	if change == nil {
		return s.state(docID), nil
	}

	// Validate before mutating so a failed change leaves nothing behind.
	var target *domain.Version
	if change.Version != nil {
		if target = s.find(docID, change.Version.ID); target == nil {
			return nil, domain.ErrVersionNotFound
		}
	}
	if change.Repoint != nil && s.find(docID, *change.Repoint) == nil {
		return nil, domain.ErrVersionNotFound
	}

	now := time.Now().UTC()
	if d := change.Document; d != nil {
		doc.IsArchived, doc.ArchivedAt, doc.ArchivedBy = d.IsArchived, d.ArchivedAt, d.ArchivedBy
		doc.IsDeleted, doc.DeletedAt, doc.DeletedBy, doc.DeletionReason = d.IsDeleted, d.DeletedAt, d.DeletedBy, d.DeletionReason
		doc.RestoredAt, doc.RestoredBy = d.RestoredAt, d.RestoredBy
		doc.ReviewResetAt, doc.ReviewResetBy = d.ReviewResetAt, d.ReviewResetBy
		doc.UpdatedAt = now
	}
	if v := change.Version; v != nil {
		target.ReviewStatus = v.ReviewStatus
		target.ReviewSubmittedBy = v.ReviewSubmittedBy
		target.ReviewSubmittedTo = v.ReviewSubmittedTo
		target.ReviewSubmittedAt = v.ReviewSubmittedAt
		target.ReviewedBy = v.ReviewedBy
		target.ReviewedAt = v.ReviewedAt
		target.ReviewComment = v.ReviewComment
		doc.UpdatedAt = now
	}
	if change.NewVersion != nil {
		s.insertVersion(doc, change.NewVersion, now)
	}
	if change.Repoint != nil {
		id := *change.Repoint
		doc.CurrentVersionID = &id
		doc.UpdatedAt = now
	}
	return s.state(docID), nil
}

// insertVersion is the single path creating versions: it advances the
// document counter, stores the version, repoints the document and ends any
// review reset. Callers hold mu.
func (s *DocumentStore) insertVersion(doc *domain.Document, v *domain.Version, now time.Time) {
	doc.VersionSeq++
	doc.ReviewResetAt, doc.ReviewResetBy = nil, nil
	v.DocumentID = doc.ID
	v.DocumentNumber = doc.VersionSeq
	if v.UploadedAt.IsZero() {
		v.UploadedAt = now
	}
	stored := *v
	s.versions[doc.ID] = append(s.versions[doc.ID], &stored)
	id := stored.ID
	doc.CurrentVersionID = &id
	doc.UpdatedAt = now
}

func (s *DocumentStore) find(docID, versionID uuid.UUID) *domain.Version {
	for _, v := range s.versions[docID] {
		if v.ID == versionID {
			return v
		}
	}
	return nil
}

// state returns a detached copy of the document and its current version.
func (s *DocumentStore) state(docID uuid.UUID) *domain.DocumentState {
	st := &domain.DocumentState{Document: *s.docs[docID]}
	if st.Document.CurrentVersionID != nil {
		if v := s.find(docID, *st.Document.CurrentVersionID); v != nil {
			cp := *v
			st.Current = &cp
		}
	}
	return st
}

func sameID(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
