package port

import (
	"context"

	"github.com/google/uuid"

	"ctdms/internal/domain"
)

// DocumentChange is the set of writes a transition asks the store to apply.
// Nil fields are left untouched.
type DocumentChange struct {
	// Document carries the lifecycle fields (archive, delete, restore) to persist.
	Document *domain.Document
	// Version carries the review sub-state of an existing version to persist.
	Version *domain.Version
	// NewVersion is inserted with the next document number and becomes current.
	NewVersion *domain.Version
	// Repoint moves current_version_id to an existing version of the same document.
	Repoint *uuid.UUID
}

// TransitionFunc inspects the locked state of a document and decides what to
// write. Returning an error aborts the transaction.
type TransitionFunc func(state *domain.DocumentState) (*DocumentChange, error)

// DocumentRepository defines the contract for document and version persistence.
// All mutations of an existing document go through Transition, which serializes
// writers per document.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document, first *domain.Version) (*domain.DocumentState, error)
	GetState(ctx context.Context, docID uuid.UUID) (*domain.DocumentState, error)
	List(ctx context.Context, filter domain.DocumentFilter, offset, limit int) ([]domain.DocumentState, int, error)
	GetVersion(ctx context.Context, docID, versionID uuid.UUID) (*domain.Version, error)
	ListVersions(ctx context.Context, docID uuid.UUID) ([]domain.Version, error)
	Transition(ctx context.Context, docID uuid.UUID, fn TransitionFunc) (*domain.DocumentState, error)
}
