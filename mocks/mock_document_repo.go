package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ctdms/internal/domain"
	"ctdms/internal/port"
)

// MockDocumentRepo is a mock implementation of port.DocumentRepository.
type MockDocumentRepo struct {
	mock.Mock
}

func (m *MockDocumentRepo) Create(ctx context.Context, doc *domain.Document, first *domain.Version) (*domain.DocumentState, error) {
	args := m.Called(ctx, doc, first)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentState), args.Error(1)
}

func (m *MockDocumentRepo) GetState(ctx context.Context, docID uuid.UUID) (*domain.DocumentState, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentState), args.Error(1)
}

func (m *MockDocumentRepo) List(ctx context.Context, filter domain.DocumentFilter, offset, limit int) ([]domain.DocumentState, int, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.DocumentState), args.Int(1), args.Error(2)
}

func (m *MockDocumentRepo) GetVersion(ctx context.Context, docID, versionID uuid.UUID) (*domain.Version, error) {
	args := m.Called(ctx, docID, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Version), args.Error(1)
}

func (m *MockDocumentRepo) ListVersions(ctx context.Context, docID uuid.UUID) ([]domain.Version, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Version), args.Error(1)
}

func (m *MockDocumentRepo) Transition(ctx context.Context, docID uuid.UUID, fn port.TransitionFunc) (*domain.DocumentState, error) {
	args := m.Called(ctx, docID, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DocumentState), args.Error(1)
}
