package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ctdms/internal/domain"
	"ctdms/internal/service"
)

// MockDocumentService is a mock implementation of service.DocumentService.
type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Create(ctx context.Context, input *service.CreateDocumentInput) (*service.DocumentView, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentView), args.Error(1)
}

func (m *MockDocumentService) Invoke(ctx context.Context, input *service.InvokeInput) (*service.InvokeResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.InvokeResult), args.Error(1)
}

func (m *MockDocumentService) RejectInvoke(ctx context.Context, input *service.InvokeInput, reason string) error {
	args := m.Called(ctx, input, reason)
	return args.Error(0)
}

func (m *MockDocumentService) Get(ctx context.Context, docID uuid.UUID, actor domain.Actor) (*service.DocumentView, error) {
	args := m.Called(ctx, docID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.DocumentView), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, filter domain.DocumentFilter, actor domain.Actor, offset, limit int) ([]service.DocumentView, int, error) {
	args := m.Called(ctx, filter, actor, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]service.DocumentView), args.Int(1), args.Error(2)
}

func (m *MockDocumentService) ListVersions(ctx context.Context, docID uuid.UUID) ([]domain.Version, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Version), args.Error(1)
}

func (m *MockDocumentService) AvailableActions(ctx context.Context, docID uuid.UUID, actor domain.Actor) ([]domain.Action, error) {
	args := m.Called(ctx, docID, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Action), args.Error(1)
}

func (m *MockDocumentService) VersionDownloadURL(ctx context.Context, docID, versionID uuid.UUID) (*service.PresignedURL, error) {
	args := m.Called(ctx, docID, versionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PresignedURL), args.Error(1)
}

func (m *MockDocumentService) UploadURL(ctx context.Context, docID uuid.UUID, actor domain.Actor, fileName, contentType string) (*service.PresignedURL, error) {
	args := m.Called(ctx, docID, actor, fileName, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PresignedURL), args.Error(1)
}
