package mocks

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ctdms/internal/auditexport"
	"ctdms/internal/domain"
)

// MockAuditService is a mock implementation of service.AuditService.
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.AuditEntry), args.Int(1), args.Error(2)
}

func (m *MockAuditService) Get(ctx context.Context, id uuid.UUID) (*domain.AuditEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuditEntry), args.Error(1)
}

func (m *MockAuditService) Export(ctx context.Context, filter domain.AuditFilter, format auditexport.Format, w io.Writer) (int, error) {
	args := m.Called(ctx, filter, format, w)
	return args.Int(0), args.Error(1)
}
