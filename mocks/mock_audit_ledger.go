package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ctdms/internal/domain"
)

// MockAuditLedger is a mock implementation of port.AuditLedger.
type MockAuditLedger struct {
	mock.Mock
}

func (m *MockAuditLedger) Append(ctx context.Context, entry *domain.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockAuditLedger) Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error) {
	args := m.Called(ctx, filter, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.AuditEntry), args.Int(1), args.Error(2)
}

func (m *MockAuditLedger) GetByID(ctx context.Context, id uuid.UUID) (*domain.AuditEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AuditEntry), args.Error(1)
}
