package port

import (
	"context"

	"github.com/google/uuid"

	"ctdms/internal/domain"
)

// AuditLedger is the append-only store of audit entries. There is
// no update or delete method.
type AuditLedger interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.AuditEntry, error)
}
