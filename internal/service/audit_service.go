package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctdms/internal/auditexport"
	"ctdms/internal/domain"
	"ctdms/internal/port"
)

const (
	exportBatchSize = 500
	exportMaxRows   = 50000
)

// AuditService defines the read-only audit trail contract.
type AuditService interface {
	Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.AuditEntry, error)
	Export(ctx context.Context, filter domain.AuditFilter, format auditexport.Format, w io.Writer) (int, error)
}

type auditService struct {
	ledger port.AuditLedger
	log    *zap.Logger
}

// NewAuditService creates a new AuditService implementation.
func NewAuditService(ledger port.AuditLedger, log *zap.Logger) AuditService {
	return &auditService{ledger: ledger, log: log.Named("audit_trail")}
}

func (s *auditService) Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error) {
	if err := validateAuditFilter(filter); err != nil {
		return nil, 0, err
	}
	return s.ledger.Query(ctx, filter, offset, limit)
}

func (s *auditService) Get(ctx context.Context, id uuid.UUID) (*domain.AuditEntry, error) {
	return s.ledger.GetByID(ctx, id)
}

// Export streams every entry matching filter, newest first, in batches. Each
// batch resumes after the last entry written, so entries appended while the
// export runs neither shift nor repeat rows. At most exportMaxRows entries are
// written. It returns the number of entries written.
func (s *auditService) Export(ctx context.Context, filter domain.AuditFilter, format auditexport.Format, w io.Writer) (int, error) {
	if err := validateAuditFilter(filter); err != nil {
		return 0, err
	}
	ew, err := auditexport.NewWriter(format, w)
	if err != nil {
		return 0, err
	}
	if err := ew.WriteHeader(); err != nil {
		return 0, fmt.Errorf("auditService.Export header: %w", err)
	}

	written := 0
	for written < exportMaxRows {
		limit := exportBatchSize
		if remaining := exportMaxRows - written; remaining < limit {
			limit = remaining
		}
		entries, _, err := s.ledger.Query(ctx, filter, 0, limit)
		if err != nil {
			return written, err
		}
		if len(entries) == 0 {
			break
		}
		if err := ew.WriteEntries(entries); err != nil {
			return written, fmt.Errorf("auditService.Export rows: %w", err)
		}
		written += len(entries)
		if len(entries) < limit {
			break
		}
		filter.After = domain.CursorAt(entries[len(entries)-1])
	}

	if err := ew.Close(); err != nil {
		return written, fmt.Errorf("auditService.Export close: %w", err)
	}
	if written == exportMaxRows {
		s.log.Warn("auditService.Export: export truncated", zap.Int("rows", written))
	}
	return written, nil
}

func validateAuditFilter(f domain.AuditFilter) error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: 'to' must not be before 'from'", domain.ErrValidation)
	}
	switch f.Status {
	case "", domain.AuditStatusSuccess, domain.AuditStatusFailure:
	default:
		return fmt.Errorf("%w: unknown audit status %q", domain.ErrValidation, f.Status)
	}
	return nil
}
