package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ctdms/internal/domain"
	"ctdms/internal/port"
)

// Ledger is an append-only in-process AuditLedger. Stored entries are copies
// and no method modifies or removes them.
type Ledger struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	failErr error
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

var _ port.AuditLedger = (*Ledger)(nil)

// FailWrites makes every following Append return err. Pass nil to recover.
func (l *Ledger) FailWrites(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *Ledger) Append(_ context.Context, entry *domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failErr != nil {
		return fmt.Errorf("memory.Ledger.Append: %w: %w", domain.ErrStorage, l.failErr)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	cp := *entry
	cp.OldValue = append([]byte(nil), entry.OldValue...)
	cp.NewValue = append([]byte(nil), entry.NewValue...)
	cp.ActorRoles = append(domain.RoleList(nil), entry.ActorRoles...)
	l.entries = append(l.entries, cp)
	return nil
}

func (l *Ledger) Query(_ context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Walk backwards so entries with equal created_at stay newest first.
	var matched []domain.AuditEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if matches(&l.entries[i], filter) {
			matched = append(matched, l.entries[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.After != nil {
		matched = afterCursor(matched, filter.After)
	}
	return paginate(matched, offset, limit), len(matched), nil
}

func (l *Ledger) GetByID(_ context.Context, id uuid.UUID) (*domain.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			cp := l.entries[i]
			return &cp, nil
		}
	}
	return nil, domain.ErrAuditNotFound
}

// Len returns the number of stored entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// afterCursor drops the sorted entries up to and including the cursor. A
// cursor whose entry is not present falls back to its timestamp.
func afterCursor(sorted []domain.AuditEntry, c *domain.AuditCursor) []domain.AuditEntry {
	for i := range sorted {
		if sorted[i].ID == c.ID {
			return sorted[i+1:]
		}
	}
	i := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].CreatedAt.Before(c.CreatedAt)
	})
	return sorted[i:]
}

func matches(e *domain.AuditEntry, f domain.AuditFilter) bool {
	switch {
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != nil && !sameID(e.EntityID, f.EntityID):
		return false
	case f.ActorID != nil && !sameID(e.ActorID, f.ActorID):
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Operation != "" && e.Operation != f.Operation:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.StudyID != nil && !sameID(e.StudyID, f.StudyID):
		return false
	case f.SiteID != nil && !sameID(e.SiteID, f.SiteID):
		return false
	case f.From != nil && e.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && e.CreatedAt.After(*f.To):
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		haystack := strings.ToLower(strings.Join([]string{
			e.ActorEmail, e.Operation, e.EntityType, e.Message,
			string(e.OldValue), string(e.NewValue),
		}, "\x00"))
		return strings.Contains(haystack, q)
	}
	return true
}
