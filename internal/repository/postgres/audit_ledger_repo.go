package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ctdms/db"
	"ctdms/internal/domain"
	"ctdms/internal/port"
)

const ledgerTable = "audit_ledger"

// ledgerLockKey serializes schema work on the ledger across processes.
const ledgerLockKey int64 = 0x6c6564676572

const ledgerColumns = `id, created_at, actor_id, actor_email, actor_roles,
	action, operation, entity_type, entity_id, study_id, site_id,
	old_value, new_value, status, message,
	ip_address, user_agent, client_info, session_id, request_id`

// expectedLedgerColumns is what the runtime guard adds back when an older or
// damaged table lacks a column. Types match migration 000002.
var expectedLedgerColumns = []struct {
	name string
	ddl  string
}{
	{"id", "UUID"},
	{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	{"actor_id", "UUID"},
	{"actor_email", "TEXT NOT NULL DEFAULT ''"},
	{"actor_roles", "TEXT NOT NULL DEFAULT ''"},
	{"action", "TEXT NOT NULL DEFAULT ''"},
	{"operation", "TEXT NOT NULL DEFAULT ''"},
	{"entity_type", "TEXT NOT NULL DEFAULT ''"},
	{"entity_id", "UUID"},
	{"study_id", "UUID"},
	{"site_id", "UUID"},
	{"old_value", "JSONB NOT NULL DEFAULT 'null'::jsonb"},
	{"new_value", "JSONB NOT NULL DEFAULT 'null'::jsonb"},
	{"status", "TEXT NOT NULL DEFAULT ''"},
	{"message", "TEXT NOT NULL DEFAULT ''"},
	{"ip_address", "TEXT NOT NULL DEFAULT ''"},
	{"user_agent", "TEXT NOT NULL DEFAULT ''"},
	{"client_info", "TEXT NOT NULL DEFAULT ''"},
	{"session_id", "TEXT NOT NULL DEFAULT ''"},
	{"request_id", "TEXT NOT NULL DEFAULT ''"},
}

// Schema events reported through LedgerOptions.OnSchemaEvent.
const (
	SchemaEventProvisioned  = "provisioned"
	SchemaEventColumnsAdded = "columns_added"
	SchemaEventQuarantined  = "quarantined"
)

// LedgerOptions configures the ledger's runtime schema guard.
type LedgerOptions struct {
	// SelfHeal enables the guard. Without it the ledger relies on migrations alone.
	SelfHeal bool
	// OnSchemaEvent, if set, is called after the guard changed the schema.
	OnSchemaEvent func(event string)
}

type auditLedgerRepo struct {
	db   *sqlx.DB
	log  *zap.Logger
	opts LedgerOptions

	mu       sync.Mutex
	verified atomic.Bool
}

// NewAuditLedgerRepo creates a PostgreSQL-backed append-only audit ledger.
func NewAuditLedgerRepo(db *sqlx.DB, log *zap.Logger, opts LedgerOptions) port.AuditLedger {
	return &auditLedgerRepo{db: db, log: log, opts: opts}
}

// Append writes one entry. With self-healing enabled the table and its columns
// are verified first (once per process, and again after a schema failure), and
// an insert that still fails on a schema error quarantines the live table,
// recreates it and retries once.
func (r *auditLedgerRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if r.opts.SelfHeal {
		if err := r.ensureSchema(ctx); err != nil {
			r.log.Warn("auditLedgerRepo.Append: schema guard failed", zap.Error(err))
		}
	}

	err := r.insert(ctx, entry)
	if err == nil {
		return nil
	}
	if !r.opts.SelfHeal || !isSchemaError(err) {
		return fmt.Errorf("auditLedgerRepo.Append: %w: %w", domain.ErrStorage, err)
	}

	r.verified.Store(false)
	r.log.Error("auditLedgerRepo.Append: schema mismatch, rebuilding ledger table", zap.Error(err))
	if qerr := r.quarantine(ctx); qerr != nil {
		return fmt.Errorf("auditLedgerRepo.Append quarantine: %w: %w", domain.ErrStorage, errors.Join(err, qerr))
	}
	if err := r.insert(ctx, entry); err != nil {
		return fmt.Errorf("auditLedgerRepo.Append retry: %w: %w", domain.ErrStorage, err)
	}
	return nil
}

func (r *auditLedgerRepo) insert(ctx context.Context, e *domain.AuditEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_ledger (`+ledgerColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)`,
		e.ID, e.CreatedAt, e.ActorID, e.ActorEmail, e.ActorRoles,
		string(e.Action), e.Operation, e.EntityType, e.EntityID, e.StudyID, e.SiteID,
		jsonText(e.OldValue), jsonText(e.NewValue), string(e.Status), e.Message,
		e.IPAddress, e.UserAgent, e.ClientInfo, e.SessionID, e.RequestID)
	return err
}

// ensureSchema provisions the table if it is missing and adds any missing
// columns. The result is cached until a write hits a schema error.
func (r *auditLedgerRepo) ensureSchema(ctx context.Context) error {
	if r.verified.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verified.Load() {
		return nil
	}

	created, err := r.provision(ctx, false)
	if err != nil {
		return err
	}
	added, err := r.healColumns(ctx)
	if err != nil {
		return err
	}
	r.verified.Store(true)

	if created {
		r.recordProvisioned(ctx, "audit_ledger table created by runtime guard")
	}
	if len(added) > 0 {
		r.log.Warn("auditLedgerRepo.ensureSchema: added missing ledger columns", zap.Strings("columns", added))
		r.emit(SchemaEventColumnsAdded)
	}
	return nil
}

// provision creates the ledger from the embedded migration when it is absent.
// With quarantine set, an existing table is first renamed aside together with
// its named indexes so its rows stay immutable and inspectable.
func (r *auditLedgerRepo) provision(ctx context.Context, quarantine bool) (bool, error) {
	ddl, err := db.LedgerDDL()
	if err != nil {
		return false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("auditLedgerRepo.provision begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return false, fmt.Errorf("auditLedgerRepo.provision lock: %w", err)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, "SELECT to_regclass($1) IS NOT NULL", ledgerTable); err != nil {
		return false, fmt.Errorf("auditLedgerRepo.provision lookup: %w", err)
	}

	if exists && quarantine {
		suffix := fmt.Sprintf("%d", time.Now().UnixMilli())
		if err := renameAside(ctx, tx, suffix); err != nil {
			return false, err
		}
		r.log.Warn("auditLedgerRepo.provision: ledger table quarantined",
			zap.String("table", ledgerTable+"_quarantine_"+suffix))
		exists = false
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return false, fmt.Errorf("auditLedgerRepo.provision ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("auditLedgerRepo.provision commit: %w", err)
	}
	return true, nil
}

func renameAside(ctx context.Context, tx *sqlx.Tx, suffix string) error {
	var indexes []string
	err := tx.SelectContext(ctx, &indexes,
		`SELECT indexname FROM pg_indexes
		WHERE schemaname = current_schema() AND tablename = $1 AND indexname LIKE 'idx\_audit\_ledger\_%'`,
		ledgerTable)
	if err != nil {
		return fmt.Errorf("auditLedgerRepo.renameAside indexes: %w", err)
	}

	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s_quarantine_%s", ledgerTable, ledgerTable, suffix)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("auditLedgerRepo.renameAside table: %w", err)
	}
	for _, idx := range indexes {
		stmt := fmt.Sprintf("ALTER INDEX %s RENAME TO %s_q%s", idx, idx, suffix)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("auditLedgerRepo.renameAside index %s: %w", idx, err)
		}
	}
	return nil
}

func (r *auditLedgerRepo) healColumns(ctx context.Context) ([]string, error) {
	var present []string
	err := r.db.SelectContext(ctx, &present,
		`SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`,
		ledgerTable)
	if err != nil {
		return nil, fmt.Errorf("auditLedgerRepo.healColumns: %w", err)
	}
	have := make(map[string]bool, len(present))
	for _, c := range present {
		have[c] = true
	}

	var added []string
	for _, col := range expectedLedgerColumns {
		if have[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", ledgerTable, col.name, col.ddl)
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return added, fmt.Errorf("auditLedgerRepo.healColumns %s: %w", col.name, err)
		}
		added = append(added, col.name)
	}
	return added, nil
}

func (r *auditLedgerRepo) quarantine(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.provision(ctx, true); err != nil {
		return err
	}
	r.verified.Store(true)
	r.emit(SchemaEventQuarantined)
	r.recordProvisioned(ctx, "audit_ledger table recreated after schema mismatch")
	return nil
}

// recordProvisioned writes the schema change itself into the new table. It uses
// the raw insert, so it cannot re-enter the guard.
func (r *auditLedgerRepo) recordProvisioned(ctx context.Context, message string) {
	r.emit(SchemaEventProvisioned)
	newValue, _ := json.Marshal(map[string]string{"table": ledgerTable})
	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		Action:     domain.AuditActionSchema,
		Operation:  domain.OperationSchemaProvisioned,
		EntityType: domain.EntityTypeAuditLedger,
		NewValue:   newValue,
		Status:     domain.AuditStatusSuccess,
		Message:    message,
	}
	if err := r.insert(ctx, entry); err != nil {
		r.log.Error("auditLedgerRepo.recordProvisioned: failed", zap.Error(err))
		return
	}
	r.log.Info("auditLedgerRepo.recordProvisioned: " + message)
}

func (r *auditLedgerRepo) emit(event string) {
	if r.opts.OnSchemaEvent != nil {
		r.opts.OnSchemaEvent(event)
	}
}

func (r *auditLedgerRepo) Query(ctx context.Context, filter domain.AuditFilter, offset, limit int) ([]domain.AuditEntry, int, error) {
	w := auditWhere(filter)

	var (
		total   int
		entries []domain.AuditEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.db.GetContext(gctx, &total, "SELECT COUNT(*) FROM audit_ledger"+w.String(), w.args...)
	})
	g.Go(func() error {
		pageSQL, args := w.page(limit, offset)
		return r.db.SelectContext(gctx, &entries,
			"SELECT "+ledgerColumns+" FROM audit_ledger"+w.String()+" ORDER BY created_at DESC, id DESC"+pageSQL,
			args...)
	})
	if err := g.Wait(); err != nil {
		if pgCode(err) == codeUndefinedTable {
			return []domain.AuditEntry{}, 0, nil
		}
		return nil, 0, fmt.Errorf("auditLedgerRepo.Query: %w: %w", domain.ErrStorage, err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	return entries, total, nil
}

func (r *auditLedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := r.db.GetContext(ctx, &e, "SELECT "+ledgerColumns+" FROM audit_ledger WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || pgCode(err) == codeUndefinedTable {
			return nil, domain.ErrAuditNotFound
		}
		return nil, fmt.Errorf("auditLedgerRepo.GetByID: %w: %w", domain.ErrStorage, err)
	}
	return &e, nil
}

func auditWhere(f domain.AuditFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.EntityType != "" {
		w.add("entity_type = ?", f.EntityType)
	}
	if f.EntityID != nil {
		w.add("entity_id = ?", *f.EntityID)
	}
	if f.ActorID != nil {
		w.add("actor_id = ?", *f.ActorID)
	}
	if f.Action != "" {
		w.add("action = ?", string(f.Action))
	}
	if f.Operation != "" {
		w.add("operation = ?", f.Operation)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.StudyID != nil {
		w.add("study_id = ?", *f.StudyID)
	}
	if f.SiteID != nil {
		w.add("site_id = ?", *f.SiteID)
	}
	if f.From != nil {
		w.add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= ?", *f.To)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		w.add(`(actor_email ILIKE ? OR operation ILIKE ? OR entity_type ILIKE ?
			OR message ILIKE ? OR old_value::text ILIKE ? OR new_value::text ILIKE ?)`, likePattern(q))
	}
	if f.After != nil {
		w.addTuple("(created_at, id) < (?, ?)", f.After.CreatedAt, f.After.ID)
	}
	return w
}

func isSchemaError(err error) bool {
	switch pgCode(err) {
	case codeUndefinedTable, codeUndefinedColumn, codeDatatypeMismatch:
		return true
	}
	return false
}

func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}
