package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ctdms/internal/domain"
	"ctdms/internal/port"
)

const documentColumns = `id, study_id, site_id, folder_id, folder_name, title,
	current_version_id, version_seq,
	is_archived, archived_at, archived_by,
	is_deleted, deleted_at, deleted_by, deletion_reason,
	restored_at, restored_by,
	review_reset_at, review_reset_by,
	created_by, created_at, updated_at`

const versionColumns = `id, document_id, document_number,
	file_name, file_type, file_size, checksum, storage_key,
	uploaded_by, uploaded_at, change_reason,
	review_status, review_submitted_by, review_submitted_to, review_submitted_at,
	reviewed_by, reviewed_at, review_comment`

// derivedStatusSQL mirrors domain.DeriveStatus for filtering in SQL. d is the
// documents alias, v the current version joined with LEFT JOIN.
const derivedStatusSQL = `CASE
	WHEN d.is_deleted THEN 'DELETED'
	WHEN d.is_archived THEN 'ARCHIVED'
	WHEN d.review_reset_at IS NOT NULL THEN 'DRAFT'
	WHEN v.review_status = 'submitted' THEN 'IN_REVIEW'
	WHEN v.review_status = 'approved' THEN 'APPROVED'
	ELSE 'DRAFT' END`

type documentRepo struct {
	db *sqlx.DB
}

// NewDocumentRepo creates a new PostgreSQL-backed DocumentRepository.
func NewDocumentRepo(db *sqlx.DB) port.DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, doc *domain.Document, first *domain.Version) (*domain.DocumentState, error) {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.CurrentVersionID = nil
	doc.VersionSeq = 0

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("documentRepo.Create begin: %w: %w", domain.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (
			id, study_id, site_id, folder_id, folder_name, title,
			version_seq, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)`,
		doc.ID, doc.StudyID, doc.SiteID, doc.FolderID, doc.FolderName, doc.Title,
		doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, mapWriteError("documentRepo.Create", err)
	}

	if err := insertVersion(ctx, tx, doc.ID, first, now); err != nil {
		return nil, err
	}

	state, err := loadState(ctx, tx, doc.ID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapWriteError("documentRepo.Create commit", err)
	}
	return state, nil
}

func (r *documentRepo) GetState(ctx context.Context, docID uuid.UUID) (*domain.DocumentState, error) {
	return loadState(ctx, r.db, docID, false)
}

func (r *documentRepo) List(ctx context.Context, filter domain.DocumentFilter, offset, limit int) ([]domain.DocumentState, int, error) {
	var w whereBuilder
	if filter.StudyID != nil {
		w.add("d.study_id = ?", *filter.StudyID)
	}
	if filter.SiteID != nil {
		w.add("d.site_id = ?", *filter.SiteID)
	}
	if filter.FolderID != nil {
		w.add("d.folder_id = ?", *filter.FolderID)
	}
	if filter.Status != "" {
		w.add("("+derivedStatusSQL+") = ?", string(filter.Status))
	}
	if !filter.IncludeDeleted && filter.Status != domain.StatusDeleted {
		w.addRaw("NOT d.is_deleted")
	}

	from := " FROM documents d LEFT JOIN document_versions v ON v.id = d.current_version_id" + w.String()

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+from, w.args...); err != nil {
		return nil, 0, fmt.Errorf("documentRepo.List count: %w: %w", domain.ErrStorage, err)
	}

	pageSQL, args := w.page(limit, offset)
	var docs []domain.Document
	err := r.db.SelectContext(ctx, &docs,
		"SELECT "+prefixColumns("d", documentColumns)+from+" ORDER BY d.created_at DESC, d.id"+pageSQL,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("documentRepo.List: %w: %w", domain.ErrStorage, err)
	}

	current, err := r.currentVersions(ctx, docs)
	if err != nil {
		return nil, 0, err
	}

	states := make([]domain.DocumentState, len(docs))
	for i := range docs {
		states[i].Document = docs[i]
		if docs[i].CurrentVersionID != nil {
			states[i].Current = current[*docs[i].CurrentVersionID]
		}
	}
	return states, total, nil
}

func (r *documentRepo) currentVersions(ctx context.Context, docs []domain.Document) (map[uuid.UUID]*domain.Version, error) {
	ids := make([]uuid.UUID, 0, len(docs))
	for i := range docs {
		if docs[i].CurrentVersionID != nil {
			ids = append(ids, *docs[i].CurrentVersionID)
		}
	}
	out := make(map[uuid.UUID]*domain.Version, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT "+versionColumns+" FROM document_versions WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("documentRepo.currentVersions: %w", err)
	}
	var versions []domain.Version
	if err := r.db.SelectContext(ctx, &versions, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("documentRepo.currentVersions: %w: %w", domain.ErrStorage, err)
	}
	for i := range versions {
		out[versions[i].ID] = &versions[i]
	}
	return out, nil
}

func (r *documentRepo) GetVersion(ctx context.Context, docID, versionID uuid.UUID) (*domain.Version, error) {
	var v domain.Version
	err := r.db.GetContext(ctx, &v,
		"SELECT "+versionColumns+" FROM document_versions WHERE id = $1 AND document_id = $2",
		versionID, docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrVersionNotFound
		}
		return nil, fmt.Errorf("documentRepo.GetVersion: %w: %w", domain.ErrStorage, err)
	}
	return &v, nil
}

func (r *documentRepo) ListVersions(ctx context.Context, docID uuid.UUID) ([]domain.Version, error) {
	var versions []domain.Version
	err := r.db.SelectContext(ctx, &versions,
		"SELECT "+versionColumns+" FROM document_versions WHERE document_id = $1 ORDER BY document_number DESC",
		docID)
	if err != nil {
		return nil, fmt.Errorf("documentRepo.ListVersions: %w: %w", domain.ErrStorage, err)
	}
	return versions, nil
}

// Transition locks the document row for the whole read-decide-write cycle, so
// concurrent transitions on one document are applied one after another.
func (r *documentRepo) Transition(ctx context.Context, docID uuid.UUID, fn port.TransitionFunc) (*domain.DocumentState, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("documentRepo.Transition begin: %w: %w", domain.ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	state, err := loadState(ctx, tx, docID, true)
	if err != nil {
		return nil, err
	}

	change, err := fn(state.Clone())
	if err != nil {
		return nil, err
	}
	if change == nil {
		return state, nil
	}

	now := time.Now().UTC()
	if err := applyChange(ctx, tx, docID, change, now); err != nil {
		return nil, err
	}

	after, err := loadState(ctx, tx, docID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, mapWriteError("documentRepo.Transition commit", err)
	}
	return after, nil
}

func applyChange(ctx context.Context, tx *sqlx.Tx, docID uuid.UUID, change *port.DocumentChange, now time.Time) error {
	if d := change.Document; d != nil {
		_, err := tx.ExecContext(ctx,
			`UPDATE documents SET
				is_archived = $2, archived_at = $3, archived_by = $4,
				is_deleted = $5, deleted_at = $6, deleted_by = $7, deletion_reason = $8,
				restored_at = $9, restored_by = $10,
				review_reset_at = $11, review_reset_by = $12, updated_at = $13
			WHERE id = $1`,
			docID,
			d.IsArchived, d.ArchivedAt, d.ArchivedBy,
			d.IsDeleted, d.DeletedAt, d.DeletedBy, d.DeletionReason,
			d.RestoredAt, d.RestoredBy,
			d.ReviewResetAt, d.ReviewResetBy, now)
		if err != nil {
			return mapWriteError("documentRepo.Transition document", err)
		}
	}

	if v := change.Version; v != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE document_versions SET
				review_status = $3, review_submitted_by = $4, review_submitted_to = $5,
				review_submitted_at = $6, reviewed_by = $7, reviewed_at = $8, review_comment = $9
			WHERE id = $1 AND document_id = $2`,
			v.ID, docID,
			v.ReviewStatus, v.ReviewSubmittedBy, v.ReviewSubmittedTo,
			v.ReviewSubmittedAt, v.ReviewedBy, v.ReviewedAt, v.ReviewComment)
		if err != nil {
			return mapWriteError("documentRepo.Transition version", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrVersionNotFound
		}
		if err := touch(ctx, tx, docID, now); err != nil {
			return err
		}
	}

	if change.NewVersion != nil {
		if err := insertVersion(ctx, tx, docID, change.NewVersion, now); err != nil {
			return err
		}
	}

	if change.Repoint != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET current_version_id = $2, updated_at = $3
			WHERE id = $1 AND EXISTS (
				SELECT 1 FROM document_versions WHERE id = $2 AND document_id = $1
			)`,
			docID, *change.Repoint, now)
		if err != nil {
			return mapWriteError("documentRepo.Transition repoint", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrVersionNotFound
		}
	}
	return nil
}

// insertVersion draws the next number from the document's counter, inserts the
// version and makes it current. It is the only path that creates versions, and
// a new version always ends a review reset.
func insertVersion(ctx context.Context, tx *sqlx.Tx, docID uuid.UUID, v *domain.Version, now time.Time) error {
	var next int
	err := tx.GetContext(ctx, &next,
		`UPDATE documents SET version_seq = version_seq + 1,
			review_reset_at = NULL, review_reset_by = NULL, updated_at = $2
		WHERE id = $1 RETURNING version_seq`,
		docID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrDocumentNotFound
		}
		return mapWriteError("documentRepo.insertVersion seq", err)
	}

	v.DocumentID = docID
	v.DocumentNumber = next
	if v.UploadedAt.IsZero() {
		v.UploadedAt = now
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_versions (`+versionColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18
		)`,
		v.ID, v.DocumentID, v.DocumentNumber,
		v.FileName, v.FileType, v.FileSize, v.Checksum, v.StorageKey,
		v.UploadedBy, v.UploadedAt, v.ChangeReason,
		v.ReviewStatus, v.ReviewSubmittedBy, v.ReviewSubmittedTo, v.ReviewSubmittedAt,
		v.ReviewedBy, v.ReviewedAt, v.ReviewComment)
	if err != nil {
		return mapWriteError("documentRepo.insertVersion", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE documents SET current_version_id = $2 WHERE id = $1", docID, v.ID)
	if err != nil {
		return mapWriteError("documentRepo.insertVersion repoint", err)
	}
	return nil
}

func touch(ctx context.Context, tx *sqlx.Tx, docID uuid.UUID, now time.Time) error {
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET updated_at = $2 WHERE id = $1", docID, now); err != nil {
		return mapWriteError("documentRepo.touch", err)
	}
	return nil
}

func loadState(ctx context.Context, q sqlx.QueryerContext, docID uuid.UUID, forUpdate bool) (*domain.DocumentState, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var state domain.DocumentState
	if err := sqlx.GetContext(ctx, q, &state.Document, query, docID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("documentRepo.loadState: %w: %w", domain.ErrStorage, err)
	}

	if state.Document.CurrentVersionID != nil {
		var v domain.Version
		err := sqlx.GetContext(ctx, q, &v,
			"SELECT "+versionColumns+" FROM document_versions WHERE id = $1",
			*state.Document.CurrentVersionID)
		if err != nil {
			return nil, fmt.Errorf("documentRepo.loadState version: %w: %w", domain.ErrStorage, err)
		}
		state.Current = &v
	}
	return &state, nil
}

func mapWriteError(op string, err error) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w", op, domain.ErrVersionConflict)
	case codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", op, domain.ErrVersionNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
