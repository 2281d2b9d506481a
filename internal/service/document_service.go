package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"ctdms/internal/audit"
	"ctdms/internal/domain"
	"ctdms/internal/port"
	"ctdms/internal/requestctx"
	"ctdms/internal/workflow"
)

const defaultPresignExpiry = 15 * time.Minute

// FileInput describes an object already placed in storage by the upload
// transport. Only the pointer and its integrity data are kept.
type FileInput struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	Checksum     string `json:"checksum"`
	StorageKey   string `json:"storage_key"`
	ChangeReason string `json:"change_reason"`
}

// ActionPayload carries the action-specific arguments of an invocation.
type ActionPayload struct {
	Comment       string     `json:"comment"`
	ReviewerID    *uuid.UUID `json:"reviewer_id"`
	Reason        string     `json:"reason"`
	VersionID     *uuid.UUID `json:"version_id"`
	BaseVersionID *uuid.UUID `json:"base_version_id"`
	File          *FileInput `json:"file"`
}

// InvokeInput is the DTO for running one workflow action on a document.
type InvokeInput struct {
	DocumentID uuid.UUID
	Action     domain.Action
	Actor      domain.Actor
	Payload    ActionPayload
}

// InvokeResult is the state of a document after an action. It doubles as the
// before/after image recorded on the audit entry.
type InvokeResult struct {
	Document domain.Document       `json:"document"`
	Version  *domain.Version       `json:"version"`
	Status   domain.DocumentStatus `json:"status"`
}

// AuditScope implements audit.Scoped.
func (r *InvokeResult) AuditScope() (entityID, studyID, siteID *uuid.UUID) {
	st := domain.DocumentState{Document: r.Document}
	return st.AuditScope()
}

// CreateDocumentInput is the DTO for creating a document with its first version.
type CreateDocumentInput struct {
	StudyID    uuid.UUID
	SiteID     *uuid.UUID
	FolderID   *uuid.UUID
	FolderName string
	Title      string
	File       FileInput
	Actor      domain.Actor
}

// DocumentView is a document as presented to a specific caller.
type DocumentView struct {
	Document         domain.Document       `json:"document"`
	CurrentVersion   *domain.Version       `json:"current_version"`
	Status           domain.DocumentStatus `json:"status"`
	AvailableActions []domain.Action       `json:"available_actions"`
}

// AuditScope implements audit.Scoped.
func (v *DocumentView) AuditScope() (entityID, studyID, siteID *uuid.UUID) {
	st := domain.DocumentState{Document: v.Document}
	return st.AuditScope()
}

// PresignedURL is a time-limited direct link to the object store.
type PresignedURL struct {
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	StorageKey string    `json:"storage_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DocumentServiceConfig holds the upload limits and storage options.
type DocumentServiceConfig struct {
	MaxFileSize   int64
	VerifyUploads bool
	PresignExpiry time.Duration
}

// DocumentService defines the document lifecycle contract. Every mutating
// method records exactly one audit entry.
type DocumentService interface {
	Create(ctx context.Context, input *CreateDocumentInput) (*DocumentView, error)
	Invoke(ctx context.Context, input *InvokeInput) (*InvokeResult, error)
	RejectInvoke(ctx context.Context, input *InvokeInput, reason string) error
	Get(ctx context.Context, docID uuid.UUID, actor domain.Actor) (*DocumentView, error)
	List(ctx context.Context, filter domain.DocumentFilter, actor domain.Actor, offset, limit int) ([]DocumentView, int, error)
	ListVersions(ctx context.Context, docID uuid.UUID) ([]domain.Version, error)
	AvailableActions(ctx context.Context, docID uuid.UUID, actor domain.Actor) ([]domain.Action, error)
	VersionDownloadURL(ctx context.Context, docID, versionID uuid.UUID) (*PresignedURL, error)
	UploadURL(ctx context.Context, docID uuid.UUID, actor domain.Actor, fileName, contentType string) (*PresignedURL, error)
}

// WorkflowMetrics counts actions rejected by the workflow engine.
type WorkflowMetrics struct {
	Rejections *prometheus.CounterVec
}

// NewWorkflowMetrics creates the workflow metrics on reg. A nil reg leaves them unregistered.
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	return &WorkflowMetrics{
		Rejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "ctdms_workflow_rejections_total",
			Help: "Workflow actions rejected by the engine, by action and failed check",
		}, []string{"action", "check"}),
	}
}

type documentService struct {
	docs    port.DocumentRepository
	storage port.ObjectStorage
	engine  *workflow.Engine
	audit   audit.Sink
	metrics *WorkflowMetrics
	log     *zap.Logger
	cfg     DocumentServiceConfig
}

// NewDocumentService creates a new DocumentService implementation. storage
// may be nil, in which case presigned URLs and upload verification are unavailable.
func NewDocumentService(
	docs port.DocumentRepository,
	storage port.ObjectStorage,
	engine *workflow.Engine,
	sink audit.Sink,
	metrics *WorkflowMetrics,
	log *zap.Logger,
	cfg DocumentServiceConfig,
) DocumentService {
	if metrics == nil {
		metrics = NewWorkflowMetrics(nil)
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = defaultPresignExpiry
	}
	return &documentService{
		docs:    docs,
		storage: storage,
		engine:  engine,
		audit:   sink,
		metrics: metrics,
		log:     log.Named("documents"),
		cfg:     cfg,
	}
}

func (s *documentService) Create(ctx context.Context, input *CreateDocumentInput) (*DocumentView, error) {
	return audit.Wrap(ctx, s.audit, audit.Operation[*DocumentView]{
		Actor:      &input.Actor,
		Action:     domain.AuditActionCreate,
		Operation:  domain.OperationCreateDocument,
		EntityType: domain.EntityTypeDocument,
		StudyID:    nonNil(input.StudyID),
		SiteID:     input.SiteID,
		Run: func(ctx context.Context) (*DocumentView, error) {
			return s.create(ctx, input)
		},
	})
}

func (s *documentService) create(ctx context.Context, input *CreateDocumentInput) (*DocumentView, error) {
	if err := validateActor(input.Actor); err != nil {
		return nil, err
	}
	if input.StudyID == uuid.Nil {
		return nil, domain.ErrMissingStudy
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, domain.ErrMissingTitle
	}
	if err := s.validateFile(&input.File); err != nil {
		return nil, err
	}
	if err := s.engine.CanCreate(input.Actor); err != nil {
		s.countRejection(err)
		return nil, err
	}
	if err := s.verifyObject(ctx, &input.File); err != nil {
		return nil, err
	}

	now := requestctx.Now(ctx).UTC()
	doc := &domain.Document{
		ID:         uuid.New(),
		StudyID:    input.StudyID,
		SiteID:     input.SiteID,
		FolderID:   input.FolderID,
		FolderName: input.FolderName,
		Title:      strings.TrimSpace(input.Title),
		CreatedBy:  input.Actor.ID,
	}
	state, err := s.docs.Create(ctx, doc, newVersion(&input.File, input.Actor.ID, now))
	if err != nil {
		return nil, err
	}

	s.log.Info("documentService.Create: document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("study_id", doc.StudyID.String()),
		zap.String("actor_id", input.Actor.ID.String()))
	return s.view(state, input.Actor), nil
}

func (s *documentService) Invoke(ctx context.Context, input *InvokeInput) (*InvokeResult, error) {
	return audit.Wrap(ctx, s.audit, audit.Operation[*InvokeResult]{
		Actor:      &input.Actor,
		Action:     auditActionFor(input.Action),
		Operation:  string(input.Action),
		EntityType: domain.EntityTypeDocument,
		EntityID:   nonNil(input.DocumentID),
		OldValue: func(ctx context.Context) (any, error) {
			state, err := s.docs.GetState(ctx, input.DocumentID)
			if err != nil {
				return nil, err
			}
			return resultFrom(state), nil
		},
		Run: func(ctx context.Context) (*InvokeResult, error) {
			return s.invoke(ctx, input)
		},
	})
}

// RejectInvoke records an action attempt refused before it could be decoded,
// such as a malformed document id or request body, and returns the validation
// error describing it. input carries whatever was recovered from the request.
func (s *documentService) RejectInvoke(ctx context.Context, input *InvokeInput, reason string) error {
	_, err := audit.Wrap(ctx, s.audit, audit.Operation[*InvokeResult]{
		Actor:      &input.Actor,
		Action:     auditActionFor(input.Action),
		Operation:  string(input.Action),
		EntityType: domain.EntityTypeDocument,
		EntityID:   nonNil(input.DocumentID),
		Run: func(context.Context) (*InvokeResult, error) {
			return nil, fmt.Errorf("%w: %s", domain.ErrValidation, reason)
		},
	})
	return err
}

func (s *documentService) invoke(ctx context.Context, input *InvokeInput) (*InvokeResult, error) {
	if err := s.validateInvoke(input); err != nil {
		return nil, err
	}

	state, err := s.docs.GetState(ctx, input.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := checkLifecycle(state, input.Action); err != nil {
		return nil, err
	}
	// Fail fast on the unlocked state; the check is repeated under the lock.
	if err := s.engine.Check(state, input.Actor, input.Action); err != nil {
		s.countRejection(err)
		return nil, err
	}

	var target *domain.Version
	switch input.Action {
	case domain.ActionUploadNewVersion:
		if err := s.verifyObject(ctx, input.Payload.File); err != nil {
			return nil, err
		}
	case domain.ActionRestoreVersion:
		// Versions never move between documents, so the target can be read
		// outside the transaction.
		if target, err = s.docs.GetVersion(ctx, input.DocumentID, *input.Payload.VersionID); err != nil {
			return nil, err
		}
	}

	now := requestctx.Now(ctx).UTC()
	state, err = s.docs.Transition(ctx, input.DocumentID, func(locked *domain.DocumentState) (*port.DocumentChange, error) {
		if err := checkLifecycle(locked, input.Action); err != nil {
			return nil, err
		}
		if err := s.engine.Check(locked, input.Actor, input.Action); err != nil {
			return nil, err
		}
		return s.change(locked, input, target, now)
	})
	if err != nil {
		s.countRejection(err)
		return nil, err
	}

	s.log.Info("documentService.Invoke: action applied",
		zap.String("document_id", input.DocumentID.String()),
		zap.String("action", string(input.Action)),
		zap.String("actor_id", input.Actor.ID.String()),
		zap.String("status", string(state.Status())))
	return resultFrom(state), nil
}

// change builds the writes implied by an action that already passed the
// workflow checks against state.
func (s *documentService) change(state *domain.DocumentState, input *InvokeInput, target *domain.Version, now time.Time) (*port.DocumentChange, error) {
	actorID := input.Actor.ID
	p := input.Payload
	doc := state.Document

	switch input.Action {
	case domain.ActionSubmitForReview:
		if state.Current == nil {
			return nil, domain.ErrVersionNotFound
		}
		v := *state.Current
		v.ResetReview()
		v.ReviewStatus = domain.ReviewStatusSubmitted
		v.ReviewSubmittedBy = &actorID
		v.ReviewSubmittedTo = p.ReviewerID
		v.ReviewSubmittedAt = &now
		v.ReviewComment = p.Comment
		doc.ReviewResetAt = nil
		doc.ReviewResetBy = nil
		return &port.DocumentChange{Document: &doc, Version: &v}, nil

	case domain.ActionApprove, domain.ActionReject:
		v := *state.Current
		v.ReviewStatus = domain.ReviewStatusApproved
		if input.Action == domain.ActionReject {
			v.ReviewStatus = domain.ReviewStatusRejected
		}
		v.ReviewedBy = &actorID
		v.ReviewedAt = &now
		v.ReviewComment = p.Comment
		return &port.DocumentChange{Version: &v}, nil

	case domain.ActionArchive:
		doc.IsArchived = true
		doc.ArchivedAt = &now
		doc.ArchivedBy = &actorID
		return &port.DocumentChange{Document: &doc}, nil

	case domain.ActionUnarchive:
		doc.IsArchived = false
		doc.ArchivedAt = nil
		doc.ArchivedBy = nil
		return &port.DocumentChange{Document: &doc}, nil

	case domain.ActionSoftDelete:
		doc.IsDeleted = true
		doc.DeletedAt = &now
		doc.DeletedBy = &actorID
		doc.DeletionReason = strings.TrimSpace(p.Reason)
		return &port.DocumentChange{Document: &doc}, nil

	case domain.ActionRestore:
		doc.IsDeleted = false
		doc.DeletedAt = nil
		doc.DeletedBy = nil
		doc.DeletionReason = ""
		doc.RestoredAt = &now
		doc.RestoredBy = &actorID
		return &port.DocumentChange{Document: &doc}, nil

	case domain.ActionUploadNewVersion:
		if p.BaseVersionID != nil && (doc.CurrentVersionID == nil || *doc.CurrentVersionID != *p.BaseVersionID) {
			return nil, domain.ErrVersionConflict
		}
		return &port.DocumentChange{NewVersion: newVersion(p.File, actorID, now)}, nil

	case domain.ActionRestoreVersion:
		if doc.CurrentVersionID != nil && *doc.CurrentVersionID == target.ID {
			return nil, domain.ErrVersionAlreadyCurrent
		}
		// Version rows keep their review history; the reset lives on the document.
		doc.ReviewResetAt = &now
		doc.ReviewResetBy = &actorID
		id := target.ID
		return &port.DocumentChange{Document: &doc, Repoint: &id}, nil
	}
	return nil, domain.ErrUnknownAction
}

func (s *documentService) Get(ctx context.Context, docID uuid.UUID, actor domain.Actor) (*DocumentView, error) {
	state, err := s.docs.GetState(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.view(state, actor), nil
}

func (s *documentService) List(ctx context.Context, filter domain.DocumentFilter, actor domain.Actor, offset, limit int) ([]DocumentView, int, error) {
	if filter.Status != "" && !domain.ValidStatuses[filter.Status] {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	states, total, err := s.docs.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	views := make([]DocumentView, len(states))
	for i := range states {
		views[i] = *s.view(&states[i], actor)
	}
	return views, total, nil
}

func (s *documentService) ListVersions(ctx context.Context, docID uuid.UUID) ([]domain.Version, error) {
	if _, err := s.docs.GetState(ctx, docID); err != nil {
		return nil, err
	}
	return s.docs.ListVersions(ctx, docID)
}

func (s *documentService) AvailableActions(ctx context.Context, docID uuid.UUID, actor domain.Actor) ([]domain.Action, error) {
	state, err := s.docs.GetState(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.engine.AvailableActions(state, actor), nil
}

func (s *documentService) VersionDownloadURL(ctx context.Context, docID, versionID uuid.UUID) (*PresignedURL, error) {
	if s.storage == nil {
		return nil, domain.ErrStorageNotConfigured
	}
	v, err := s.docs.GetVersion(ctx, docID, versionID)
	if err != nil {
		return nil, err
	}
	url, err := s.storage.PresignGet(ctx, v.StorageKey, s.cfg.PresignExpiry)
	if err != nil {
		return nil, err
	}
	return &PresignedURL{
		URL:        url,
		Method:     "GET",
		StorageKey: v.StorageKey,
		ExpiresAt:  requestctx.Now(ctx).UTC().Add(s.cfg.PresignExpiry),
	}, nil
}

// UploadURL hands out a presigned PUT for the next version of a document. The
// actor must currently be allowed to upload a new version.
func (s *documentService) UploadURL(ctx context.Context, docID uuid.UUID, actor domain.Actor, fileName, contentType string) (*PresignedURL, error) {
	if s.storage == nil {
		return nil, domain.ErrStorageNotConfigured
	}
	name := path.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == "/" {
		return nil, domain.ErrInvalidFile
	}
	state, err := s.docs.GetState(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := checkLifecycle(state, domain.ActionUploadNewVersion); err != nil {
		return nil, err
	}
	if err := s.engine.Check(state, actor, domain.ActionUploadNewVersion); err != nil {
		s.countRejection(err)
		return nil, err
	}

	key := fmt.Sprintf("studies/%s/documents/%s/%s/%s", state.Document.StudyID, docID, uuid.New(), name)
	url, err := s.storage.PresignPut(ctx, key, contentType, s.cfg.PresignExpiry)
	if err != nil {
		return nil, err
	}
	return &PresignedURL{
		URL:        url,
		Method:     "PUT",
		StorageKey: key,
		ExpiresAt:  requestctx.Now(ctx).UTC().Add(s.cfg.PresignExpiry),
	}, nil
}

func (s *documentService) validateInvoke(input *InvokeInput) error {
	if input.Action == "" {
		return domain.ErrMissingAction
	}
	if err := validateActor(input.Actor); err != nil {
		return err
	}
	if !input.Action.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAction, input.Action)
	}

	p := input.Payload
	switch input.Action {
	case domain.ActionSoftDelete:
		if strings.TrimSpace(p.Reason) == "" {
			return domain.ErrMissingDeletionReason
		}
	case domain.ActionUploadNewVersion:
		if p.File == nil {
			return domain.ErrInvalidFile
		}
		return s.validateFile(p.File)
	case domain.ActionRestoreVersion:
		if p.VersionID == nil || *p.VersionID == uuid.Nil {
			return domain.ErrMissingVersionID
		}
	}
	return nil
}

func (s *documentService) validateFile(f *FileInput) error {
	if strings.TrimSpace(f.Name) == "" || strings.TrimSpace(f.Checksum) == "" ||
		strings.TrimSpace(f.StorageKey) == "" || f.Size <= 0 {
		return domain.ErrInvalidFile
	}
	if s.cfg.MaxFileSize > 0 && f.Size > s.cfg.MaxFileSize {
		return domain.ErrFileTooLarge
	}
	return nil
}

// verifyObject checks the declared file against the object store when
// upload verification is enabled.
func (s *documentService) verifyObject(ctx context.Context, f *FileInput) error {
	if !s.cfg.VerifyUploads || s.storage == nil {
		return nil
	}
	info, err := s.storage.Stat(ctx, f.StorageKey)
	if err != nil {
		return err
	}
	if info.Size != f.Size {
		return fmt.Errorf("%w: declared %d bytes, stored %d", domain.ErrStorageMismatch, f.Size, info.Size)
	}
	return nil
}

func (s *documentService) view(state *domain.DocumentState, actor domain.Actor) *DocumentView {
	return &DocumentView{
		Document:         state.Document,
		CurrentVersion:   state.Current,
		Status:           state.Status(),
		AvailableActions: s.engine.AvailableActions(state, actor),
	}
}

func (s *documentService) countRejection(err error) {
	if we, ok := domain.AsWorkflowError(err); ok {
		s.metrics.Rejections.WithLabelValues(string(we.Action), we.Check).Inc()
	}
}

func validateActor(actor domain.Actor) error {
	if actor.ID == uuid.Nil {
		return domain.ErrMissingActor
	}
	if len(actor.Roles) == 0 {
		return domain.ErrMissingRole
	}
	return nil
}

// checkLifecycle enforces that RESTORE targets deleted documents and every
// other action targets live ones.
func checkLifecycle(state *domain.DocumentState, action domain.Action) error {
	if action == domain.ActionRestore {
		if !state.Document.IsDeleted {
			return domain.ErrDocumentNotDeleted
		}
		return nil
	}
	if state.Document.IsDeleted {
		return domain.ErrDocumentDeleted
	}
	return nil
}

func auditActionFor(action domain.Action) domain.AuditAction {
	switch action {
	case domain.ActionSoftDelete:
		return domain.AuditActionDelete
	case domain.ActionUploadNewVersion:
		return domain.AuditActionCreate
	default:
		return domain.AuditActionUpdate
	}
}

func newVersion(f *FileInput, uploader uuid.UUID, now time.Time) *domain.Version {
	return &domain.Version{
		ID:           uuid.New(),
		FileName:     strings.TrimSpace(f.Name),
		FileType:     f.Type,
		FileSize:     f.Size,
		Checksum:     strings.TrimSpace(f.Checksum),
		StorageKey:   strings.TrimSpace(f.StorageKey),
		UploadedBy:   uploader,
		UploadedAt:   now,
		ChangeReason: f.ChangeReason,
	}
}

func resultFrom(state *domain.DocumentState) *InvokeResult {
	st := state.Clone()
	return &InvokeResult{Document: st.Document, Version: st.Current, Status: st.Status()}
}

func nonNil(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
