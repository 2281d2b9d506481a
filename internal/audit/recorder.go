package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.uber.org/zap"

	"ctdms/internal/domain"
	"ctdms/internal/port"
	"ctdms/internal/requestctx"
)

const defaultWriteTimeout = 5 * time.Second

// RecordInput is what a caller knows about an audited operation. Request
// provenance is taken from the context.
type RecordInput struct {
	Actor      *domain.Actor
	Action     domain.AuditAction
	Operation  string
	EntityType string
	EntityID   *uuid.UUID
	StudyID    *uuid.UUID
	SiteID     *uuid.UUID
	OldValue   any
	NewValue   any
	Status     domain.AuditStatus
	Message    string
}

// Sink accepts audit records. Implementations must never fail the caller.
type Sink interface {
	Record(ctx context.Context, in RecordInput)
}

// RecorderConfig controls how entries reach the ledger. Without Async every
// Record waits for the ledger, up to WriteTimeout.
type RecorderConfig struct {
	WriteTimeout time.Duration
	Async        bool
	QueueSize    int
	Workers      int
	MaxOverflow  int
}

// Recorder builds audit entries and persists them to the ledger. It never
// returns an error: failures are logged and counted.
type Recorder struct {
	ledger  port.AuditLedger
	log     *zap.Logger
	metrics *Metrics
	cfg     RecorderConfig

	mu       sync.RWMutex
	closed   bool
	queue    chan *domain.AuditEntry
	overflow chan struct{}
	wg       sync.WaitGroup
}

var _ Sink = (*Recorder)(nil)

// NewRecorder creates a Recorder. In async mode it starts cfg.Workers
// goroutines draining a queue of cfg.QueueSize entries; call Close to drain.
func NewRecorder(ledger port.AuditLedger, log *zap.Logger, metrics *Metrics, cfg RecorderConfig) *Recorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	r := &Recorder{
		ledger:  ledger,
		log:     log.Named("audit"),
		metrics: metrics,
		cfg:     cfg,
	}
	if cfg.Async {
		r.startWorkers()
	}
	return r
}

// Record builds an entry from in and the request context and persists it.
func (r *Recorder) Record(ctx context.Context, in RecordInput) {
	entry := r.buildEntry(ctx, in)
	if r.queue != nil && r.dispatch(ctx, entry) {
		return
	}
	r.write(ctx, entry)
}

func (r *Recorder) buildEntry(ctx context.Context, in RecordInput) *domain.AuditEntry {
	md := requestctx.FromContext(ctx)
	entry := &domain.AuditEntry{
		ID:         uuid.New(),
		CreatedAt:  requestctx.Now(ctx).UTC(),
		Action:     in.Action,
		Operation:  in.Operation,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		StudyID:    in.StudyID,
		SiteID:     in.SiteID,
		OldValue:   r.marshal(in.OldValue),
		NewValue:   r.marshal(in.NewValue),
		Status:     in.Status,
		Message:    in.Message,
		IPAddress:  md.ClientIP,
		UserAgent:  md.UserAgent,
		ClientInfo: ClientSummary(md.UserAgent),
		SessionID:  md.SessionID,
		RequestID:  md.RequestID,
	}
	if a := in.Actor; a != nil {
		if a.ID != uuid.Nil {
			id := a.ID
			entry.ActorID = &id
		}
		entry.ActorEmail = a.Email
		entry.ActorRoles = append(domain.RoleList(nil), a.Roles...)
		if entry.SessionID == "" {
			entry.SessionID = a.SessionID
		}
	}
	return entry
}

func (r *Recorder) marshal(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	if raw, ok := v.(json.RawMessage); ok && len(raw) > 0 {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Warn("recorder.marshal: value not serializable, storing null", zap.Error(err))
		return json.RawMessage("null")
	}
	return b
}

// write persists entry on a context detached from the caller's cancellation
// and bounded by the configured timeout.
func (r *Recorder) write(ctx context.Context, entry *domain.AuditEntry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := r.appendSafely(wctx, entry)
	r.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.WriteFailures.Inc()
		r.log.Error("recorder.write: audit entry lost",
			zap.Error(err),
			zap.String("entry_id", entry.ID.String()),
			zap.String("operation", entry.Operation),
			zap.String("status", string(entry.Status)),
			zap.String("entity_type", entry.EntityType),
			zap.Stringp("entity_id", uuidString(entry.EntityID)),
			zap.String("request_id", entry.RequestID),
		)
		return
	}
	r.metrics.EntriesWritten.WithLabelValues(string(entry.Status)).Inc()
}

func (r *Recorder) appendSafely(ctx context.Context, entry *domain.AuditEntry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ledger panic: %v", p)
		}
	}()
	return r.ledger.Append(ctx, entry)
}

// ClientSummary condenses a User-Agent header into "Browser version / OS".
func ClientSummary(ua string) string {
	if strings.TrimSpace(ua) == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	if parsed.Bot() {
		return "bot: " + name
	}

	var b strings.Builder
	b.WriteString(name)
	if version != "" {
		b.WriteString(" " + version)
	}
	if os := parsed.OS(); os != "" {
		b.WriteString(" / " + os)
	}
	if parsed.Mobile() {
		b.WriteString(" (mobile)")
	}
	return strings.TrimSpace(b.String())
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
