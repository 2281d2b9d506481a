package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ctdms/internal/audit"
	"ctdms/internal/domain"
	"ctdms/internal/repository/memory"
	"ctdms/internal/requestctx"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// blockingLedger never completes a write until its context ends.
type blockingLedger struct {
	memory.Ledger
}

func (b *blockingLedger) Append(ctx context.Context, _ *domain.AuditEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

// gatedLedger holds every write until release is closed.
type gatedLedger struct {
	*memory.Ledger
	release chan struct{}
}

func newGatedLedger() *gatedLedger {
	return &gatedLedger{Ledger: memory.NewLedger(), release: make(chan struct{})}
}

func (g *gatedLedger) Append(ctx context.Context, e *domain.AuditEntry) error {
	select {
	case <-g.release:
		return g.Ledger.Append(ctx, e)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRecorder_BuildsEntryFromContext(t *testing.T) {
	ledger := memory.NewLedger()
	rec := audit.NewRecorder(ledger, zap.NewNop(), audit.NewMetrics(prometheus.NewRegistry()), audit.RecorderConfig{})

	actor := &domain.Actor{
		ID:    uuid.New(),
		Email: "author@site.test",
		Roles: []domain.UserRole{domain.RoleDocumentAuthor, domain.RoleReviewer},
	}
	docID := uuid.New()
	ctx := requestctx.WithMetadata(context.Background(), requestctx.Metadata{
		RequestID: "req-42",
		ClientIP:  "203.0.113.7",
		UserAgent: chromeUA,
		SessionID: "sess-1",
	})

	rec.Record(ctx, audit.RecordInput{
		Actor:      actor,
		Action:     domain.AuditActionUpdate,
		Operation:  "SUBMIT_FOR_REVIEW",
		EntityType: domain.EntityTypeDocument,
		EntityID:   &docID,
		OldValue:   map[string]any{"review_status": nil},
		NewValue:   map[string]any{"review_status": "submitted"},
		Status:     domain.AuditStatusSuccess,
	})

	entries, total, err := ledger.Query(context.Background(), domain.AuditFilter{}, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	e := entries[0]
	assert.Equal(t, actor.ID, *e.ActorID)
	assert.Equal(t, "author@site.test", e.ActorEmail)
	assert.Equal(t, "document_author,reviewer", e.ActorRoles.String())
	assert.Equal(t, "req-42", e.RequestID)
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Equal(t, "sess-1", e.SessionID)
	assert.Contains(t, e.ClientInfo, "Chrome")
	assert.JSONEq(t, `{"review_status":null}`, string(e.OldValue))
	assert.JSONEq(t, `{"review_status":"submitted"}`, string(e.NewValue))
}

func TestRecorder_SessionID(t *testing.T) {
	ledger := memory.NewLedger()
	rec := audit.NewRecorder(ledger, zap.NewNop(), nil, audit.RecorderConfig{})
	actor := &domain.Actor{ID: uuid.New(), SessionID: "token-jti"}

	withHeader := requestctx.WithMetadata(context.Background(), requestctx.Metadata{SessionID: "sess-1"})
	rec.Record(withHeader, audit.RecordInput{Actor: actor, Operation: "header"})
	rec.Record(context.Background(), audit.RecordInput{Actor: actor, Operation: "token"})

	entries, _, err := ledger.Query(context.Background(), domain.AuditFilter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byOp := map[string]string{}
	for _, e := range entries {
		byOp[e.Operation] = e.SessionID
	}
	assert.Equal(t, "sess-1", byOp["header"], "request header wins")
	assert.Equal(t, "token-jti", byOp["token"])
}

func TestRecorder_NilValuesStoredAsNull(t *testing.T) {
	ledger := memory.NewLedger()
	rec := audit.NewRecorder(ledger, zap.NewNop(), nil, audit.RecorderConfig{})

	rec.Record(context.Background(), audit.RecordInput{
		Action: domain.AuditActionDelete,
		Status: domain.AuditStatusFailure,
		// channels cannot be marshaled
		NewValue: make(chan int),
	})

	entries, _, err := ledger.Query(context.Background(), domain.AuditFilter{}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "null", string(entries[0].OldValue))
	assert.Equal(t, "null", string(entries[0].NewValue))
	assert.Nil(t, entries[0].ActorID)
}

func TestRecorder_FailureIsLoggedAndCounted(t *testing.T) {
	ledger := memory.NewLedger()
	ledger.FailWrites(errors.New("connection refused"))
	core, logs := observer.New(zap.ErrorLevel)
	metrics := audit.NewMetrics(prometheus.NewRegistry())
	rec := audit.NewRecorder(ledger, zap.New(core), metrics, audit.RecorderConfig{})

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), audit.RecordInput{Action: domain.AuditActionUpdate, Status: domain.AuditStatusSuccess})
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WriteFailures))
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "audit entry lost")
}

func TestRecorder_HungLedgerIsBoundedByTimeout(t *testing.T) {
	metrics := audit.NewMetrics(prometheus.NewRegistry())
	rec := audit.NewRecorder(&blockingLedger{}, zap.NewNop(), metrics, audit.RecorderConfig{WriteTimeout: 50 * time.Millisecond})

	start := time.Now()
	rec.Record(context.Background(), audit.RecordInput{Action: domain.AuditActionUpdate})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WriteFailures))
}

func TestRecorder_WriteSurvivesCanceledRequest(t *testing.T) {
	ledger := memory.NewLedger()
	rec := audit.NewRecorder(ledger, zap.NewNop(), nil, audit.RecorderConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Record(ctx, audit.RecordInput{Action: domain.AuditActionUpdate})

	assert.Equal(t, 1, ledger.Len())
}

func TestRecorder_AsyncDrainsOnClose(t *testing.T) {
	ledger := memory.NewLedger()
	rec := audit.NewRecorder(ledger, zap.NewNop(), nil, audit.RecorderConfig{Async: true, QueueSize: 4, Workers: 2})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(context.Background(), audit.RecordInput{Action: domain.AuditActionUpdate, Status: domain.AuditStatusSuccess})
		}()
	}
	wg.Wait()
	rec.Close()

	assert.Equal(t, 50, ledger.Len())

	// After Close records are written synchronously.
	rec.Record(context.Background(), audit.RecordInput{Action: domain.AuditActionUpdate})
	assert.Equal(t, 51, ledger.Len())
}

func TestRecorder_AsyncHungLedgerDoesNotBlockCallers(t *testing.T) {
	ledger := newGatedLedger()
	core, logs := observer.New(zap.ErrorLevel)
	metrics := audit.NewMetrics(prometheus.NewRegistry())
	rec := audit.NewRecorder(ledger, zap.New(core), metrics, audit.RecorderConfig{
		WriteTimeout: 10 * time.Second,
		Async:        true,
		QueueSize:    1,
		Workers:      1,
		MaxOverflow:  1,
	})

	const records = 5
	start := time.Now()
	for i := 0; i < records; i++ {
		rec.Record(context.Background(), audit.RecordInput{Action: domain.AuditActionUpdate, Status: domain.AuditStatusSuccess})
	}
	assert.Less(t, time.Since(start), time.Second)

	// One in flight, one queued, one overflow writer: the rest cannot be held.
	dropped := int(testutil.ToFloat64(metrics.WriteFailures))
	assert.GreaterOrEqual(t, dropped, 2)
	assert.Equal(t, dropped, logs.FilterMessageSnippet("audit entry dropped").Len())

	close(ledger.release)
	rec.Close()
	assert.Equal(t, records, ledger.Len()+dropped)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OverflowWrites))
}

func TestClientSummary(t *testing.T) {
	assert.Equal(t, "", audit.ClientSummary(""))
	summary := audit.ClientSummary(chromeUA)
	assert.Contains(t, summary, "Chrome 120.0.0.0")
	assert.Contains(t, summary, "Windows")
}
