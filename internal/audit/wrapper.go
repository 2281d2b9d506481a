package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ctdms/internal/domain"
)

// Scoped is implemented by captured values that know which entity and scope
// they belong to. The wrapper uses it to fill in identifiers the operation
// could not supply up front.
type Scoped interface {
	AuditScope() (entityID, studyID, siteID *uuid.UUID)
}

// Operation describes one audited unit of work.
type Operation[T any] struct {
	Actor      *domain.Actor
	Action     domain.AuditAction
	Operation  string
	EntityType string
	EntityID   *uuid.UUID
	StudyID    *uuid.UUID
	SiteID     *uuid.UUID

	// OldValue fetches the pre-image. Optional; errors and panics degrade to null.
	OldValue func(ctx context.Context) (any, error)
	// NewValue builds the post-image from a successful result. Optional;
	// defaults to the result itself.
	NewValue func(result T) any
	// Run performs the operation.
	Run func(ctx context.Context) (T, error)
}

// Wrap runs op and records exactly one audit entry for it: SUCCESS with the
// post-image when Run returns nil, FAILURE with the error message otherwise.
// Audit problems never change what Wrap returns. A panic in Run is recorded as
// a failure and re-raised.
func Wrap[T any](ctx context.Context, sink Sink, op Operation[T]) (result T, err error) {
	old := captureOld(ctx, op.OldValue)

	in := RecordInput{
		Actor:      op.Actor,
		Action:     op.Action,
		Operation:  op.Operation,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		StudyID:    op.StudyID,
		SiteID:     op.SiteID,
		OldValue:   old,
	}
	mergeScope(&in, old, false)

	defer func() {
		if p := recover(); p != nil {
			in.Status = domain.AuditStatusFailure
			in.Message = fmt.Sprintf("panic: %v", p)
			sink.Record(ctx, in)
			panic(p)
		}
	}()

	result, err = op.Run(ctx)
	if err != nil {
		in.Status = domain.AuditStatusFailure
		in.Message = err.Error()
	} else {
		in.Status = domain.AuditStatusSuccess
		in.NewValue = captureNew(op.NewValue, result)
		mergeScope(&in, in.NewValue, true)
	}
	sink.Record(ctx, in)
	return result, err
}

func captureOld(ctx context.Context, fn func(context.Context) (any, error)) (v any) {
	if fn == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			v = nil
		}
	}()
	v, err := fn(ctx)
	if err != nil {
		return nil
	}
	return v
}

func captureNew[T any](fn func(T) any, result T) (v any) {
	if fn == nil {
		return result
	}
	defer func() {
		if recover() != nil {
			v = nil
		}
	}()
	return fn(result)
}

// mergeScope copies identifiers from a captured value. With override the
// value's identifiers win; otherwise they only fill gaps.
func mergeScope(in *RecordInput, v any, override bool) {
	s, ok := v.(Scoped)
	if !ok || s == nil {
		return
	}
	entityID, studyID, siteID := safeScope(s)
	pick := func(dst **uuid.UUID, src *uuid.UUID) {
		if src != nil && (override || *dst == nil) {
			*dst = src
		}
	}
	pick(&in.EntityID, entityID)
	pick(&in.StudyID, studyID)
	pick(&in.SiteID, siteID)
}

func safeScope(s Scoped) (entityID, studyID, siteID *uuid.UUID) {
	defer func() {
		if recover() != nil {
			entityID, studyID, siteID = nil, nil, nil
		}
	}()
	return s.AuditScope()
}
