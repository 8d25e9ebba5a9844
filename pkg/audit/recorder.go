package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// writeTimeout bounds an audit write once it is detached from the request
const writeTimeout = 5 * time.Second

// Writer appends entries
type Writer interface {
	Insert(ctx context.Context, entry *Entry) error
}

// Recorder turns events into audit entries. It is called explicitly by the
// owning operation after its mutation has committed.
//
// Record never fails the caller: a failed write is logged on the
// operational channel and counted, and the business change stands.
type Recorder struct {
	writer  Writer
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRecorder creates a new recorder
func NewRecorder(writer Writer, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Recorder{writer: writer, logger: logger, metrics: metrics}
}

// Record appends one entry for ev. The write outlives cancellation of ctx,
// since the change it describes has already committed.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	entry, err := buildEntry(ev)
	if err == nil {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		err = r.writer.Insert(writeCtx, entry)
		cancel()
	}
	if err != nil {
		r.metrics.RecordAuditFailure(ev.Area)
		r.loggerFor(ctx).WithError(err).WithFields(map[string]interface{}{
			"project_id":  ev.ProjectID,
			"entity_type": ev.EntityType,
			"entity_id":   ev.EntityID,
			"action":      ev.Action,
		}).Error("failed to write audit entry")
		return
	}

	r.metrics.RecordAuditEntry(ev.Area, ev.Action)
}

func (r *Recorder) loggerFor(ctx context.Context) *observability.Logger {
	if _, ok := ctx.Value(contextkeys.LoggerKey).(*observability.Logger); ok {
		return observability.FromContext(ctx)
	}
	return r.logger
}

func buildEntry(ev Event) (*Entry, error) {
	before, err := snapshot(ev.Before)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal before state: %w", err)
	}
	after, err := snapshot(ev.After)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal after state: %w", err)
	}

	return &Entry{
		ProjectID:   ev.ProjectID,
		ActorID:     ev.Actor.ID(),
		Action:      ev.Action,
		TargetType:  ev.EntityType,
		TargetID:    ev.EntityID,
		Before:      before,
		After:       after,
		IPAddress:   ev.Actor.IPAddress,
		UserAgent:   ev.Actor.UserAgent,
		Description: ev.Description,
		Area:        ev.Area,
	}, nil
}

func snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil, err
	}
	return raw, nil
}
