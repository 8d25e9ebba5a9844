package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

type memoryWriter struct {
	entries []*Entry
	err     error
}

func (w *memoryWriter) Insert(ctx context.Context, entry *Entry) error {
	if w.err != nil {
		return w.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.ID = int64(len(w.entries) + 1)
	w.entries = append(w.entries, entry)
	return nil
}

type projectSnapshot struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func TestRecorder_Record(t *testing.T) {
	writer := &memoryWriter{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(writer, nil, metrics)

	actor := tenancy.Actor{UserID: 7, IPAddress: "10.0.0.1", UserAgent: "cli"}
	recorder.Record(context.Background(), Event{
		ProjectID:   3,
		Actor:       actor,
		Action:      ActionUpdated,
		EntityType:  "project",
		EntityID:    "3",
		Before:      projectSnapshot{Name: "Acme", Status: "active"},
		After:       &projectSnapshot{Name: "Acme", Status: "suspended"},
		Area:        AreaProjects,
		Description: "suspended for billing",
	})

	require.Len(t, writer.entries, 1)
	entry := writer.entries[0]
	assert.Equal(t, int64(3), entry.ProjectID)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, int64(7), *entry.ActorID)
	assert.Equal(t, "project", entry.TargetType)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	assert.Equal(t, "cli", entry.UserAgent)
	assert.JSONEq(t, `{"name":"Acme","status":"active"}`, string(entry.Before))
	assert.JSONEq(t, `{"name":"Acme","status":"suspended"}`, string(entry.After))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEntriesTotal.WithLabelValues(AreaProjects, ActionUpdated)))
}

func TestRecorder_SystemActorAndNilSnapshots(t *testing.T) {
	writer := &memoryWriter{}
	recorder := NewRecorder(writer, nil, nil)

	var missing *projectSnapshot
	recorder.Record(context.Background(), Event{
		ProjectID:  3,
		Actor:      tenancy.System(),
		Action:     ActionCreated,
		EntityType: "project",
		Before:     missing,
		After:      json.RawMessage(`{"name":"Acme"}`),
	})

	require.Len(t, writer.entries, 1)
	assert.Nil(t, writer.entries[0].ActorID)
	assert.Nil(t, writer.entries[0].Before)
	assert.JSONEq(t, `{"name":"Acme"}`, string(writer.entries[0].After))
}

func TestRecorder_FailureIsLoggedAndCounted(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(&memoryWriter{err: errors.New("disk full")}, logger, metrics)

	assert.NotPanics(t, func() {
		recorder.Record(context.Background(), Event{
			ProjectID:  3,
			Actor:      tenancy.Actor{UserID: 7},
			Action:     ActionDeleted,
			EntityType: "membership",
			EntityID:   "12",
			Area:       AreaMembers,
		})
	})

	assert.Contains(t, buf.String(), "failed to write audit entry")
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), `"entity_type":"membership"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues(AreaMembers)))
}

func TestRecorder_UsesContextLogger(t *testing.T) {
	var own, scoped bytes.Buffer
	recorder := NewRecorder(&memoryWriter{err: errors.New("boom")},
		observability.NewLogger(observability.InfoLevel, &own), nil)

	ctx := observability.WithLogger(context.Background(), observability.NewLogger(observability.InfoLevel, &scoped))
	recorder.Record(ctx, Event{ProjectID: 1, Action: ActionCreated, EntityType: "project"})

	assert.Empty(t, own.String())
	assert.Contains(t, scoped.String(), "failed to write audit entry")
}

func TestRecorder_UnmarshalableSnapshot(t *testing.T) {
	writer := &memoryWriter{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(writer, observability.NewLogger(observability.InfoLevel, &bytes.Buffer{}), metrics)

	recorder.Record(context.Background(), Event{
		ProjectID:  1,
		Action:     ActionUpdated,
		EntityType: "project",
		After:      map[string]interface{}{"bad": make(chan int)},
		Area:       AreaProjects,
	})

	assert.Empty(t, writer.entries)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues(AreaProjects)))
}

func TestRecorder_SurvivesCanceledRequest(t *testing.T) {
	writer := &memoryWriter{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	recorder := NewRecorder(writer, observability.NewLogger(observability.InfoLevel, &bytes.Buffer{}), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder.Record(ctx, Event{ProjectID: 1, Action: ActionCreated, EntityType: "project", EntityID: "1", Area: AreaProjects})

	require.Len(t, writer.entries, 1)
	assert.Zero(t, testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues(AreaProjects)))
}
