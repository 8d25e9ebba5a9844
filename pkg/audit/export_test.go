package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []*Entry {
	actor := int64(7)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*Entry{
		{
			ID: 1, ProjectID: 3, ActorID: &actor, Action: ActionCreated, TargetType: "project", TargetID: "3",
			After: json.RawMessage(`{"name":"Acme"}`), Area: AreaProjects, CreatedAt: at,
		},
		{
			ID: 2, ProjectID: 3, Action: ActionStatusChanged, TargetType: "project", TargetID: "3",
			Description: "nightly, suspended", Area: AreaProjects, CreatedAt: at.Add(time.Hour),
		},
	}
}

func TestRender_JSON(t *testing.T) {
	data, err := Render(sampleEntries(), ExportFormatJSON)
	require.NoError(t, err)

	var decoded []Entry
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "project", decoded[0].TargetType)
	assert.Nil(t, decoded[1].ActorID)
}

func TestRender_EmptyIsArray(t *testing.T) {
	data, err := Render(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestRender_NDJSON(t *testing.T) {
	data, err := Render(sampleEntries(), ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var e Entry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		assert.Equal(t, int64(3), e.ProjectID)
	}
}

func TestRender_CSV(t *testing.T) {
	data, err := Render(sampleEntries(), ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ID", records[0][0])
	assert.Equal(t, "7", records[1][3])
	assert.Equal(t, "", records[2][3])
	assert.Equal(t, "nightly, suspended", records[2][8])
	assert.Equal(t, `{"name":"Acme"}`, records[1][12])
	assert.Equal(t, "2026-03-01T12:00:00Z", records[1][1])
}

func TestRender_UnsupportedFormat(t *testing.T) {
	_, err := Render(sampleEntries(), ExportFormat("xml"))
	assert.Error(t, err)
}
