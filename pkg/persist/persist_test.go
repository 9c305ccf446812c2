package persist

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshflow/meshflow/pkg/execution"
	"github.com/meshflow/meshflow/pkg/mesherr"
)

func terminalRecord() *execution.Record {
	now := time.Now().UTC()
	return &execution.Record{
		ExecutionID:     "exec-1",
		WorkflowName:    "document_analysis",
		WorkflowVersion: "1.0.0",
		Status:          execution.StatusCompleted,
		CreatedAt:       now,
		StartedAt:       &now,
		CompletedAt:     &now,
		InputData:       map[string]any{"document_id": "doc_1"},
		OutputData:      map[string]any{"summary": "short"},
		MaxRetries:      3,
		Steps: []execution.StepRecord{
			{StepID: 1, NodeName: "fetch_document", Kind: execution.StepToolCall,
				Outcome: execution.OutcomeSuccess},
		},
		Errors:        []execution.ErrorRecord{},
		CorrelationID: "corr-1",
	}
}

func TestFileSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	rec := terminalRecord()
	require.NoError(t, sink.Write(rec))

	// One JSON document per execution, no leftover temp file.
	_, err = os.Stat(filepath.Join(dir, "exec-1.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "exec-1.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	loaded, err := sink.Read("exec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ExecutionID, loaded.ExecutionID)
	assert.Equal(t, rec.Status, loaded.Status)
	assert.Equal(t, rec.InputData, loaded.InputData)
	assert.Equal(t, rec.OutputData, loaded.OutputData)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "fetch_document", loaded.Steps[0].NodeName)
}

func TestFileSinkReadMissing(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Read("ghost")
	assert.Equal(t, mesherr.KindNotFound, mesherr.KindOf(err))
}

func TestFileSinkRequiresDir(t *testing.T) {
	_, err := NewFileSink("")
	assert.Equal(t, mesherr.KindValidation, mesherr.KindOf(err))
}

func TestWriterSinkEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.Write(terminalRecord()))
	second := terminalRecord()
	second.ExecutionID = "exec-2"
	require.NoError(t, sink.Write(second))

	scanner := bufio.NewScanner(&buf)
	var ids []string
	for scanner.Scan() {
		var rec execution.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ExecutionID)
	}
	assert.Equal(t, []string{"exec-1", "exec-2"}, ids)
}

func TestNopSink(t *testing.T) {
	assert.NoError(t, NopSink{}.Write(terminalRecord()))
}
