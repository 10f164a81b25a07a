package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchResultJSONLeavesOutDocuments(t *testing.T) {
	result := BatchResult{
		RunID: "run-1",
		Outcomes: []DocumentOutcome{{
			DocumentID: "1",
			Status:     StatusCompleted,
			Document:   &Document{ID: "1", ReportOriginalText: "long report text", ReportEnglishText: "long translation"},
		}},
		Completed: 1,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	assert.JSONEq(t, `{"runId":"run-1","outcomes":[{"documentId":"1","status":"COMPLETED"}],"completed":1,"failed":0}`, string(data))
	assert.NotContains(t, string(data), "long report text")
}

func TestDocumentOutcomeSucceeded(t *testing.T) {
	assert.True(t, DocumentOutcome{Status: StatusCompleted}.Succeeded())
	assert.False(t, DocumentOutcome{Status: StatusCompleted, Error: "x"}.Succeeded())
	assert.False(t, DocumentOutcome{Status: StatusFailed}.Succeeded())
}
