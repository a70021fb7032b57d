package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/davidahmann/sift/core/errors"
	"github.com/davidahmann/sift/core/lock"
	"github.com/davidahmann/sift/core/project"
	"github.com/davidahmann/sift/core/simulate"
)

func TestMarshalOutputWithErrorEnvelopeDefaults(t *testing.T) {
	encoded, err := marshalOutputWithErrorEnvelope(errorOutput{OK: false, Error: "boom"}, exitNotFound)
	require.NoError(t, err)
	output := map[string]any{}
	require.NoError(t, json.Unmarshal(encoded, &output))
	assert.Equal(t, "not_found", output["error_code"])
	assert.Equal(t, "not_found", output["error_category"])
	assert.Equal(t, false, output["retryable"])
	assert.NotEmpty(t, output["hint"])
}

func TestMarshalOutputWithErrorEnvelopeKeepsSuccess(t *testing.T) {
	encoded, err := marshalOutputWithErrorEnvelope(simulateOutput{OK: true, ProjectID: "run"}, exitOK)
	require.NoError(t, err)
	output := map[string]any{}
	require.NoError(t, json.Unmarshal(encoded, &output))
	assert.NotContains(t, output, "error_code")
	assert.Equal(t, "run", output["project_id"])
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{usageError(errors.New("bad flag")), exitInvalidInput},
		{project.Classify(project.ErrProjectNotFound), exitNotFound},
		{project.Classify(project.ErrProjectExists), exitConflict},
		{project.Classify(fmt.Errorf("save: %w", lock.ErrTimeout)), exitConflict},
		{simulate.Classify(simulate.ErrOutputExists), exitConflict},
		{coreerrors.Wrap(errors.New("engine"), coreerrors.CategoryLifecycle, "review_failed", "", false), exitReviewFailed},
		{errors.New("unclassified"), exitInternalFailure},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, exitCodeForError(test.err, exitInternalFailure), fmt.Sprint(test.err))
	}
}

func TestFailWritesEnvelope(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := &cli{stdout: &stdout, stderr: &stderr, jsonOutput: true}
	code := app.fail("save", fmt.Errorf("update: %w", project.ErrConflict))
	assert.Equal(t, exitConflict, code)
	output := map[string]any{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &output))
	assert.Equal(t, "save", output["operation"])
	assert.Equal(t, "document_conflict", output["error_code"])
	assert.Equal(t, "state_contention", output["error_category"])
	assert.Equal(t, true, output["retryable"])
	assert.Empty(t, stderr.String())
}

func TestFailWritesTextWithHint(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := &cli{stdout: &stdout, stderr: &stderr}
	code := app.fail("", project.ErrInvalidMode)
	assert.Equal(t, exitInvalidInput, code)
	assert.Contains(t, stderr.String(), "sift: invalid project mode")
	assert.Contains(t, stderr.String(), "hint: use oracle, explore or simulate")
	assert.Empty(t, stdout.String())
}
