package main

import (
	"encoding/json"
	"fmt"
	"strings"

	coreerrors "github.com/davidahmann/sift/core/errors"
	"github.com/davidahmann/sift/core/simulate"
)

type errorOutput struct {
	OK            bool   `json:"ok"`
	Operation     string `json:"operation,omitempty"`
	Error         string `json:"error"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorCategory string `json:"error_category,omitempty"`
	Retryable     *bool  `json:"retryable,omitempty"`
	Hint          string `json:"hint,omitempty"`
}

// usageError marks err as bad command input.
func usageError(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_input", "check command usage and flags", false)
}

// fail reports err on stdout as a JSON envelope or on stderr as text and
// returns the exit code for it.
func (app *cli) fail(operation string, err error) int {
	err = simulate.Classify(err)
	exitCode := exitCodeForError(err, exitInternalFailure)
	if app.jsonOutput {
		output := errorOutput{OK: false, Operation: operation, Error: err.Error()}
		if details, ok := coreerrors.Describe(err); ok {
			output.ErrorCategory = string(details.Category)
			output.ErrorCode = details.Code
			output.Retryable = &details.Retryable
			output.Hint = details.Hint
		}
		return app.writeJSONOutput(output, exitCode)
	}
	_, _ = fmt.Fprintf(app.stderr, "sift: %v\n", err)
	if hint := coreerrors.HintOf(err); hint != "" {
		_, _ = fmt.Fprintf(app.stderr, "hint: %s\n", hint)
	}
	return exitCode
}

func (app *cli) writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalOutputWithErrorEnvelope(output, exitCode)
	if err != nil {
		_, _ = fmt.Fprintln(app.stdout, `{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure","retryable":false}`)
		return exitInternalFailure
	}
	_, _ = fmt.Fprintln(app.stdout, string(encoded))
	return exitCode
}

// marshalOutputWithErrorEnvelope fills error_code, error_category,
// retryable and hint on outputs that carry an error.
func marshalOutputWithErrorEnvelope(output any, exitCode int) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	result := map[string]any{}
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, err
	}
	errorText := strings.TrimSpace(asString(result["error"]))
	if errorText == "" {
		return json.Marshal(result)
	}
	if strings.TrimSpace(asString(result["error_code"])) == "" {
		result["error_code"] = defaultErrorCode(exitCode)
	}
	if strings.TrimSpace(asString(result["error_category"])) == "" {
		result["error_category"] = string(defaultErrorCategory(exitCode))
	}
	if _, exists := result["retryable"]; !exists {
		result["retryable"] = coreerrors.DefaultRetryable(coreerrors.Category(asString(result["error_category"])))
	}
	if strings.TrimSpace(asString(result["hint"])) == "" {
		result["hint"] = defaultHint(exitCode)
	}
	return json.Marshal(result)
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput:
		return exitInvalidInput
	case coreerrors.CategoryNotFound:
		return exitNotFound
	case coreerrors.CategoryAlreadyExists, coreerrors.CategoryStateContention:
		return exitConflict
	case coreerrors.CategoryLifecycle:
		return exitReviewFailed
	case coreerrors.CategoryIOFailure, coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	return fallbackExit
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitNotFound:
		return coreerrors.CategoryNotFound
	case exitConflict:
		return coreerrors.CategoryAlreadyExists
	case exitReviewFailed:
		return coreerrors.CategoryLifecycle
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func defaultErrorCode(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "invalid_input"
	case exitNotFound:
		return "not_found"
	case exitConflict:
		return "conflict"
	case exitReviewFailed:
		return "review_failed"
	default:
		return "internal_failure"
	}
}

func defaultHint(exitCode int) string {
	switch exitCode {
	case exitInvalidInput:
		return "check command usage and input files"
	case exitNotFound:
		return "list projects with sift project list"
	case exitConflict:
		return "retry, or pick another project id or output path"
	case exitReviewFailed:
		return "inspect the error record of the review"
	default:
		return "retry after checking local environment and logs"
	}
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
