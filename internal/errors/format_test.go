package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser_BasicError(t *testing.T) {
	// Given: a SuggestError
	err := New(ErrCodeDocumentNotFound, "document 'note:1' not found", nil)

	// When: formatting for user
	result := FormatForUser(err)

	// Then: contains message and code
	assert.Contains(t, result, "document 'note:1' not found")
	assert.Contains(t, result, "[ERR_203_DOCUMENT_NOT_FOUND]")
}

func TestFormatForUser_WithSuggestion(t *testing.T) {
	err := New(ErrCodeStoreLocked, "store is in use", nil).
		WithSuggestion("Stop the other suggest process")

	result := FormatForUser(err)

	assert.Contains(t, result, "Suggestion:")
	assert.Contains(t, result, "other suggest process")
}

func TestFormatForUser_StandardError(t *testing.T) {
	assert.Equal(t, "something went wrong", FormatForUser(errors.New("something went wrong")))
	assert.Empty(t, FormatForUser(nil))
}

func TestFormatForCLI(t *testing.T) {
	// Given: a structured error with a hint
	err := New(ErrCodeConfigInvalid, "bad backend", nil).WithSuggestion("Use sqlite")

	// When: formatting for the terminal
	result := FormatForCLI(err)

	// Then: message, hint, and code are on separate lines
	assert.Equal(t, "Error: bad backend\n  Hint: Use sqlite\n  Code: ERR_102_CONFIG_INVALID\n", result)

	// And: plain errors are reported as internal
	assert.Contains(t, FormatForCLI(errors.New("boom")), ErrCodeInternal)
}

func TestFormatJSON_BasicError(t *testing.T) {
	// Given: a SuggestError with details
	err := New(ErrCodeDuplicateDoc, "note:1 already exists", errors.New("kv: key already exists")).
		WithDetail("key", "note:1").
		WithSuggestion("Use update instead")

	// When: formatting as JSON
	data, jsonErr := FormatJSON(err)

	// Then: valid JSON with all fields
	require.NoError(t, jsonErr)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, ErrCodeDuplicateDoc, parsed["code"])
	assert.Equal(t, "STORE", parsed["category"])
	assert.Equal(t, "Use update instead", parsed["suggestion"])
	assert.Equal(t, "kv: key already exists", parsed["cause"])
	assert.Equal(t, "note:1", parsed["details"].(map[string]any)["key"])
}

func TestFormatForLog(t *testing.T) {
	err := New(ErrCodeOperationTimeout, "insert timed out", nil).WithDetail("pending", "2")

	fields := FormatForLog(err)

	assert.Equal(t, ErrCodeOperationTimeout, fields["error_code"])
	assert.Equal(t, "2", fields["detail_pending"])
	assert.Equal(t, map[string]any{"error": "x"}, FormatForLog(errors.New("x")))
	assert.Nil(t, FormatForLog(nil))
}
