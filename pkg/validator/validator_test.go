package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeBlocksFindsFencedGo(t *testing.T) {
	text := "Here is the fix:\n```go\nfunc add(a, b int) int { return a + b }\n```\ndone."
	blocks := ExtractCodeBlocks(text)
	require.Len(t, blocks, 1)
	assert.Equal(t, "go", blocks[0].Language)
	assert.Contains(t, blocks[0].Code, "func add")
}

func TestExtractCodeBlocksIgnoresEmptyBlocks(t *testing.T) {
	text := "```go\n\n```\n```go\nfunc f() {}\n```"
	blocks := ExtractCodeBlocks(text)
	require.Len(t, blocks, 1)
}

func TestValidateNoCodeBlocksPasses(t *testing.T) {
	result := Validate(context.Background(), "just a plain text answer", false, 0)
	assert.True(t, result.Valid)
	assert.False(t, result.HasCode)
}

func TestValidateCatchesSyntaxError(t *testing.T) {
	text := "```go\nfunc broken( {\n```"
	result := Validate(context.Background(), text, false, 0)
	assert.False(t, result.Valid)
	assert.True(t, result.HasCode)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Syntax")
}

func TestValidateAcceptsValidGoSnippet(t *testing.T) {
	text := "```go\nx := 1\n_ = x\n```"
	result := Validate(context.Background(), text, false, 0)
	assert.True(t, result.Valid)
}

func TestValidateNonGoLanguagePassesSyntaxLayer(t *testing.T) {
	text := "```python\ndef broken(:\n```"
	result := Validate(context.Background(), text, false, 0)
	assert.True(t, result.Valid)
	assert.True(t, result.HasCode)
}

func TestFormatErrorFeedbackListsEachError(t *testing.T) {
	result := Result{Errors: []string{"[Block 1/Syntax] unexpected EOF"}}
	feedback := FormatErrorFeedback(result)
	assert.Contains(t, feedback, "unexpected EOF")
	assert.Contains(t, feedback, "CODE ERROR")
}
