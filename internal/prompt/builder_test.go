package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmstream/chatd/internal/history"
)

func TestBuild_EmptyHistory(t *testing.T) {
	got := Build("You are a helpful and concise AI assistant.", nil, "Hello")
	assert.Equal(t, "You are a helpful and concise AI assistant.\n\nUser: Hello\nAssistant: ", got)
}

func TestBuild_WithHistory(t *testing.T) {
	prior := []history.Turn{
		{Role: history.RoleUser, Content: "Hello"},
		{Role: history.RoleAssistant, Content: "Hi there!"},
	}

	got := Build("ctx", prior, "How are you?")

	assert.Equal(t, "ctx\n\nUser: Hello\nAssistant: Hi there!\nUser: How are you?\nAssistant: ", got)
}

func TestBuild_Deterministic(t *testing.T) {
	prior := []history.Turn{
		{Role: history.RoleUser, Content: "a"},
		{Role: history.RoleAssistant, Content: "b"},
	}
	first := Build("ctx", prior, "c")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build("ctx", prior, "c"))
	}
}

func TestBuild_UnknownRoleLabeledAssistant(t *testing.T) {
	prior := []history.Turn{{Role: history.Role("model"), Content: "generated"}}

	got := Build("ctx", prior, "q")

	assert.Contains(t, got, "Assistant: generated\n")
	assert.NotContains(t, got, "model:")
}

func TestBuild_NoTrailingNewline(t *testing.T) {
	got := Build("ctx", nil, "hi")
	assert.Equal(t, byte(' '), got[len(got)-1], "prompt ends with the open continuation marker")
}

func TestLoadSystemContext_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.txt")

	got, err := LoadSystemContext(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemContext, got)

	// The fallback is persisted as the file's new content.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSystemContext, string(data))
}

func TestLoadSystemContext_ReadsAndTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.txt")
	require.NoError(t, os.WriteFile(path, []byte("  custom persona\n"), 0o644))

	got, err := LoadSystemContext(path)
	require.NoError(t, err)
	assert.Equal(t, "custom persona", got)
}
