package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClaudeLineSystemInit(t *testing.T) {
	t.Parallel()

	msg, ok, err := ParseClaudeLine(`{"type":"system","subtype":"init","session_id":"sess-1","cwd":"/tmp"}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MessageSystem, msg.Kind)
	assert.Equal(t, "init", msg.Subtype)
	assert.Equal(t, "sess-1", msg.SessionID)
}

func TestParseClaudeLineAssistantBlocks(t *testing.T) {
	t.Parallel()

	line := `{"type":"assistant","session_id":"sess-1","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"Looking at the code"},` +
		`{"type":"thinking","thinking":"hmm"},` +
		`{"type":"text","text":"   "},` +
		`{"type":"tool_use","id":"tu_1","name":"Read","input":{"file_path":"main.go"}}]}}`
	msg, ok, err := ParseClaudeLine(line)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MessageAssistant, msg.Kind)
	require.Len(t, msg.Content, 3)
	assert.Equal(t, BlockText, msg.Content[0].Type)
	assert.Equal(t, "Looking at the code", msg.Content[0].Text)
	assert.Equal(t, BlockText, msg.Content[1].Type)
	assert.Equal(t, "   ", msg.Content[1].Text)
	assert.Equal(t, BlockToolUse, msg.Content[2].Type)
	assert.Equal(t, "Read", msg.Content[2].Name)
	assert.JSONEq(t, `{"file_path":"main.go"}`, string(msg.Content[2].Input))
}

func TestParseClaudeLineStringContent(t *testing.T) {
	t.Parallel()

	msg, ok, err := ParseClaudeLine(`{"type":"assistant","message":{"content":"plain reply"}}`)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "plain reply", msg.Content[0].Text)
}

func TestParseClaudeLineResult(t *testing.T) {
	t.Parallel()

	msg, ok, err := ParseClaudeLine(`{"type":"result","subtype":"success","is_error":false,"result":"All done","session_id":"sess-2"}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MessageResult, msg.Kind)
	assert.Equal(t, "All done", msg.Result)
	assert.Equal(t, "sess-2", msg.SessionID)
	assert.False(t, msg.IsError)

	nested, ok, err := ParseClaudeLine(`{"type":"result","result":{"result":"nested"}}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nested", nested.Result)
}

func TestParseClaudeLineSkipsUnknownAndBlank(t *testing.T) {
	t.Parallel()

	_, ok, err := ParseClaudeLine(`{"type":"stream_event","event":{"type":"message_start"}}`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseClaudeLine("   ")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseClaudeLine("{not json")
	require.Error(t, err)
}

func TestClaudeArgs(t *testing.T) {
	t.Parallel()

	args := claudeArgs(OpenRequest{Prompt: "hi", Model: "opus", Resume: "sess-9"}, "acceptEdits")
	assert.Equal(t, []string{
		"--print", "--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--model", "opus",
		"--resume", "sess-9",
		"--permission-mode", "acceptEdits",
	}, args)

	minimal := claudeArgs(OpenRequest{Prompt: "hi"}, "")
	assert.NotContains(t, minimal, "--resume")
	assert.NotContains(t, minimal, "--model")
}
