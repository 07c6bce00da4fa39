package daemon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoboard/internal/agent"
	"autoboard/internal/testutil"
	"autoboard/internal/types"
)

func testMessage() agent.Message {
	return testutil.Text("hello")
}

func TestClassifyAssistantBlocks(t *testing.T) {
	msg := agent.Message{
		Kind: agent.MessageAssistant,
		Content: []agent.ContentBlock{
			{Type: agent.BlockText, Text: "Reading the file"},
			{Type: agent.BlockText, Text: "  "},
			{Type: agent.BlockToolUse, Name: "Read", Input: []byte(`{"file_path":"main.go"}`)},
			{Type: agent.BlockToolUse, Name: "AskUserQuestion", Input: []byte(`{"questions":[{"question":"Which db?"}]}`)},
		},
	}

	records := classifyMessage(msg)
	require.Len(t, records, 4)

	assert.Equal(t, types.LogTypeAssistantText, records[0].content.Type)
	assert.Equal(t, "Reading the file", records[0].content.Encode())
	assert.False(t, records[0].needsInput)

	assert.Equal(t, types.LogTypeAssistantText, records[1].content.Type)
	assert.Equal(t, "  ", records[1].content.Encode())

	assert.Equal(t, types.LogTypeToolUse, records[2].content.Type)
	assert.JSONEq(t, `{"tool":"Read","input":{"file_path":"main.go"}}`, records[2].content.Encode())

	assert.Equal(t, types.LogTypeAskUser, records[3].content.Type)
	assert.JSONEq(t, `{"questions":[{"question":"Which db?"}]}`, records[3].content.Encode())
	assert.True(t, records[3].needsInput)
}

func TestClassifyOnlyExactAskUserName(t *testing.T) {
	records := classifyMessage(testutil.ToolUse("askuserquestion", `{}`))
	require.Len(t, records, 1)
	assert.Equal(t, types.LogTypeToolUse, records[0].content.Type)
	assert.False(t, records[0].needsInput)
}

func TestClassifyResultTruncates(t *testing.T) {
	long := strings.Repeat("é", types.MaxToolResultChars+50)
	records := classifyMessage(testutil.Result(long))
	require.Len(t, records, 1)
	encoded := records[0].content.Encode()
	assert.Equal(t, types.LogTypeToolResult, records[0].content.Type)
	assert.Equal(t, types.MaxToolResultChars+3, len([]rune(encoded)))
	assert.True(t, strings.HasSuffix(encoded, "..."))

	short := classifyMessage(testutil.Result("done"))
	require.Len(t, short, 1)
	assert.Equal(t, "done", short[0].content.Encode())
}

func TestClassifyKeepsWhitespaceText(t *testing.T) {
	records := classifyMessage(testutil.Text("\n"))
	require.Len(t, records, 1)
	assert.Equal(t, types.LogTypeAssistantText, records[0].content.Type)
	assert.Equal(t, "\n", records[0].content.Encode())
}

func TestClassifyIgnoresOtherMessages(t *testing.T) {
	assert.Empty(t, classifyMessage(testutil.Init("sess-1")))
	assert.Empty(t, classifyMessage(agent.Message{Kind: agent.MessageUser}))
	assert.Empty(t, classifyMessage(testutil.Result("   ")))
}
