package daemon

import (
	"strings"

	"autoboard/internal/agent"
	"autoboard/internal/types"
)

const askUserQuestionTool = "AskUserQuestion"

type classifiedLog struct {
	content    types.LogContent
	needsInput bool
}

// classifyMessage maps one agent message to the log records it produces,
// in block order.
func classifyMessage(msg agent.Message) []classifiedLog {
	switch msg.Kind {
	case agent.MessageAssistant:
		out := make([]classifiedLog, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch block.Type {
			case agent.BlockText:
				out = append(out, classifiedLog{content: types.AssistantText(block.Text)})
			case agent.BlockToolUse:
				if block.Name == askUserQuestionTool {
					out = append(out, classifiedLog{content: types.AskUser(block.Input), needsInput: true})
					continue
				}
				out = append(out, classifiedLog{content: types.ToolUse(block.Name, block.Input)})
			}
		}
		return out
	case agent.MessageResult:
		if strings.TrimSpace(msg.Result) == "" {
			return nil
		}
		return []classifiedLog{{content: types.ToolResult(msg.Result)}}
	default:
		return nil
	}
}
