package types

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type LogType string

const (
	LogTypeAssistantText LogType = "assistant_text"
	LogTypeToolUse       LogType = "tool_use"
	LogTypeToolResult    LogType = "tool_result"
	LogTypeError         LogType = "error"
	LogTypeUserInput     LogType = "user_input"
	LogTypeSystem        LogType = "system"
	LogTypeAskUser       LogType = "ask_user"
)

const (
	MaxToolResultChars = 2000
	truncationMarker   = "..."
)

// CardLog is a persisted log record. Ordering is by Sequence, never CreatedAt.
type CardLog struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	Type      LogType   `json:"type"`
	Content   string    `json:"content"`
	Sequence  int64     `json:"sequence"`
	CreatedAt time.Time `json:"createdAt"`
}

// LogContent is the typed form of a log entry. It is flattened into the
// Content string only when a record is stored or sent to clients.
type LogContent struct {
	Type  LogType
	Text  string
	Tool  string
	Input json.RawMessage
}

type toolUseContent struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

func AssistantText(text string) LogContent {
	return LogContent{Type: LogTypeAssistantText, Text: text}
}

func ToolUse(tool string, input json.RawMessage) LogContent {
	return LogContent{Type: LogTypeToolUse, Tool: tool, Input: input}
}

func AskUser(input json.RawMessage) LogContent {
	return LogContent{Type: LogTypeAskUser, Tool: "AskUserQuestion", Input: input}
}

func ToolResult(text string) LogContent {
	return LogContent{Type: LogTypeToolResult, Text: TruncateRunes(text, MaxToolResultChars)}
}

func ErrorLog(text string) LogContent {
	return LogContent{Type: LogTypeError, Text: text}
}

func SystemLog(text string) LogContent {
	return LogContent{Type: LogTypeSystem, Text: text}
}

func UserInput(text string) LogContent {
	return LogContent{Type: LogTypeUserInput, Text: text}
}

// Encode renders the content string stored alongside the log type.
func (c LogContent) Encode() string {
	switch c.Type {
	case LogTypeToolUse:
		data, err := json.Marshal(toolUseContent{Tool: c.Tool, Input: normalizeInput(c.Input)})
		if err != nil {
			return ""
		}
		return string(data)
	case LogTypeAskUser:
		return string(normalizeInput(c.Input))
	default:
		return c.Text
	}
}

func DecodeLogContent(logType LogType, content string) LogContent {
	out := LogContent{Type: logType}
	switch logType {
	case LogTypeToolUse:
		var payload toolUseContent
		if err := json.Unmarshal([]byte(content), &payload); err != nil {
			out.Text = content
			return out
		}
		out.Tool = payload.Tool
		out.Input = payload.Input
	case LogTypeAskUser:
		out.Tool = "AskUserQuestion"
		if json.Valid([]byte(content)) {
			out.Input = json.RawMessage(content)
		} else {
			out.Text = content
		}
	default:
		out.Text = content
	}
	return out
}

func TruncateRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + truncationMarker
}

func normalizeInput(input json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return json.RawMessage("{}")
	}
	return trimmed
}

func ParseLogType(raw string) (LogType, bool) {
	value := LogType(strings.TrimSpace(raw))
	switch value {
	case LogTypeAssistantText, LogTypeToolUse, LogTypeToolResult, LogTypeError,
		LogTypeUserInput, LogTypeSystem, LogTypeAskUser:
		return value, true
	default:
		return "", false
	}
}
