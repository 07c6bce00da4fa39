package agent

import (
	"encoding/json"
	"strings"
)

type claudeLine struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Result    json.RawMessage `json:"result"`
	IsError   bool            `json:"is_error"`
}

type claudeMessageBody struct {
	Content json.RawMessage `json:"content"`
}

// ParseClaudeLine decodes one stream-json line. It returns ok=false for
// events that carry nothing for the run log (stream deltas, rate limits).
func ParseClaudeLine(line string) (Message, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, false, nil
	}
	var payload claudeLine
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return Message{}, false, err
	}
	msg := Message{
		Subtype:   payload.Subtype,
		SessionID: strings.TrimSpace(payload.SessionID),
		Raw:       json.RawMessage(line),
	}
	switch payload.Type {
	case "system":
		msg.Kind = MessageSystem
	case "assistant":
		msg.Kind = MessageAssistant
		msg.Content = parseClaudeContent(payload.Message)
	case "user":
		msg.Kind = MessageUser
		msg.Content = parseClaudeContent(payload.Message)
	case "result":
		msg.Kind = MessageResult
		msg.IsError = payload.IsError
		msg.Result = parseClaudeResult(payload.Result)
	default:
		return Message{}, false, nil
	}
	return msg, true, nil
}

func parseClaudeContent(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var body claudeMessageBody
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Content) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(body.Content, &text); err == nil {
		if text == "" {
			return nil
		}
		return []ContentBlock{{Type: BlockText, Text: text}}
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(body.Content, &blocks); err != nil {
		return nil
	}
	out := blocks[:0]
	for _, block := range blocks {
		if block.Type != BlockText && block.Type != BlockToolUse {
			continue
		}
		out = append(out, block)
	}
	return out
}

func parseClaudeResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var nested struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Result != "" {
		return nested.Result
	}
	return string(raw)
}

func buildClaudeUserPayload(text string) []byte {
	payload := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	}
	data, _ := json.Marshal(payload)
	return data
}
