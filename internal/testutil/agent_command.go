package testutil

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"autoboard/internal/config"
)

type agentTestFile struct {
	ClaudeCommand string `json:"claude_command"`
}

// LoadClaudeCommand returns the claude CLI to drive in integration tests.
// Lookup order:
// 1) AUTOBOARD_TEST_CLAUDE
// 2) ~/.autoboard/test-agent.json (claude_command)
// An empty result means integration tests should skip.
func LoadClaudeCommand() string {
	if command := strings.TrimSpace(os.Getenv("AUTOBOARD_TEST_CLAUDE")); command != "" {
		return resolveCommand(command)
	}
	if command := readAgentTestFile(); command != "" {
		return resolveCommand(command)
	}
	return ""
}

func readAgentTestFile() string {
	dataDir, err := config.DataDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dataDir, "test-agent.json"))
	if err != nil {
		return ""
	}
	var parsed agentTestFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.ClaudeCommand)
}

func resolveCommand(command string) string {
	path, err := exec.LookPath(command)
	if err != nil {
		return ""
	}
	return path
}
