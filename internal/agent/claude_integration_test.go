package agent_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoboard/internal/agent"
	"autoboard/internal/testutil"
)

func TestClaudeIntegrationRoundTrip(t *testing.T) {
	command := testutil.LoadClaudeCommand()
	if command == "" {
		t.Skip("set AUTOBOARD_TEST_CLAUDE to run claude integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	session, err := agent.NewClaudeOpener(command, "plan", nil).Open(ctx, agent.OpenRequest{
		Prompt: "Reply with the single word: pong",
		Cwd:    t.TempDir(),
	})
	require.NoError(t, err)
	defer session.Close()

	var sawResult bool
	var sessionID string
	for {
		msg, err := session.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if msg.SessionID != "" {
			sessionID = msg.SessionID
		}
		if msg.Kind == agent.MessageResult {
			sawResult = true
		}
	}
	require.True(t, sawResult)
	require.NotEmpty(t, sessionID)
}
