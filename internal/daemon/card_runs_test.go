package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoboard/internal/agent"
	"autoboard/internal/testutil"
	"autoboard/internal/types"
)

func TestStartRunCompletesAndFilesCard(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Add checkout", "Implement the checkout flow")

	result, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	assert.Equal(t, &StartRunResult{
		Success:     true,
		CardID:      card.ID,
		Status:      "started",
		ProjectPath: project.Path,
		Prompt:      "Implement the checkout flow",
	}, result)
	assert.True(t, env.runs.IsRunning(card.ID))

	session := env.opener.Next(t)
	assert.Equal(t, project.Path, session.Request.Cwd)
	assert.Equal(t, "sonnet", session.Request.Model)
	assert.True(t, session.Request.EnableUserInput)

	session.Send(testutil.Init("sess-1"))
	session.Send(testutil.Text("Looking around"))
	session.Send(testutil.ToolUse("Read", `{"file_path":"cart.go"}`))
	session.Send(testutil.Result("Checkout added"))
	session.Finish(nil)
	env.runs.Wait()

	logs := env.logs(t, card.ID)
	assert.Equal(t, []types.LogType{
		types.LogTypeAssistantText,
		types.LogTypeToolUse,
		types.LogTypeToolResult,
		types.LogTypeSystem,
	}, logTypes(logs))
	for i, record := range logs {
		assert.Equal(t, int64(i+1), record.Sequence)
	}
	assert.Equal(t, "Agent run completed", logs[3].Content)

	updated := env.getCard(t, card.ID)
	assert.Equal(t, types.ColumnManualReview, updated.ColumnID)
	assert.Equal(t, "sess-1", updated.SessionID)

	status := env.runs.RunStatus(card.ID)
	assert.Equal(t, types.RunStatusCompleted, status.Status)
	assert.Equal(t, 4, status.MessageCount)
	assert.True(t, session.Closed())
}

func TestStartRunPromptPrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.opener.SetScript(func(agent.OpenRequest) testutil.Script { return testutil.Script{} })
	project := env.project(t, "shop")

	override := "  Use the override  "
	withDescription := env.card(t, project.ID, "Title", "Description")
	result, err := env.runs.StartRun(context.Background(), withDescription.ID, StartRunOptions{Prompt: &override})
	require.NoError(t, err)
	assert.Equal(t, "Use the override", result.Prompt)

	blank := "   "
	titleOnly := env.card(t, project.ID, "Only a title", "")
	result, err = env.runs.StartRun(context.Background(), titleOnly.ID, StartRunOptions{Prompt: &blank})
	require.NoError(t, err)
	assert.Equal(t, "Only a title", result.Prompt)

	env.runs.Wait()
	prompts := make([]string, 0, 2)
	for _, req := range env.opener.Requests() {
		prompts = append(prompts, req.Prompt)
	}
	assert.ElementsMatch(t, []string{"Use the override", "Only a title"}, prompts)
}

func TestStartRunValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.runs.StartRun(ctx, "missing", StartRunOptions{})
	assert.True(t, IsServiceErrorKind(err, ServiceErrorNotFound))

	orphan := env.card(t, "", "No project", "")
	_, err = env.runs.StartRun(ctx, orphan.ID, StartRunOptions{})
	require.True(t, IsServiceErrorKind(err, ServiceErrorInvalid))
	assert.Equal(t, "Card has no project", err.Error())

	assert.Empty(t, env.opener.Requests())
}

func TestStartRunRejectsSecondRun(t *testing.T) {
	env := newTestEnv(t)
	env.opener.SetScript(holdScript)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Busy", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	conflicts := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
			conflicts <- err
		}()
	}
	wg.Wait()
	close(conflicts)
	for err := range conflicts {
		require.True(t, IsServiceErrorKind(err, ServiceErrorConflict))
		assert.Equal(t, "Card already has an active run", err.Error())
	}
	assert.Len(t, env.opener.Requests(), 1)
}

func TestConcurrentStartsCreateOneRun(t *testing.T) {
	env := newTestEnv(t)
	env.opener.SetScript(holdScript)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Race", "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{}); err == nil {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}

func TestRunResumesSessionAndContinuesSequence(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Iterate", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	first := env.opener.Next(t)
	first.Send(testutil.Init("sess-42"))
	first.Send(testutil.Text("one"))
	first.Finish(nil)
	env.runs.Wait()
	require.Len(t, env.logs(t, card.ID), 2)

	_, err = env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	second := env.opener.Next(t)
	assert.Equal(t, "sess-42", second.Request.Resume)
	second.Send(testutil.Text("two"))
	second.Finish(nil)
	env.runs.Wait()

	logs := env.logs(t, card.ID)
	require.Len(t, logs, 4)
	for i, record := range logs {
		assert.Equal(t, int64(i+1), record.Sequence)
	}
	assert.Equal(t, "two", logs[2].Content)
}

func TestSequenceSeedsFromStoreAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Restarted", "")
	for seq := int64(1); seq <= 3; seq++ {
		_, err := env.stores.CardLogs.CreateLog(context.Background(), &types.CardLog{
			CardID: card.ID, Type: types.LogTypeSystem, Content: "old", Sequence: seq,
		})
		require.NoError(t, err)
	}

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	session := env.opener.Next(t)
	session.Send(testutil.Text("new"))
	session.Finish(nil)
	env.runs.Wait()

	logs := env.logs(t, card.ID)
	require.Len(t, logs, 5)
	assert.Equal(t, int64(4), logs[3].Sequence)
	assert.Equal(t, "new", logs[3].Content)
}

func TestAskUserQuestionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Needs a decision", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	session := env.opener.Next(t)
	session.Send(testutil.ToolUse("AskUserQuestion", `{"questions":[{"question":"Postgres or sqlite?"}]}`))

	require.Eventually(t, func() bool { return env.runs.RunStatus(card.ID).NeedsInput }, eventuallyTimeout, 5*time.Millisecond)

	require.NoError(t, env.runs.SubmitUserInput(context.Background(), card.ID, "sqlite"))
	assert.Equal(t, "sqlite", session.WaitInput(t))
	assert.False(t, env.runs.RunStatus(card.ID).NeedsInput)

	session.Finish(nil)
	env.runs.Wait()

	logs := env.logs(t, card.ID)
	assert.Equal(t, []types.LogType{
		types.LogTypeAskUser,
		types.LogTypeUserInput,
		types.LogTypeSystem,
	}, logTypes(logs))
	assert.Equal(t, "sqlite", logs[1].Content)
}

func TestSubmitUserInputErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.runs.SubmitUserInput(ctx, "missing", "hi")
	require.True(t, IsServiceErrorKind(err, ServiceErrorNotFound))
	assert.Equal(t, "No active run found", err.Error())

	env.registry.CreateRun("pending", func() {}, 0)
	err = env.runs.SubmitUserInput(ctx, "pending", "hi")
	require.True(t, IsServiceErrorKind(err, ServiceErrorInvalid))
	assert.Equal(t, "No query reference available", err.Error())

	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Live", "")
	_, err = env.runs.StartRun(ctx, card.ID, StartRunOptions{})
	require.NoError(t, err)
	session := env.opener.Next(t)
	require.Eventually(t, func() bool {
		_, ok := env.registry.Session(card.ID)
		snapshot, _ := env.registry.Snapshot(card.ID)
		return ok && snapshot.HasSession
	}, eventuallyTimeout, 5*time.Millisecond)

	err = env.runs.SubmitUserInput(ctx, card.ID, "   ")
	require.True(t, IsServiceErrorKind(err, ServiceErrorInvalid))
	assert.Equal(t, "message is required", err.Error())
	assert.Empty(t, session.Inputs())

	session.CloseInput()
	err = env.runs.SubmitUserInput(ctx, card.ID, "after result")
	require.True(t, IsServiceErrorKind(err, ServiceErrorConflict))
	assert.Contains(t, err.Error(), "Agent is no longer accepting input")

	session.Finish(nil)
	env.runs.Wait()
	snapshot, ok := env.registry.Snapshot(card.ID)
	require.True(t, ok)
	assert.False(t, snapshot.HasSession)

	err = env.runs.SubmitUserInput(ctx, card.ID, "too late")
	require.True(t, IsServiceErrorKind(err, ServiceErrorInvalid))
	assert.Equal(t, "No query reference available", err.Error())
}

func TestCancelRunRecordsCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.opener.SetScript(holdScript)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Long task", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)

	result, err := env.runs.CancelRun(card.ID)
	require.NoError(t, err)
	assert.Equal(t, &CancelRunResult{Success: true, Status: types.RunStatusError}, result)

	again, err := env.runs.CancelRun(card.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusError, again.Status)
	env.runs.Wait()

	status := env.runs.RunStatus(card.ID)
	assert.Equal(t, types.RunStatusError, status.Status)
	assert.Equal(t, "Cancelled by user", status.Error)

	logs := env.logs(t, card.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, types.LogTypeError, logs[0].Type)
	assert.Equal(t, "Cancelled by user", logs[0].Content)
	assert.Equal(t, "Agent run failed: Cancelled by user", logs[1].Content)
	assert.Equal(t, types.ColumnManualReview, env.getCard(t, card.ID).ColumnID)

	_, err = env.runs.CancelRun("missing")
	assert.True(t, IsServiceErrorKind(err, ServiceErrorNotFound))
}

func TestCardIsFiledBeforeTerminalStatus(t *testing.T) {
	for _, tc := range []struct {
		name   string
		finish error
		status types.RunStatus
	}{
		{name: "completed", status: types.RunStatusCompleted},
		{name: "failed", finish: testutil.ErrScripted, status: types.RunStatusError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			project := env.project(t, "shop")
			card := env.card(t, project.ID, "Ordered", "")

			columns := make(chan types.ColumnID, 1)
			defer env.registry.OnStatusChange(card.ID, func(event types.RunStatusEvent) {
				if event.Status.Terminal() {
					stored, _, _ := env.stores.Cards.Get(context.Background(), card.ID)
					columns <- stored.ColumnID
				}
			})()

			_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
			require.NoError(t, err)
			env.opener.Next(t).Finish(tc.finish)
			env.runs.Wait()

			assert.Equal(t, types.ColumnManualReview, <-columns)
			assert.Equal(t, tc.status, env.runs.RunStatus(card.ID).Status)
		})
	}
}

func TestAgentFailureIsLogged(t *testing.T) {
	env := newTestEnv(t)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Broken", "")
	env.opener.FailOpen(errors.New("claude: command not found"))

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	env.runs.Wait()

	status := env.runs.RunStatus(card.ID)
	assert.Equal(t, types.RunStatusError, status.Status)
	assert.Equal(t, "claude: command not found", status.Error)
	logs := env.logs(t, card.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, "Agent run failed: claude: command not found", logs[1].Content)
}

func TestRunStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	status := env.runs.RunStatus("missing")
	assert.Equal(t, types.RunStatusNotFound, status.Status)
	assert.Zero(t, status.MessageCount)
	assert.NotNil(t, status.Messages)
}

func TestReconcileStaleRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project := env.project(t, "shop")
	stale := env.card(t, project.ID, "Stale", "")
	_, err := env.stores.Cards.Update(ctx, stale.ID, types.ColumnPatch(types.ColumnInProgress))
	require.NoError(t, err)
	_, err = env.stores.CardLogs.CreateLog(ctx, &types.CardLog{CardID: stale.ID, Type: types.LogTypeAssistantText, Content: "half way", Sequence: 1})
	require.NoError(t, err)
	untouched := env.card(t, project.ID, "Todo", "")

	moved, err := env.runs.ReconcileStaleRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	assert.Equal(t, types.ColumnManualReview, env.getCard(t, stale.ID).ColumnID)
	assert.Equal(t, types.ColumnTodo, env.getCard(t, untouched.ID).ColumnID)
	logs := env.logs(t, stale.ID)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(2), logs[1].Sequence)
	assert.Equal(t, interruptedRunMessage, logs[1].Content)
}
