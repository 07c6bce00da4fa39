package daemon

import (
	"bufio"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autoboard/internal/agent"
	"autoboard/internal/store"
	"autoboard/internal/testutil"
	"autoboard/internal/types"
)

const eventuallyTimeout = 5 * time.Second

type testEnv struct {
	repo     store.Repository
	stores   *Stores
	registry *RunRegistry
	runs     *CardRunService
	opener   *testutil.FakeOpener
	autoMode *AutoModeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := store.OpenRepository(store.RepositoryBackendSQLite, filepath.Join(t.TempDir(), "autoboard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	stores := StoresFromRepository(repo)
	registry := NewRunRegistry(stores.CardLogs)
	opener := testutil.NewFakeOpener()
	runs := NewCardRunService(stores, registry, opener, WithDefaultModel("sonnet"))
	autoMode := NewAutoModeService(stores, runs, WithAutoModeInterval(time.Hour))
	t.Cleanup(func() {
		autoMode.Close()
		runs.Shutdown("test finished")
	})
	return &testEnv{
		repo:     repo,
		stores:   stores,
		registry: registry,
		runs:     runs,
		opener:   opener,
		autoMode: autoMode,
	}
}

func (e *testEnv) project(t *testing.T, name string) *types.Project {
	t.Helper()
	project, err := e.stores.Projects.Create(context.Background(), &types.Project{Name: name, Path: t.TempDir()})
	require.NoError(t, err)
	return project
}

func (e *testEnv) card(t *testing.T, projectID, title, description string) *types.Card {
	t.Helper()
	card, err := e.stores.Cards.Create(context.Background(), &types.Card{
		ProjectID:   projectID,
		Title:       title,
		Description: description,
	})
	require.NoError(t, err)
	return card
}

func (e *testEnv) getCard(t *testing.T, id string) *types.Card {
	t.Helper()
	card, ok, err := e.stores.Cards.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return card
}

func (e *testEnv) logs(t *testing.T, cardID string) []*types.CardLog {
	t.Helper()
	logs, err := e.stores.CardLogs.ListByCard(context.Background(), cardID)
	require.NoError(t, err)
	return logs
}

func (e *testEnv) waitStatus(t *testing.T, cardID string, status types.RunStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.runs.RunStatus(cardID).Status == status
	}, eventuallyTimeout, 5*time.Millisecond, "card %s never reached %s", cardID, status)
}

func (e *testEnv) waitLogCount(t *testing.T, cardID string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		logs, err := e.stores.CardLogs.ListByCard(context.Background(), cardID)
		return err == nil && len(logs) >= count
	}, eventuallyTimeout, 5*time.Millisecond)
}

// holdScript keeps every session open until its run is cancelled.
func holdScript(agent.OpenRequest) testutil.Script {
	return testutil.Script{Hold: true}
}

func logTypes(logs []*types.CardLog) []types.LogType {
	out := make([]types.LogType, 0, len(logs))
	for _, record := range logs {
		out = append(out, record.Type)
	}
	return out
}

type sseFrame struct {
	ID    string
	Event string
	Data  string
}

// readSSE parses frames from r until it ends.
func readSSE(r io.Reader, frames chan<- sseFrame) {
	defer close(frames)
	scanner := bufio.NewScanner(r)
	var frame sseFrame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if frame.Event != "" || frame.Data != "" {
				frames <- frame
			}
			frame = sseFrame{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			frame.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			frame.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}
