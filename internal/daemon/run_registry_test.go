package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoboard/internal/types"
)

type memoryAppender struct {
	mu      sync.Mutex
	records []*types.CardLog
	failing int
}

func (m *memoryAppender) CreateLog(_ context.Context, record *types.CardLog) (*types.CardLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing > 0 {
		m.failing--
		return nil, errors.New("disk full")
	}
	out := *record
	out.ID = fmt.Sprintf("log-%d", len(m.records)+1)
	m.records = append(m.records, &out)
	return &out, nil
}

func (m *memoryAppender) sequences() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record.Sequence)
	}
	return out
}

func TestEmitLogAssignsIncreasingSequences(t *testing.T) {
	appender := &memoryAppender{}
	registry := NewRunRegistry(appender)
	registry.CreateRun("card-1", func() {}, 5)

	var live []types.RunLogEvent
	unsubscribe := registry.OnLog("card-1", func(event types.RunLogEvent) {
		live = append(live, event)
	})
	defer unsubscribe()

	for _, text := range []string{"a", "b", "c"} {
		_, err := registry.EmitLog(context.Background(), "card-1", types.AssistantText(text))
		require.NoError(t, err)
	}

	assert.Equal(t, []int64{6, 7, 8}, appender.sequences())
	require.Len(t, live, 3)
	assert.Equal(t, int64(6), live[0].Sequence)
	assert.Equal(t, "c", live[2].Content)
	assert.NotEmpty(t, live[0].ID)
	assert.Equal(t, int64(8), registry.Sequence("card-1"))
}

func TestEmitLogWithoutRunIsNoop(t *testing.T) {
	appender := &memoryAppender{}
	registry := NewRunRegistry(appender)

	seq, err := registry.EmitLog(context.Background(), "missing", types.SystemLog("hello"))
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Empty(t, appender.sequences())
}

func TestEmitLogRollsBackWhenPersistFails(t *testing.T) {
	appender := &memoryAppender{failing: 1}
	registry := NewRunRegistry(appender)
	registry.CreateRun("card-1", func() {}, 0)

	published := 0
	defer registry.OnLog("card-1", func(types.RunLogEvent) { published++ })()

	_, err := registry.EmitLog(context.Background(), "card-1", types.AssistantText("lost"))
	require.Error(t, err)
	assert.Zero(t, published)

	seq, err := registry.EmitLog(context.Background(), "card-1", types.AssistantText("kept"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	assert.Equal(t, 1, published)
}

func TestEmitLogConcurrentEmittersDeliverInOrder(t *testing.T) {
	appender := &memoryAppender{}
	registry := NewRunRegistry(appender)
	registry.CreateRun("card-1", func() {}, 0)

	var mu sync.Mutex
	var delivered []int64
	defer registry.OnLog("card-1", func(event types.RunLogEvent) {
		mu.Lock()
		delivered = append(delivered, event.Sequence)
		mu.Unlock()
	})()

	const writers, perWriter = 16, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := registry.EmitLog(context.Background(), "card-1", types.SystemLog("tick"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Len(t, delivered, writers*perWriter)
	assert.True(t, sort.SliceIsSorted(delivered, func(i, j int) bool { return delivered[i] < delivered[j] }))
	for i, seq := range delivered {
		assert.Equal(t, int64(i+1), seq)
	}
	assert.Equal(t, delivered, appender.sequences())
}

func TestCreateRunIfIdleRejectsRunningCard(t *testing.T) {
	registry := NewRunRegistry(nil)

	require.True(t, registry.CreateRunIfIdle("card-1", func() {}, 0))
	require.False(t, registry.CreateRunIfIdle("card-1", func() {}, 0))
	assert.True(t, registry.IsRunning("card-1"))

	registry.UpdateStatus("card-1", types.RunStatusCompleted, "")
	assert.True(t, registry.CreateRunIfIdle("card-1", func() {}, 0))
}

func TestCancelRunIsIdempotent(t *testing.T) {
	registry := NewRunRegistry(nil)
	cancels := 0
	registry.CreateRun("card-1", func() { cancels++ }, 0)

	var statuses []types.RunStatusEvent
	defer registry.OnStatusChange("card-1", func(event types.RunStatusEvent) {
		statuses = append(statuses, event)
	})()

	assert.True(t, registry.CancelRun("card-1"))
	assert.True(t, registry.CancelRun("card-1"))
	registry.UpdateStatus("card-1", types.RunStatusCompleted, "")

	assert.Equal(t, 1, cancels)
	require.Len(t, statuses, 1)
	assert.Equal(t, types.RunStatusError, statuses[0].Status)
	assert.Equal(t, cancelledByUserMessage, statuses[0].Error)

	snapshot, ok := registry.Snapshot("card-1")
	require.True(t, ok)
	assert.Equal(t, types.RunStatusError, snapshot.Status)
	assert.Equal(t, cancelledByUserMessage, snapshot.Error)

	assert.False(t, registry.CancelRun("other"))
}

func TestUpdateStatusIgnoresMissingRun(t *testing.T) {
	registry := NewRunRegistry(nil)
	published := 0
	defer registry.OnStatusChange("ghost", func(types.RunStatusEvent) { published++ })()

	registry.UpdateStatus("ghost", types.RunStatusCompleted, "")
	registry.AddMessage("ghost", testMessage())
	registry.SetNeedsInput("ghost", true)

	assert.Zero(t, published)
	_, ok := registry.Snapshot("ghost")
	assert.False(t, ok)
}

func TestNeedsInputOnlyWhileRunning(t *testing.T) {
	registry := NewRunRegistry(nil)
	registry.CreateRun("card-1", func() {}, 0)

	var events []bool
	defer registry.OnNeedsInput("card-1", func(event types.RunNeedsInputEvent) {
		events = append(events, event.NeedsInput)
	})()

	registry.SetNeedsInput("card-1", true)
	snapshot, _ := registry.Snapshot("card-1")
	assert.True(t, snapshot.NeedsInput)

	registry.UpdateStatus("card-1", types.RunStatusCompleted, "")
	snapshot, _ = registry.Snapshot("card-1")
	assert.False(t, snapshot.NeedsInput)

	registry.SetNeedsInput("card-1", true)
	assert.Equal(t, []bool{true}, events)
}

func TestInputRequestCannotOverwriteAnswer(t *testing.T) {
	registry := NewRunRegistry(&memoryAppender{})
	registry.CreateRun("card-1", func() {}, 0)

	answered := make(chan struct{})
	defer registry.OnLog("card-1", func(event types.RunLogEvent) {
		if event.Type != types.LogTypeAskUser {
			return
		}
		go func() {
			defer close(answered)
			registry.SetNeedsInput("card-1", false)
		}()
	})()
	var events []bool
	var mu sync.Mutex
	defer registry.OnNeedsInput("card-1", func(event types.RunNeedsInputEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event.NeedsInput)
	})()

	seq, err := registry.EmitInputRequest(context.Background(), "card-1", types.AskUser(json.RawMessage(`{"question":"Which db?"}`)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	<-answered

	snapshot, ok := registry.Snapshot("card-1")
	require.True(t, ok)
	assert.False(t, snapshot.NeedsInput)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, events)
}

func TestInputRequestAfterTerminalStatusKeepsFlagDown(t *testing.T) {
	registry := NewRunRegistry(&memoryAppender{})
	registry.CreateRun("card-1", func() {}, 0)
	registry.UpdateStatus("card-1", types.RunStatusError, "boom")

	_, err := registry.EmitInputRequest(context.Background(), "card-1", types.AskUser(json.RawMessage(`{}`)))
	require.NoError(t, err)
	snapshot, _ := registry.Snapshot("card-1")
	assert.False(t, snapshot.NeedsInput)
}

func TestUnsubscribeInsideHandler(t *testing.T) {
	registry := NewRunRegistry(nil)
	registry.CreateRun("card-1", func() {}, 0)

	var first, second int
	var unsubscribeFirst func()
	unsubscribeFirst = registry.OnLog("card-1", func(types.RunLogEvent) {
		first++
		unsubscribeFirst()
	})
	defer registry.OnLog("card-1", func(types.RunLogEvent) { second++ })()

	for i := 0; i < 3; i++ {
		_, err := registry.EmitLog(context.Background(), "card-1", types.SystemLog("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, first)
	assert.Equal(t, 3, second)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	registry := NewRunRegistry(nil)
	registry.CreateRun("card-1", func() {}, 0)

	defer registry.Subscribe("card-1", func(types.RunEvent) { panic("boom") })()
	delivered := 0
	defer registry.Subscribe("card-1", func(types.RunEvent) { delivered++ })()

	_, err := registry.EmitLog(context.Background(), "card-1", types.SystemLog("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestTapSeesEveryCard(t *testing.T) {
	registry := NewRunRegistry(nil)
	var cards []string
	untap := registry.Tap(func(event types.RunEvent) {
		if event.Kind == types.RunEventStatus {
			cards = append(cards, event.CardID)
		}
	})

	registry.CreateRun("a", func() {}, 0)
	registry.CreateRun("b", func() {}, 0)
	untap()
	registry.CreateRun("c", func() {}, 0)

	assert.Equal(t, []string{"a", "b"}, cards)
	assert.Zero(t, registry.hub.listenerCount("a"))
}

func TestCancelAllStopsRunningRuns(t *testing.T) {
	registry := NewRunRegistry(nil)
	registry.CreateRun("a", func() {}, 0)
	registry.CreateRun("b", func() {}, 0)
	registry.UpdateStatus("b", types.RunStatusCompleted, "")

	assert.Equal(t, 1, registry.CancelAll("shutting down"))
	snapshot, _ := registry.Snapshot("a")
	assert.Equal(t, "shutting down", snapshot.Error)
	assert.Empty(t, registry.RunningCardIDs())
}
