package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"autoboard/internal/testutil"
	"autoboard/internal/types"
)

// collectStream reads a card stream until the server closes it.
func collectStream(t *testing.T, url string, header http.Header) []sseFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventuallyTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan sseFrame, 64)
	go readSSE(resp.Body, frames)
	var out []sseFrame
	for frame := range frames {
		out = append(out, frame)
	}
	return out
}

func logSequences(t *testing.T, frames []sseFrame) []int64 {
	t.Helper()
	var out []int64
	for _, frame := range frames {
		if frame.Event != "log" {
			continue
		}
		var event types.RunLogEvent
		require.NoError(t, json.Unmarshal([]byte(frame.Data), &event))
		assert.Equal(t, strconv.FormatInt(event.Sequence, 10), frame.ID)
		out = append(out, event.Sequence)
	}
	return out
}

func TestStreamReplaysThenFollowsForConcurrentSubscribers(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(t, env)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Stream me", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	session := env.opener.Next(t)
	session.Send(testutil.Text("first"))
	session.Send(testutil.Text("second"))
	env.waitLogCount(t, card.ID, 2)

	url := server.URL + "/v1/cards/" + card.ID + "/stream"
	results := make([][]sseFrame, 3)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = collectStream(t, url, nil)
		}(i)
	}
	require.Eventually(t, func() bool { return env.registry.hub.listenerCount(card.ID) == len(results) }, eventuallyTimeout, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		session.Send(testutil.Text("live " + strconv.Itoa(i)))
	}
	session.Send(testutil.ToolUse("AskUserQuestion", `{"questions":[]}`))
	session.Finish(nil)
	wg.Wait()

	expected := make([]int64, 0, 24)
	for seq := int64(1); seq <= 24; seq++ {
		expected = append(expected, seq)
	}
	for _, frames := range results {
		require.NotEmpty(t, frames)
		assert.Equal(t, "status", frames[0].Event)
		assert.Equal(t, expected, logSequences(t, frames))
		last := frames[len(frames)-1]
		assert.Equal(t, "status", last.Event)
		assert.Contains(t, last.Data, `"completed"`)
		var sawNeedsInput bool
		for _, frame := range frames {
			sawNeedsInput = sawNeedsInput || frame.Event == "needsInput"
		}
		assert.True(t, sawNeedsInput)
	}
}

func TestStreamResumesFromLastEventID(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(t, env)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Resume", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	session := env.opener.Next(t)
	for i := 0; i < 4; i++ {
		session.Send(testutil.Text("line"))
	}
	session.Finish(nil)
	env.runs.Wait()

	url := server.URL + "/v1/cards/" + card.ID + "/stream"
	frames := collectStream(t, url, http.Header{"Last-Event-ID": []string{"2"}})
	assert.Equal(t, []int64{3, 4, 5}, logSequences(t, frames))

	frames = collectStream(t, url+"?after=4", nil)
	assert.Equal(t, []int64{5}, logSequences(t, frames))
}

func TestStreamUnknownCard(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(t, env)

	resp, err := http.Get(server.URL + "/v1/cards/missing/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamSendsKeepAlive(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(t, env)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Idle", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/cards/"+card.ID+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), ": keepalive"))
}

func TestCardSocketStreamsAndAcceptsInput(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(t, env)
	project := env.project(t, "shop")
	card := env.card(t, project.ID, "Socket", "")

	_, err := env.runs.StartRun(context.Background(), card.ID, StartRunOptions{})
	require.NoError(t, err)
	session := env.opener.Next(t)
	session.Send(testutil.ToolUse("AskUserQuestion", `{"questions":[{"question":"Proceed?"}]}`))
	require.Eventually(t, func() bool { return env.runs.RunStatus(card.ID).NeedsInput }, eventuallyTimeout, 5*time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/cards/" + card.ID + "/ws"
	conn, err := websocket.Dial(wsURL, "", server.URL)
	require.NoError(t, err)
	defer conn.Close()

	receive := func() SocketFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(eventuallyTimeout)))
		var frame SocketFrame
		require.NoError(t, websocket.JSON.Receive(conn, &frame))
		return frame
	}

	assert.Equal(t, "status", receive().Event)
	assert.Equal(t, "needsInput", receive().Event)
	assert.Equal(t, "log", receive().Event)

	require.NoError(t, websocket.JSON.Send(conn, SocketCommand{Type: "input", Message: "yes"}))
	assert.Equal(t, "yes", session.WaitInput(t))

	events := []string{receive().Event, receive().Event}
	assert.ElementsMatch(t, []string{"needsInput", "log"}, events)

	require.NoError(t, websocket.JSON.Send(conn, SocketCommand{Type: "wave"}))
	frame := receive()
	assert.Equal(t, "error", frame.Event)

	session.Finish(nil)
	var last SocketFrame
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(eventuallyTimeout)))
		var frame SocketFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			break
		}
		last = frame
	}
	assert.Equal(t, "status", last.Event)
}
