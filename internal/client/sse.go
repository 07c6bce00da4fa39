package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

const streamMaxLineBytes = 1024 * 1024

// FollowCard streams the run events of a card. Logs with a sequence at or
// below after are not replayed. The channel closes when the daemon ends the
// stream or stop is called.
func (c *Client) FollowCard(ctx context.Context, cardID string, after int64) (<-chan types.RunEvent, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	target := c.baseURL + cardPath(cardID) + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if after > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(after, 10))
	}

	logger := c.logger.With(logging.F("card_id", cardID))
	logger.Debug("card_stream_open", logging.F("after", after))
	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		logger.Debug("card_stream_error", logging.F("status", resp.StatusCode))
		return nil, nil, decodeAPIError(resp)
	}

	ch := make(chan types.RunEvent, 256)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		start := time.Now()
		count := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), streamMaxLineBytes)
		var name string
		var dataLines []string

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if len(dataLines) == 0 {
					name = ""
					continue
				}
				event, ok := decodeStreamEvent(cardID, name, strings.Join(dataLines, "\n"))
				name = ""
				dataLines = dataLines[:0]
				if !ok {
					continue
				}
				select {
				case ch <- event:
					count++
				case <-ctx.Done():
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(line[len("event:"):])
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimSpace(line[len("data:"):]))
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Debug("card_stream_scan_error", logging.Err(err))
		}
		logger.Debug("card_stream_close", logging.F("count", count), logging.F("duration", time.Since(start).String()))
	}()

	return ch, cancel, nil
}

func decodeStreamEvent(cardID, name, payload string) (types.RunEvent, bool) {
	event := types.RunEvent{Kind: types.RunEventKind(name), CardID: cardID}
	var err error
	switch event.Kind {
	case types.RunEventStatus:
		event.Status = &types.RunStatusEvent{}
		err = json.Unmarshal([]byte(payload), event.Status)
	case types.RunEventLog:
		event.Log = &types.RunLogEvent{}
		err = json.Unmarshal([]byte(payload), event.Log)
	case types.RunEventNeedsInput:
		event.NeedsInput = &types.RunNeedsInputEvent{}
		err = json.Unmarshal([]byte(payload), event.NeedsInput)
	default:
		return types.RunEvent{}, false
	}
	return event, err == nil
}
