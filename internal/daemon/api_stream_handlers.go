package daemon

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

// streamCard serves a card's run as server-sent events: the current status,
// persisted logs after the cursor, then live events until the run ends or
// the client leaves.
func (a *API) streamCard(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()
	stream, replay, err := a.openCardStream(ctx, id, parseAfter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := a.logger()
	reqID := logging.NewRequestID()
	var count int
	reason := "unknown"
	if logger.Enabled(logging.Debug) {
		logger.Debug("card_stream_open",
			logging.F("req_id", reqID),
			logging.F("card_id", id),
			logging.F("after", stream.lastSeq),
			logging.F("replay", len(replay)),
		)
		defer func() {
			logger.Debug("card_stream_close",
				logging.F("req_id", reqID),
				logging.F("card_id", id),
				logging.F("count", count),
				logging.F("reason", reason),
			)
		}()
	}

	if stream.hasRun {
		writeSSEStatus(w, stream.snapshot)
	}
	for _, record := range replay {
		if stream.accept(record.Sequence) {
			writeSSELog(w, types.LogEventFromRecord(record))
			count++
		}
	}
	flusher.Flush()
	if stream.finishedAtOpen() {
		reason = "run_finished"
		return
	}

	keepAlive := time.NewTicker(a.keepAlive())
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			reason = "ctx_done"
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case <-stream.queue.ready():
			for _, event := range stream.queue.drain() {
				switch event.Kind {
				case types.RunEventLog:
					if event.Log == nil || !stream.accept(event.Log.Sequence) {
						continue
					}
					writeSSELog(w, *event.Log)
					count++
				case types.RunEventStatus:
					if event.Status == nil {
						continue
					}
					writeSSEEvent(w, string(types.RunEventStatus), "", event.Status)
					if event.Status.Status.Terminal() {
						for _, record := range stream.catchUp(ctx) {
							if stream.accept(record.Sequence) {
								writeSSELog(w, types.LogEventFromRecord(record))
								count++
							}
						}
						flusher.Flush()
						reason = "run_finished"
						return
					}
				case types.RunEventNeedsInput:
					if event.NeedsInput != nil {
						writeSSEEvent(w, string(types.RunEventNeedsInput), "", event.NeedsInput)
					}
				}
			}
			flusher.Flush()
		}
	}
}

func writeSSEStatus(w http.ResponseWriter, snapshot RunSnapshot) {
	writeSSEEvent(w, string(types.RunEventStatus), "", types.RunStatusEvent{
		CardID: snapshot.CardID,
		Status: snapshot.Status,
		Error:  snapshot.Error,
	})
	if snapshot.NeedsInput {
		writeSSEEvent(w, string(types.RunEventNeedsInput), "", types.RunNeedsInputEvent{
			CardID:     snapshot.CardID,
			NeedsInput: true,
		})
	}
}

func writeSSELog(w http.ResponseWriter, event types.RunLogEvent) {
	writeSSEEvent(w, string(types.RunEventLog), strconv.FormatInt(event.Sequence, 10), event)
}

func writeSSEEvent(w http.ResponseWriter, name, id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if id != "" {
		_, _ = w.Write([]byte("id: " + id + "\n"))
	}
	_, _ = w.Write([]byte("event: " + name + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}
