package daemon

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

// SocketFrame is the envelope of every websocket message sent to clients.
type SocketFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SocketCommand is a client message. Only "input" is understood.
type SocketCommand struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// cardSocket mirrors streamCard over a websocket and accepts user input on
// the same connection.
func (a *API) cardSocket(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	stream, replay, err := a.openCardStream(r.Context(), id, parseAfter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer stream.Close()
	server := websocket.Server{
		Handler: func(conn *websocket.Conn) {
			a.serveCardSocket(conn, stream, replay)
		},
	}
	server.ServeHTTP(w, r)
}

func (a *API) serveCardSocket(conn *websocket.Conn, stream *cardStream, replay []*types.CardLog) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	logger := a.logger().With(logging.F("card_id", stream.cardID))

	go a.readSocketCommands(ctx, cancel, conn, stream.cardID, logger)

	send := func(event string, data any) bool {
		if err := websocket.JSON.Send(conn, SocketFrame{Event: event, Data: data}); err != nil {
			logger.Debug("card_socket_send_failed", logging.Err(err))
			return false
		}
		return true
	}

	if stream.hasRun {
		if !send(string(types.RunEventStatus), types.RunStatusEvent{
			CardID: stream.cardID,
			Status: stream.snapshot.Status,
			Error:  stream.snapshot.Error,
		}) {
			return
		}
		if stream.snapshot.NeedsInput && !send(string(types.RunEventNeedsInput), types.RunNeedsInputEvent{
			CardID:     stream.cardID,
			NeedsInput: true,
		}) {
			return
		}
	}
	for _, record := range replay {
		if stream.accept(record.Sequence) && !send(string(types.RunEventLog), types.LogEventFromRecord(record)) {
			return
		}
	}
	if stream.finishedAtOpen() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.queue.ready():
			for _, event := range stream.queue.drain() {
				if event.Kind == types.RunEventLog && (event.Log == nil || !stream.accept(event.Log.Sequence)) {
					continue
				}
				if !send(string(event.Kind), event.Payload()) {
					return
				}
				if event.Kind == types.RunEventStatus && event.Status != nil && event.Status.Status.Terminal() {
					for _, record := range stream.catchUp(ctx) {
						if stream.accept(record.Sequence) {
							send(string(types.RunEventLog), types.LogEventFromRecord(record))
						}
					}
					return
				}
			}
		}
	}
}

func (a *API) readSocketCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, cardID string, logger logging.Logger) {
	defer cancel()
	for {
		var cmd SocketCommand
		if err := websocket.JSON.Receive(conn, &cmd); err != nil {
			return
		}
		if strings.TrimSpace(cmd.Type) != "input" {
			_ = websocket.JSON.Send(conn, SocketFrame{Event: "error", Data: map[string]string{"error": "unknown command: " + cmd.Type}})
			continue
		}
		if err := a.Runs.SubmitUserInput(ctx, cardID, cmd.Message); err != nil {
			logger.Debug("card_socket_input_failed", logging.Err(err))
			_ = websocket.JSON.Send(conn, SocketFrame{Event: "error", Data: map[string]string{"error": serviceErrorMessage(err)}})
		}
	}
}
