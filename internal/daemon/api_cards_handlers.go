package daemon

import (
	"net/http"
	"strings"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

func (a *API) Cards(w http.ResponseWriter, r *http.Request) {
	service := a.board()

	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		cards, err := service.ListCards(r.Context(), CardFilter{
			ProjectID:       strings.TrimSpace(query.Get("project")),
			Column:          types.ColumnID(query.Get("column")),
			IncludeArchived: isTruthy(query.Get("archived")),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
	case http.MethodPost:
		var req CreateCardRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		card, err := service.CreateCard(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, card)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) CardByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r, "/v1/cards/")
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		a.card(w, r, id)
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch parts[1] {
	case "move":
		a.moveCard(w, r, id)
	case "run":
		a.cardRun(w, r, id)
	case "input":
		a.cardInput(w, r, id)
	case "logs":
		a.cardLogs(w, r, id)
	case "stream":
		a.streamCard(w, r, id)
	case "ws":
		a.cardSocket(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (a *API) card(w http.ResponseWriter, r *http.Request, id string) {
	service := a.board()

	switch r.Method {
	case http.MethodGet:
		card, err := service.GetCard(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, card)
	case http.MethodPatch:
		var patch types.CardPatch
		if err := decodeJSONBody(r, &patch); err != nil {
			writeServiceError(w, err)
			return
		}
		card, err := service.UpdateCard(r.Context(), id, patch)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, card)
	case http.MethodDelete:
		if err := service.DeleteCard(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

// moveCard changes the column of a card. Moving into in-progress starts a
// run unless one is already active.
func (a *API) moveCard(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req MoveCardRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	card, err := a.board().MoveCard(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := MoveCardResponse{Card: card}
	if card.ColumnID == types.ColumnInProgress && a.Runs != nil && !a.Runs.IsRunning(card.ID) {
		run, err := a.Runs.StartRun(r.Context(), card.ID, StartRunOptions{})
		if err != nil {
			a.logger().Warn("move_start_run_failed", logging.F("card_id", card.ID), logging.Err(err))
			resp.RunError = serviceErrorMessage(err)
		} else {
			resp.Run = run
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) cardRun(w http.ResponseWriter, r *http.Request, id string) {
	if a.Runs == nil {
		writeServiceError(w, unavailableError("runs not available", nil))
		return
	}

	switch r.Method {
	case http.MethodPost:
		var opts StartRunOptions
		if err := decodeJSONBody(r, &opts); err != nil {
			writeServiceError(w, err)
			return
		}
		result, err := a.Runs.StartRun(r.Context(), id, opts)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.Runs.RunStatus(id))
	case http.MethodDelete:
		result, err := a.Runs.CancelRun(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) cardInput(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if a.Runs == nil {
		writeServiceError(w, unavailableError("runs not available", nil))
		return
	}
	var req SubmitInputRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if err := a.Runs.SubmitUserInput(r.Context(), id, req.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) cardLogs(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	logs, err := a.board().CardLogs(r.Context(), id, parseAfter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
