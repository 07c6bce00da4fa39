package daemon

import (
	"net/http"
	"strings"
)

func (a *API) AutoModeStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.AutoMode == nil {
		writeServiceError(w, unavailableError("auto mode not available", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loops": a.AutoMode.Statuses()})
}

func (a *API) projectAutoMode(w http.ResponseWriter, r *http.Request, projectID string) {
	if a.AutoMode == nil {
		writeServiceError(w, unavailableError("auto mode not available", nil))
		return
	}
	if _, err := a.board().GetProject(r.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := a.AutoMode.Settings(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"settings": settings,
			"status":   a.AutoMode.GetStatus(projectID),
		})
	case http.MethodPut, http.MethodPost:
		var req UpdateAutoModeRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		maxConcurrency := 0
		if req.MaxConcurrency != nil {
			maxConcurrency = *req.MaxConcurrency
		} else {
			current, err := a.AutoMode.Settings(r.Context(), projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			maxConcurrency = current.MaxConcurrency
		}
		settings, err := a.AutoMode.UpdateSettings(r.Context(), projectID, req.Enabled, maxConcurrency)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"settings": settings,
			"status":   a.AutoMode.GetStatus(projectID),
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
