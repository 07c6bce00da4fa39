package daemon

import (
	"net/http"

	"autoboard/internal/types"
)

func (a *API) Projects(w http.ResponseWriter, r *http.Request) {
	service := a.board()

	switch r.Method {
	case http.MethodGet:
		projects, err := service.ListProjects(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	case http.MethodPost:
		var req CreateProjectRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		project, err := service.CreateProject(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) ProjectByID(w http.ResponseWriter, r *http.Request) {
	service := a.board()
	parts := splitPath(r, "/v1/projects/")
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			project, err := service.GetProject(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, project)
		case http.MethodPatch:
			var patch types.ProjectPatch
			if err := decodeJSONBody(r, &patch); err != nil {
				writeServiceError(w, err)
				return
			}
			project, err := service.UpdateProject(r.Context(), id, patch)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, project)
		case http.MethodDelete:
			if err := service.DeleteProject(r.Context(), id); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "cards":
			a.projectCards(w, r, id)
			return
		case "auto-mode":
			a.projectAutoMode(w, r, id)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (a *API) projectCards(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	filter := CardFilter{
		ProjectID:       projectID,
		Column:          types.ColumnID(r.URL.Query().Get("column")),
		IncludeArchived: isTruthy(r.URL.Query().Get("archived")),
	}
	cards, err := a.board().ListCards(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}
