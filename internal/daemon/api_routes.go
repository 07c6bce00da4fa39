package daemon

import "net/http"

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", a.Health)
	mux.HandleFunc("/v1/projects", a.Projects)
	mux.HandleFunc("/v1/projects/", a.ProjectByID)
	mux.HandleFunc("/v1/auto-mode", a.AutoModeStatuses)
	mux.HandleFunc("/v1/cards", a.Cards)
	mux.HandleFunc("/v1/cards/", a.CardByID)
}
