package daemon

import (
	"net/http"
	"os"
)

type HealthResponse struct {
	OK          bool   `json:"ok"`
	Version     string `json:"version,omitempty"`
	PID         int    `json:"pid"`
	RunningRuns int    `json:"runningRuns"`
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	running := 0
	if a.Runs != nil && a.Runs.Registry() != nil {
		running = len(a.Runs.Registry().RunningCardIDs())
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:          true,
		Version:     a.Version,
		PID:         os.Getpid(),
		RunningRuns: running,
	})
}
