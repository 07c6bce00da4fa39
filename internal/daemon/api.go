package daemon

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"autoboard/internal/logging"
	"autoboard/internal/types"
)

type API struct {
	Version   string
	Stores    *Stores
	Runs      *CardRunService
	AutoMode  *AutoModeService
	Logger    logging.Logger
	KeepAlive time.Duration
}

type UpdateAutoModeRequest struct {
	Enabled        bool `json:"enabled"`
	MaxConcurrency *int `json:"maxConcurrency,omitempty"`
}

type SubmitInputRequest struct {
	Message string `json:"message"`
}

type MoveCardResponse struct {
	Card     *types.Card     `json:"card"`
	Run      *StartRunResult `json:"run,omitempty"`
	RunError string          `json:"runError,omitempty"`
}

func (a *API) board() *BoardService {
	return NewBoardService(a.Stores, a.Runs, a.AutoMode)
}

func (a *API) logger() logging.Logger {
	if a.Logger == nil {
		return logging.Nop()
	}
	return a.Logger
}

func (a *API) keepAlive() time.Duration {
	if a.KeepAlive <= 0 {
		return defaultStreamKeepAlive
	}
	return a.KeepAlive
}

// splitPath returns the segments of r.URL.Path below prefix.
func splitPath(r *http.Request, prefix string) []string {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// parseAfter reads the replay cursor from ?after= or the Last-Event-ID
// header. Invalid values replay everything.
func parseAfter(r *http.Request) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get("after"))
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}
