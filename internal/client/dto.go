package client

import "autoboard/internal/types"

type HealthResponse struct {
	OK          bool   `json:"ok"`
	Version     string `json:"version"`
	PID         int    `json:"pid"`
	RunningRuns int    `json:"runningRuns"`
}

type ProjectsResponse struct {
	Projects []*types.Project `json:"projects"`
}

type CardsResponse struct {
	Cards []*types.Card `json:"cards"`
}

type CardLogsResponse struct {
	Logs []*types.CardLog `json:"logs"`
}

type CreateProjectRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type CreateCardRequest struct {
	ProjectID   string         `json:"projectId"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	ColumnID    types.ColumnID `json:"columnId,omitempty"`
}

type MoveCardRequest struct {
	ColumnID types.ColumnID `json:"columnId"`
	Position *int           `json:"position,omitempty"`
}

type MoveCardResponse struct {
	Card     *types.Card     `json:"card"`
	Run      *StartRunResult `json:"run,omitempty"`
	RunError string          `json:"runError,omitempty"`
}

type StartRunRequest struct {
	Prompt *string `json:"prompt,omitempty"`
	Model  string  `json:"model,omitempty"`
}

type StartRunResult struct {
	Success     bool   `json:"success"`
	CardID      string `json:"cardId"`
	Status      string `json:"status"`
	ProjectPath string `json:"projectPath"`
	Prompt      string `json:"prompt"`
}

type CancelRunResult struct {
	Success bool            `json:"success"`
	Status  types.RunStatus `json:"status"`
}

type RunStatusResponse struct {
	Status       types.RunStatus `json:"status"`
	MessageCount int             `json:"messageCount"`
	Error        string          `json:"error,omitempty"`
	NeedsInput   bool            `json:"needsInput"`
}

type SubmitInputRequest struct {
	Message string `json:"message"`
}

type UpdateAutoModeRequest struct {
	Enabled        bool `json:"enabled"`
	MaxConcurrency *int `json:"maxConcurrency,omitempty"`
}

type AutoModeResponse struct {
	Settings *types.AutoModeSettings `json:"settings"`
	Status   types.AutoModeStatus    `json:"status"`
}

type AutoModeLoopsResponse struct {
	Loops []types.AutoModeStatus `json:"loops"`
}
