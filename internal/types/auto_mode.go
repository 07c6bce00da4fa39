package types

import "time"

const (
	MinAutoModeConcurrency = 1
	MaxAutoModeConcurrency = 10
)

type AutoModeSettings struct {
	ProjectID      string    `json:"projectId"`
	Enabled        bool      `json:"enabled"`
	MaxConcurrency int       `json:"maxConcurrency"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type AutoModeStatus struct {
	ProjectID      string   `json:"projectId,omitempty"`
	LoopRunning    bool     `json:"loopRunning"`
	ActiveRunCount int      `json:"activeRunCount"`
	ActiveCardIDs  []string `json:"activeCardIds"`
}
