package types

import "time"

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ProjectPatch struct {
	Name *string `json:"name,omitempty"`
	Path *string `json:"path,omitempty"`
}
