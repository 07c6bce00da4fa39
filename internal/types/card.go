package types

import (
	"strings"
	"time"
)

type ColumnID string

const (
	ColumnTodo         ColumnID = "todo"
	ColumnInProgress   ColumnID = "in-progress"
	ColumnManualReview ColumnID = "manual-review"
	ColumnDone         ColumnID = "done"
)

var Columns = []ColumnID{ColumnTodo, ColumnInProgress, ColumnManualReview, ColumnDone}

func ParseColumnID(raw string) (ColumnID, bool) {
	value := ColumnID(strings.ToLower(strings.TrimSpace(raw)))
	for _, column := range Columns {
		if column == value {
			return column, true
		}
	}
	return "", false
}

type Card struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ColumnID    ColumnID   `json:"columnId"`
	Position    int        `json:"position"`
	SessionID   string     `json:"sessionId,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// CardPatch carries the fields an update touches. Nil means unchanged.
type CardPatch struct {
	ProjectID   *string    `json:"projectId,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	ColumnID    *ColumnID  `json:"columnId,omitempty"`
	Position    *int       `json:"position,omitempty"`
	SessionID   *string    `json:"sessionId,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}

func (p CardPatch) Apply(card *Card) {
	if card == nil {
		return
	}
	if p.ProjectID != nil {
		card.ProjectID = strings.TrimSpace(*p.ProjectID)
	}
	if p.Title != nil {
		card.Title = *p.Title
	}
	if p.Description != nil {
		card.Description = *p.Description
	}
	if p.ColumnID != nil {
		card.ColumnID = *p.ColumnID
	}
	if p.Position != nil {
		card.Position = *p.Position
	}
	if p.SessionID != nil {
		card.SessionID = strings.TrimSpace(*p.SessionID)
	}
	if p.ArchivedAt != nil {
		archived := p.ArchivedAt.UTC()
		card.ArchivedAt = &archived
	}
}

func ColumnPatch(column ColumnID) CardPatch {
	return CardPatch{ColumnID: &column}
}
