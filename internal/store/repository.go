package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"autoboard/internal/types"
)

const (
	RepositoryBackendSQLite = "sqlite"
	RepositoryBackendBbolt  = "bbolt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateSequence = errors.New("log sequence already exists for card")
)

type Repository interface {
	Projects() ProjectStore
	Cards() CardStore
	CardLogs() CardLogStore
	AutoMode() AutoModeSettingsStore
	Backend() string
	Close() error
}

type ProjectStore interface {
	List(ctx context.Context) ([]*types.Project, error)
	Get(ctx context.Context, id string) (*types.Project, bool, error)
	Create(ctx context.Context, project *types.Project) (*types.Project, error)
	Update(ctx context.Context, id string, patch types.ProjectPatch) (*types.Project, error)
	// Delete removes the project with its cards, their logs and its auto mode settings.
	Delete(ctx context.Context, id string) error
}

// CardFilter narrows List. Empty fields match everything; archived cards are
// skipped unless IncludeArchived is set.
type CardFilter struct {
	ProjectID       string
	Column          types.ColumnID
	IncludeArchived bool
}

type CardStore interface {
	List(ctx context.Context, filter CardFilter) ([]*types.Card, error)
	Get(ctx context.Context, id string) (*types.Card, bool, error)
	Create(ctx context.Context, card *types.Card) (*types.Card, error)
	Update(ctx context.Context, id string, patch types.CardPatch) (*types.Card, error)
	Delete(ctx context.Context, id string) error
}

type CardLogStore interface {
	CreateLog(ctx context.Context, record *types.CardLog) (*types.CardLog, error)
	ListByCard(ctx context.Context, cardID string) ([]*types.CardLog, error)
	ListAfterSequence(ctx context.Context, cardID string, after int64) ([]*types.CardLog, error)
	MaxSequence(ctx context.Context, cardID string) (int64, error)
}

type AutoModeSettingsStore interface {
	Get(ctx context.Context, projectID string) (*types.AutoModeSettings, bool, error)
	Upsert(ctx context.Context, settings *types.AutoModeSettings) (*types.AutoModeSettings, error)
	ListEnabled(ctx context.Context) ([]*types.AutoModeSettings, error)
	Delete(ctx context.Context, projectID string) error
}

func OpenRepository(backend, path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RepositoryBackendSQLite:
		return NewSQLiteRepository(path)
	case RepositoryBackendBbolt:
		return NewBboltRepository(path)
	default:
		return nil, errors.New("unsupported repository backend: " + backend)
	}
}

// ValidationError reports input the store refuses to persist.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}

func newID() string {
	return uuid.NewString()
}

func validateProject(project *types.Project) error {
	if project == nil {
		return invalid("project is required")
	}
	if strings.TrimSpace(project.Name) == "" {
		return invalid("project name is required")
	}
	if strings.TrimSpace(project.Path) == "" {
		return invalid("project path is required")
	}
	return nil
}

func validateCard(card *types.Card) error {
	if card == nil {
		return invalid("card is required")
	}
	if strings.TrimSpace(card.Title) == "" {
		return invalid("card title is required")
	}
	if card.ColumnID == "" {
		card.ColumnID = types.ColumnTodo
	}
	if _, ok := types.ParseColumnID(string(card.ColumnID)); !ok {
		return invalid("unknown column: " + string(card.ColumnID))
	}
	return nil
}

func validateLog(record *types.CardLog) error {
	if record == nil {
		return invalid("log record is required")
	}
	if strings.TrimSpace(record.CardID) == "" {
		return invalid("card id is required")
	}
	if record.Sequence <= 0 {
		return invalid("log sequence must be positive")
	}
	if _, ok := types.ParseLogType(string(record.Type)); !ok {
		return invalid("unknown log type: " + string(record.Type))
	}
	return nil
}

func matchesFilter(card *types.Card, filter CardFilter) bool {
	if card == nil {
		return false
	}
	if filter.ProjectID != "" && card.ProjectID != filter.ProjectID {
		return false
	}
	if filter.Column != "" && card.ColumnID != filter.Column {
		return false
	}
	if !filter.IncludeArchived && card.ArchivedAt != nil {
		return false
	}
	return true
}

func cloneProject(project *types.Project) *types.Project {
	if project == nil {
		return nil
	}
	out := *project
	return &out
}

func cloneCard(card *types.Card) *types.Card {
	if card == nil {
		return nil
	}
	out := *card
	if card.ArchivedAt != nil {
		archived := *card.ArchivedAt
		out.ArchivedAt = &archived
	}
	return &out
}

func cloneSettings(settings *types.AutoModeSettings) *types.AutoModeSettings {
	if settings == nil {
		return nil
	}
	out := *settings
	return &out
}

func validateSettings(settings *types.AutoModeSettings) error {
	if settings == nil {
		return invalid("auto mode settings are required")
	}
	if strings.TrimSpace(settings.ProjectID) == "" {
		return invalid("project id is required")
	}
	if settings.MaxConcurrency < types.MinAutoModeConcurrency || settings.MaxConcurrency > types.MaxAutoModeConcurrency {
		return invalid("maxConcurrency must be between 1 and 10")
	}
	return nil
}
