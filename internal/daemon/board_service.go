package daemon

import (
	"context"
	"errors"
	"strings"

	"autoboard/internal/projectpaths"
	"autoboard/internal/types"
)

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

// BoardService manages projects and cards. Deletes are refused while an
// affected card has a running agent.
type BoardService struct {
	projects ProjectStore
	cards    CardStore
	logs     CardLogStore
	runs     *CardRunService
	autoMode *AutoModeService
}

func NewBoardService(stores *Stores, runs *CardRunService, autoMode *AutoModeService) *BoardService {
	s := &BoardService{runs: runs, autoMode: autoMode}
	if stores != nil {
		s.projects = stores.Projects
		s.cards = stores.Cards
		s.logs = stores.CardLogs
	}
	return s
}

func (s *BoardService) ListProjects(ctx context.Context) ([]*types.Project, error) {
	if s.projects == nil {
		return nil, unavailableError("project store not available", nil)
	}
	return s.projects.List(ctx)
}

func (s *BoardService) GetProject(ctx context.Context, id string) (*types.Project, error) {
	if s.projects == nil {
		return nil, unavailableError("project store not available", nil)
	}
	project, ok, err := s.projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("Project not found", nil)
	}
	return project, nil
}

func (s *BoardService) CreateProject(ctx context.Context, req CreateProjectRequest) (*types.Project, error) {
	if s.projects == nil {
		return nil, unavailableError("project store not available", nil)
	}
	path, err := resolveProjectPath(req.Path)
	if err != nil {
		return nil, err
	}
	project, err := s.projects.Create(ctx, &types.Project{
		Name: strings.TrimSpace(req.Name),
		Path: path,
	})
	if err != nil {
		return nil, storeError(err, "Project not found")
	}
	return project, nil
}

func (s *BoardService) UpdateProject(ctx context.Context, id string, patch types.ProjectPatch) (*types.Project, error) {
	if s.projects == nil {
		return nil, unavailableError("project store not available", nil)
	}
	if patch.Path != nil {
		path, err := resolveProjectPath(*patch.Path)
		if err != nil {
			return nil, err
		}
		patch.Path = &path
	}
	project, err := s.projects.Update(ctx, id, patch)
	if err != nil {
		return nil, storeError(err, "Project not found")
	}
	return project, nil
}

// DeleteProject stops auto mode for the project and removes it with its
// cards and their logs.
func (s *BoardService) DeleteProject(ctx context.Context, id string) error {
	if s.projects == nil || s.cards == nil {
		return unavailableError("project store not available", nil)
	}
	if _, err := s.GetProject(ctx, id); err != nil {
		return err
	}
	cards, err := s.cards.List(ctx, CardFilter{ProjectID: id, IncludeArchived: true})
	if err != nil {
		return err
	}
	for _, card := range cards {
		if s.runs != nil && s.runs.IsRunning(card.ID) {
			return conflictError("Project has cards with an active run", nil)
		}
	}
	if s.autoMode != nil {
		s.autoMode.StopLoop(id)
	}
	return storeError(s.projects.Delete(ctx, id), "Project not found")
}

func (s *BoardService) ListCards(ctx context.Context, filter CardFilter) ([]*types.Card, error) {
	if s.cards == nil {
		return nil, unavailableError("card store not available", nil)
	}
	if filter.Column != "" {
		if _, ok := types.ParseColumnID(string(filter.Column)); !ok {
			return nil, invalidError("unknown column: "+string(filter.Column), nil)
		}
	}
	if filter.ProjectID != "" {
		if _, err := s.GetProject(ctx, filter.ProjectID); err != nil {
			return nil, err
		}
	}
	return s.cards.List(ctx, filter)
}

func (s *BoardService) GetCard(ctx context.Context, id string) (*types.Card, error) {
	if s.cards == nil {
		return nil, unavailableError("card store not available", nil)
	}
	card, ok, err := s.cards.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("Card not found", nil)
	}
	return card, nil
}

func (s *BoardService) CreateCard(ctx context.Context, req CreateCardRequest) (*types.Card, error) {
	if s.cards == nil {
		return nil, unavailableError("card store not available", nil)
	}
	projectID := strings.TrimSpace(req.ProjectID)
	if projectID != "" {
		if _, err := s.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
	}
	card, err := s.cards.Create(ctx, &types.Card{
		ProjectID:   projectID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		ColumnID:    req.ColumnID,
	})
	if err != nil {
		return nil, storeError(err, "Project not found")
	}
	return card, nil
}

func (s *BoardService) UpdateCard(ctx context.Context, id string, patch types.CardPatch) (*types.Card, error) {
	if s.cards == nil {
		return nil, unavailableError("card store not available", nil)
	}
	if patch.ColumnID != nil {
		if _, ok := types.ParseColumnID(string(*patch.ColumnID)); !ok {
			return nil, invalidError("unknown column: "+string(*patch.ColumnID), nil)
		}
	}
	card, err := s.cards.Update(ctx, id, patch)
	if err != nil {
		return nil, storeError(err, "Card not found")
	}
	return card, nil
}

func (s *BoardService) MoveCard(ctx context.Context, id string, req MoveCardRequest) (*types.Card, error) {
	column, ok := types.ParseColumnID(string(req.ColumnID))
	if !ok {
		return nil, invalidError("unknown column: "+string(req.ColumnID), nil)
	}
	patch := types.ColumnPatch(column)
	patch.Position = req.Position
	return s.UpdateCard(ctx, id, patch)
}

func (s *BoardService) DeleteCard(ctx context.Context, id string) error {
	if s.cards == nil {
		return unavailableError("card store not available", nil)
	}
	if s.runs != nil && s.runs.IsRunning(id) {
		return conflictError("Card has an active run", nil)
	}
	if err := s.cards.Delete(ctx, id); err != nil {
		return storeError(err, "Card not found")
	}
	if s.runs != nil && s.runs.Registry() != nil {
		s.runs.Registry().RemoveRun(id)
	}
	return nil
}

func (s *BoardService) CardLogs(ctx context.Context, cardID string, after int64) ([]*types.CardLog, error) {
	if s.logs == nil {
		return nil, unavailableError("log store not available", nil)
	}
	if _, err := s.GetCard(ctx, cardID); err != nil {
		return nil, err
	}
	if after < 0 {
		after = 0
	}
	return s.logs.ListAfterSequence(ctx, cardID, after)
}

func resolveProjectPath(raw string) (string, error) {
	path, err := projectpaths.Normalize(raw)
	if err != nil {
		if errors.Is(err, projectpaths.ErrPathRequired) {
			return "", invalidError("project path is required", err)
		}
		return "", invalidError("invalid project path: "+strings.TrimSpace(raw), err)
	}
	if err := projectpaths.ValidateDirectory(path, projectpaths.OSDirChecker()); err != nil {
		if errors.Is(err, projectpaths.ErrNotDirectory) {
			return "", invalidError("project path is not a directory: "+path, err)
		}
		return "", invalidError("project path does not exist: "+path, err)
	}
	return path, nil
}
