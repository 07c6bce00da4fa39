package main

import (
	"context"
	"strings"

	boardclient "autoboard/internal/client"
	"autoboard/internal/types"
)

type clientFactory func(baseURL string) commandClient

type commandClient interface {
	EnsureDaemon(ctx context.Context) error
	Health(ctx context.Context) (*boardclient.HealthResponse, error)

	ListProjects(ctx context.Context) ([]*types.Project, error)
	GetProject(ctx context.Context, id string) (*types.Project, error)
	CreateProject(ctx context.Context, req boardclient.CreateProjectRequest) (*types.Project, error)
	DeleteProject(ctx context.Context, id string) error

	ListCards(ctx context.Context, projectID string, column types.ColumnID, includeArchived bool) ([]*types.Card, error)
	GetCard(ctx context.Context, id string) (*types.Card, error)
	CreateCard(ctx context.Context, req boardclient.CreateCardRequest) (*types.Card, error)
	MoveCard(ctx context.Context, id string, req boardclient.MoveCardRequest) (*boardclient.MoveCardResponse, error)
	DeleteCard(ctx context.Context, id string) error

	StartRun(ctx context.Context, id string, req boardclient.StartRunRequest) (*boardclient.StartRunResult, error)
	RunStatus(ctx context.Context, id string) (*boardclient.RunStatusResponse, error)
	CancelRun(ctx context.Context, id string) (*boardclient.CancelRunResult, error)
	SubmitInput(ctx context.Context, id, message string) error
	CardLogs(ctx context.Context, id string, after int64) ([]*types.CardLog, error)
	FollowCard(ctx context.Context, id string, after int64) (<-chan types.RunEvent, func(), error)

	AutoModeLoops(ctx context.Context) ([]types.AutoModeStatus, error)
	GetAutoMode(ctx context.Context, projectID string) (*boardclient.AutoModeResponse, error)
	UpdateAutoMode(ctx context.Context, projectID string, req boardclient.UpdateAutoModeRequest) (*boardclient.AutoModeResponse, error)
}

func newBoardClient(baseURL string) commandClient {
	return boardclient.New(baseURL)
}

func normalizeBaseURL(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}
