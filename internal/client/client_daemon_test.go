package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"autoboard/internal/daemon"
	"autoboard/internal/store"
	"autoboard/internal/testutil"
	"autoboard/internal/types"
)

func newDaemonServer(t *testing.T) (*Client, *testutil.FakeOpener) {
	t.Helper()
	repo, err := store.OpenRepository(store.RepositoryBackendSQLite, filepath.Join(t.TempDir(), "autoboard.db"))
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	opener := testutil.NewFakeOpener()
	d := daemon.New(daemon.Options{
		Version:      "test",
		Stores:       daemon.StoresFromRepository(repo),
		Opener:       opener,
		TickInterval: time.Hour,
	})
	server := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		server.Close()
		d.AutoMode().Close()
		d.Runs().Shutdown("test finished")
	})
	return New(server.URL), opener
}

func TestClientDrivesCardRunAgainstDaemon(t *testing.T) {
	c, opener := newDaemonServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil || !health.OK || health.Version != "test" {
		t.Fatalf("unexpected health %+v err=%v", health, err)
	}
	project, err := c.CreateProject(ctx, CreateProjectRequest{Name: "shop", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	card, err := c.CreateCard(ctx, CreateCardRequest{ProjectID: project.ID, Title: "Add cart"})
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}

	moved, err := c.MoveCard(ctx, card.ID, MoveCardRequest{ColumnID: types.ColumnInProgress})
	if err != nil {
		t.Fatalf("MoveCard: %v", err)
	}
	if moved.Run == nil || !moved.Run.Success || moved.Run.Prompt != "Add cart" {
		t.Fatalf("expected run to start: %+v", moved)
	}
	session := opener.Next(t)

	events, stop, err := c.FollowCard(ctx, card.ID, 0)
	if err != nil {
		t.Fatalf("FollowCard: %v", err)
	}
	defer stop()
	first := <-events
	if first.Kind != types.RunEventStatus || first.Status.Status != types.RunStatusRunning {
		t.Fatalf("expected running status first, got %+v", first)
	}

	session.Send(testutil.Text("working on it"))
	session.Send(testutil.Result("done"))
	session.Finish(nil)

	var logs []*types.RunLogEvent
	var final *types.RunStatusEvent
	for event := range events {
		switch event.Kind {
		case types.RunEventLog:
			logs = append(logs, event.Log)
		case types.RunEventStatus:
			final = event.Status
		}
	}
	if final == nil || final.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed status, got %+v", final)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}
	for i, log := range logs {
		if log.Sequence != int64(i+1) {
			t.Fatalf("log %d has sequence %d", i, log.Sequence)
		}
	}
	if logs[2].Type != types.LogTypeSystem {
		t.Fatalf("expected completion log last, got %s", logs[2].Type)
	}

	stored, err := c.CardLogs(ctx, card.ID, 1)
	if err != nil {
		t.Fatalf("CardLogs: %v", err)
	}
	if len(stored) != 2 || stored[0].Sequence != 2 {
		t.Fatalf("unexpected stored logs: %+v", stored)
	}
	got, err := c.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if got.ColumnID != types.ColumnManualReview {
		t.Fatalf("expected manual review, got %s", got.ColumnID)
	}
}

func TestClientReportsMissingCard(t *testing.T) {
	c, _ := newDaemonServer(t)

	_, err := c.GetCard(context.Background(), "missing")
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404, got %v", err)
	}
	status, err := c.RunStatus(context.Background(), "missing")
	if err != nil {
		t.Fatalf("RunStatus: %v", err)
	}
	if status.Status != types.RunStatusNotFound {
		t.Fatalf("expected not_found, got %s", status.Status)
	}
}
