package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gastown-tools/gtcycle/internal/domain"
	"github.com/gastown-tools/gtcycle/internal/history"
)

type mockStore struct {
	runs     []*domain.Run
	lastOpts history.ListOptions
}

func (m *mockStore) ListRuns(opts history.ListOptions) ([]*domain.Run, error) {
	m.lastOpts = opts
	return m.runs, nil
}

func (m *mockStore) GetRun(id string) (*domain.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, history.ErrNotFound
}

func testRun(id string, landed, finished bool) *domain.Run {
	run := &domain.Run{
		ID:           id,
		WorkloadName: "crypto-tales",
		ReportDir:    "reports/" + id,
		StartedAt:    time.Date(2026, 8, 26, 10, 15, 0, 0, time.UTC),
		Landed:       landed,
		Elapsed:      90 * time.Second,
		Timeout:      time.Hour,
		Errors:       -1,
	}
	if finished {
		t := run.StartedAt.Add(10 * time.Minute)
		run.FinishedAt = &t
	}
	return run
}

func TestListRunsHandler(t *testing.T) {
	store := &mockStore{runs: []*domain.Run{
		testRun("20260826-101500", true, true),
		testRun("20260825-093000", false, true),
	}}

	server := NewServer(store, t.TempDir(), "127.0.0.1:0", zap.NewNop())
	handler := server.listRunsHandler()

	req := httptest.NewRequest("GET", "/api/runs", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200", w.Code)
	}

	var runs []RunResponse
	json.NewDecoder(w.Body).Decode(&runs)

	if len(runs) != 2 {
		t.Fatalf("Run count = %d, want 2", len(runs))
	}
	if runs[0].ID != "20260826-101500" {
		t.Errorf("runs[0].ID = %q, want newest first", runs[0].ID)
	}
	if !runs[0].Landed || runs[0].ElapsedSeconds != 90 {
		t.Errorf("runs[0] = %+v, want landed after 90s", runs[0])
	}
	if runs[0].Phases != nil {
		t.Error("list responses should not include phases")
	}
}

func TestListRunsHandlerQuery(t *testing.T) {
	store := &mockStore{}
	server := NewServer(store, t.TempDir(), "127.0.0.1:0", zap.NewNop())
	handler := server.listRunsHandler()

	req := httptest.NewRequest("GET", "/api/runs?workload=w-1&limit=5", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if store.lastOpts.WorkloadID != "w-1" {
		t.Errorf("WorkloadID = %q, want w-1", store.lastOpts.WorkloadID)
	}
	if store.lastOpts.Limit != 5 {
		t.Errorf("Limit = %d, want 5", store.lastOpts.Limit)
	}

	req = httptest.NewRequest("GET", "/api/runs?limit=many", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status for bad limit = %d, want 400", w.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	store := &mockStore{runs: []*domain.Run{
		testRun("20260826-101500", false, false),
		testRun("20260825-093000", true, true),
		testRun("20260824-093000", false, true),
	}}

	server := NewServer(store, t.TempDir(), "127.0.0.1:0", zap.NewNop())
	handler := server.statusHandler()

	req := httptest.NewRequest("GET", "/api/status", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var status StatusResponse
	json.NewDecoder(w.Body).Decode(&status)

	if status.Total != 3 {
		t.Errorf("Total = %d, want 3", status.Total)
	}
	if status.Landed != 1 || status.TimedOut != 1 || status.Running != 1 {
		t.Errorf("counts = (%d, %d, %d), want (1, 1, 1)",
			status.Landed, status.TimedOut, status.Running)
	}
	if status.LastRunID != "20260826-101500" {
		t.Errorf("LastRunID = %q, want newest run", status.LastRunID)
	}
}

func TestGetRunHandler(t *testing.T) {
	run := testRun("20260826-101500", true, true)
	run.Phases = []domain.PhaseResult{
		{Seq: 1, Name: "Reset OpenTelemetry", Artifact: "01-otel-reset.md", OK: true,
			StartedAt: run.StartedAt, FinishedAt: run.StartedAt.Add(time.Minute)},
		{Seq: 4, Name: "Start Mayor", Artifact: "04-gastown-start.md", OK: false,
			StartedAt: run.StartedAt, FinishedAt: run.StartedAt.Add(2 * time.Minute)},
	}
	store := &mockStore{runs: []*domain.Run{run}}

	server := NewServer(store, t.TempDir(), "127.0.0.1:0", zap.NewNop())
	handler := server.getRunHandler()

	req := httptest.NewRequest("GET", "/api/runs/20260826-101500", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", w.Code)
	}
	var resp RunResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Phases) != 2 {
		t.Fatalf("Phases = %d, want 2", len(resp.Phases))
	}
	if resp.Phases[1].OK {
		t.Error("phase 4 should be reported as failed")
	}
	if resp.FinishedAt == nil || *resp.FinishedAt != "2026-08-26T10:25:00Z" {
		t.Errorf("FinishedAt = %v, want RFC3339 finish time", resp.FinishedAt)
	}

	req = httptest.NewRequest("GET", "/api/runs/20990101-000000", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Status for unknown run = %d, want 404", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/runs/", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Status for empty ID = %d, want 400", w.Code)
	}
}

func TestReportFileServer(t *testing.T) {
	reportsDir := t.TempDir()
	runDir := filepath.Join(reportsDir, "20260826-101500")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatal(err)
	}
	readme := "# Gastown Test Run — 20260826-101500\n"
	if err := os.WriteFile(filepath.Join(runDir, "README.md"), []byte(readme), 0o644); err != nil {
		t.Fatal(err)
	}

	server := NewServer(&mockStore{}, reportsDir, "127.0.0.1:0", zap.NewNop())
	ts := httptest.NewServer(server.mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/20260826-101500/README.md")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}
	buf := make([]byte, len(readme))
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != readme {
		t.Errorf("body = %q, want README contents", got)
	}
}

func TestSSEHandlerStreamsEvents(t *testing.T) {
	server := NewServer(&mockStore{}, t.TempDir(), "127.0.0.1:0", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.hub.run(ctx)

	ts := httptest.NewServer(server.mux)
	defer ts.Close()

	// The subscription only exists once the handler runs, so keep
	// broadcasting until the client sees an event.
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				server.Broadcast(Event{
					Type: "reports_changed",
					Data: []string{"20260826-101500/06-test-results.md"},
				})
			}
		}
	}()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if event == "" && strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	if event != "reports_changed" {
		t.Errorf("event = %q, want reports_changed", event)
	}
	if !strings.Contains(data, "06-test-results.md") {
		t.Errorf("data = %q, want changed artifact path", data)
	}
}
