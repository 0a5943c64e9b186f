//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gastown-tools/gtcycle/internal/domain"
	"github.com/gastown-tools/gtcycle/internal/history"
	"github.com/gastown-tools/gtcycle/internal/workload"
	"github.com/gastown-tools/gtcycle/web/api"
)

// TestRunFlow_StoreToAPI drives a run record through the full pipeline:
// workload file -> history store -> HTTP API, the way a finished cycle is
// exposed by serve.
func TestRunFlow_StoreToAPI(t *testing.T) {
	store, err := history.New(TempDBPath(t))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	prompt := WritePrompt(t, "Build the crypto pipeline.\n")
	wl, err := workload.Load(prompt)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	started := time.Date(2026, 8, 26, 10, 15, 0, 0, time.UTC)
	run := &domain.Run{
		ID:           "20260826-101500",
		WorkloadID:   wl.Fingerprint(),
		WorkloadName: wl.Meta.Name,
		PromptFile:   wl.Path,
		ReportDir:    "reports/20260826-101500",
		StartedAt:    started,
		Timeout:      time.Hour,
		Errors:       -1,
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i, spec := range domain.Phases {
		res := domain.PhaseResult{
			Seq:        spec.Seq,
			Name:       spec.Title,
			Artifact:   spec.Artifact,
			OK:         true,
			StartedAt:  started.Add(time.Duration(i) * time.Minute),
			FinishedAt: started.Add(time.Duration(i+1) * time.Minute),
		}
		if err := store.RecordPhase(run.ID, res); err != nil {
			t.Fatalf("RecordPhase %d failed: %v", spec.Seq, err)
		}
	}

	finished := started.Add(10 * time.Minute)
	run.FinishedAt = &finished
	run.Landed = true
	run.Elapsed = 90 * time.Second
	run.SessionStarts = 4
	run.PolecatSpawns = 3
	run.InputTokens = 52000
	run.OutputTokens = 9100
	run.Errors = 0
	if err := store.FinishRun(run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	server := api.NewServer(store, t.TempDir(), "127.0.0.1:0", zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/runs/" + run.ID)
	if err != nil {
		t.Fatalf("GET run failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET run status = %d, want 200", resp.StatusCode)
	}

	var got api.RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.ID != run.ID {
		t.Errorf("ID = %q, want %q", got.ID, run.ID)
	}
	if got.WorkloadID != wl.Fingerprint() {
		t.Errorf("WorkloadID = %q, want fingerprint %q", got.WorkloadID, wl.Fingerprint())
	}
	if !got.Landed {
		t.Error("Landed = false, want true")
	}
	if got.ElapsedSeconds != 90 {
		t.Errorf("ElapsedSeconds = %d, want 90", got.ElapsedSeconds)
	}
	if len(got.Phases) != 8 {
		t.Fatalf("Phase count = %d, want 8", len(got.Phases))
	}
	if got.Phases[0].Artifact != "01-otel-reset.md" {
		t.Errorf("First artifact = %q, want 01-otel-reset.md", got.Phases[0].Artifact)
	}
	if got.Phases[7].Artifact != "08-recommendations.md" {
		t.Errorf("Last artifact = %q, want 08-recommendations.md", got.Phases[7].Artifact)
	}

	resp, err = http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer resp.Body.Close()

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if status.Total != 1 || status.Landed != 1 {
		t.Errorf("Status = %d total / %d landed, want 1/1", status.Total, status.Landed)
	}
	if status.LastRunID != run.ID {
		t.Errorf("LastRunID = %q, want %q", status.LastRunID, run.ID)
	}
}

// TestRunFlow_FingerprintGroupsRuns verifies that prompt-body fingerprints
// tie repeated runs of one workload together even when the file moves.
func TestRunFlow_FingerprintGroupsRuns(t *testing.T) {
	body := "---\nname: crypto-suite\n---\nBuild the crypto pipeline.\n"
	first := WritePrompt(t, body)
	second := filepath.Join(t.TempDir(), "moved.md")
	if err := os.WriteFile(second, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write prompt: %v", err)
	}

	wl1, err := workload.Load(first)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	wl2, err := workload.Load(second)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if wl1.Fingerprint() != wl2.Fingerprint() {
		t.Fatalf("Fingerprints differ: %q vs %q", wl1.Fingerprint(), wl2.Fingerprint())
	}
	if wl1.Meta.Name != "crypto-suite" {
		t.Errorf("Name = %q, want crypto-suite", wl1.Meta.Name)
	}

	store, err := history.New(TempDBPath(t))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	for i, wl := range []*workload.Workload{wl1, wl2} {
		run := &domain.Run{
			ID:           fmt.Sprintf("20260826-10150%d", i),
			WorkloadID:   wl.Fingerprint(),
			WorkloadName: wl.Meta.Name,
			PromptFile:   wl.Path,
			ReportDir:    fmt.Sprintf("reports/20260826-10150%d", i),
			StartedAt:    time.Date(2026, 8, 26, 10, 15, i, 0, time.UTC),
			Errors:       -1,
		}
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(history.ListOptions{WorkloadID: wl1.Fingerprint()})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Grouped run count = %d, want 2", len(runs))
	}

	other, err := store.ListRuns(history.ListOptions{WorkloadID: "unrelated"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Unrelated run count = %d, want 0", len(other))
	}
}
