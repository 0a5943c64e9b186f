package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gastown-tools/gtcycle/internal/domain"
	"github.com/gastown-tools/gtcycle/internal/history"
)

// RunResponse is the API shape of a recorded run.
type RunResponse struct {
	ID             string          `json:"id"`
	WorkloadID     string          `json:"workload_id,omitempty"`
	WorkloadName   string          `json:"workload_name,omitempty"`
	PromptFile     string          `json:"prompt_file,omitempty"`
	ReportDir      string          `json:"report_dir"`
	StartedAt      string          `json:"started_at"`
	FinishedAt     *string         `json:"finished_at,omitempty"`
	Landed         bool            `json:"landed"`
	ElapsedSeconds int             `json:"elapsed_seconds"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	TracePID       int             `json:"trace_pid,omitempty"`
	SessionStarts  int             `json:"session_starts"`
	PolecatSpawns  int             `json:"polecat_spawns"`
	InputTokens    int             `json:"input_tokens"`
	OutputTokens   int             `json:"output_tokens"`
	Errors         int             `json:"errors"`
	Phases         []PhaseResponse `json:"phases,omitempty"`
}

// PhaseResponse is the API shape of one recorded phase outcome.
type PhaseResponse struct {
	Seq        int    `json:"seq"`
	Name       string `json:"name"`
	Artifact   string `json:"artifact"`
	OK         bool   `json:"ok"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// StatusResponse summarizes the most recent runs.
type StatusResponse struct {
	Total     int    `json:"total"`
	Landed    int    `json:"landed"`
	TimedOut  int    `json:"timed_out"`
	Running   int    `json:"running"`
	LastRunID string `json:"last_run_id,omitempty"`
}

// RunToResponse converts a run to its wire shape. The history command
// reuses it so JSON output matches the API.
func RunToResponse(r *domain.Run, includePhases bool) RunResponse {
	resp := RunResponse{
		ID:             r.ID,
		WorkloadID:     r.WorkloadID,
		WorkloadName:   r.WorkloadName,
		PromptFile:     r.PromptFile,
		ReportDir:      r.ReportDir,
		StartedAt:      r.StartedAt.Format(time.RFC3339),
		Landed:         r.Landed,
		ElapsedSeconds: int(r.Elapsed.Seconds()),
		TimeoutSeconds: int(r.Timeout.Seconds()),
		TracePID:       r.TracePID,
		SessionStarts:  r.SessionStarts,
		PolecatSpawns:  r.PolecatSpawns,
		InputTokens:    r.InputTokens,
		OutputTokens:   r.OutputTokens,
		Errors:         r.Errors,
	}

	if r.FinishedAt != nil {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}

	if includePhases {
		resp.Phases = make([]PhaseResponse, 0, len(r.Phases))
		for _, ph := range r.Phases {
			resp.Phases = append(resp.Phases, PhaseResponse{
				Seq:        ph.Seq,
				Name:       ph.Name,
				Artifact:   ph.Artifact,
				OK:         ph.OK,
				StartedAt:  ph.StartedAt.Format(time.RFC3339),
				FinishedAt: ph.FinishedAt.Format(time.RFC3339),
			})
		}
	}

	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		runs, err := s.store.ListRuns(history.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(runs)
		for _, run := range runs {
			switch {
			case run.FinishedAt == nil:
				status.Running++
			case run.Landed:
				status.Landed++
			default:
				status.TimedOut++
			}
		}
		if len(runs) > 0 {
			status.LastRunID = runs[0].ID
		}

		writeJSON(w, status)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := history.ListOptions{
			WorkloadID: r.URL.Query().Get("workload"),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		runs, err := s.store.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]RunResponse, len(runs))
		for i, run := range runs {
			responses[i] = RunToResponse(run, false)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// Path form: /api/runs/{id}
		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		run, err := s.store.GetRun(id)
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, RunToResponse(run, true))
	}
}
