package web

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/core"
	"github.com/JonMunkholm/poimport/internal/ledger"
	"github.com/JonMunkholm/poimport/internal/logging"
	"github.com/JonMunkholm/poimport/internal/web/templates"
)

// maxRequestBody bounds the JSON body of an import request.
const maxRequestBody = 64 * 1024

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"dryRun":  s.cfg.Import.DryRun,
		"imports": s.orch.Limiter().Status(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, err := s.orch.Ledger().ListRuns(r.Context(), ledger.ListOptions{Limit: 50})
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.RunsPage(runs, s.orch.ActiveImports()).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Warn("render runs page", zap.Error(err))
	}
}

// ----------------------------------------------------------------------------
// Run ledger
// ----------------------------------------------------------------------------

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.orch.Ledger().ListRuns(r.Context(), ledger.ListOptions{
		ProjectID: r.URL.Query().Get("project"),
		Limit:     parseIntParam(r, "limit", 50),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []ledger.Run{}
	}
	writeJSON(w, r, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Ledger().GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.orch.Ledger().GetMapping(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}

// ----------------------------------------------------------------------------
// Background imports
// ----------------------------------------------------------------------------

// importBody is the optional JSON body of POST /api/imports/{projectID}.
type importBody struct {
	WorkspaceID *int64 `json:"workspaceId,omitempty"`
	TemplateID  *int64 `json:"templateId,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
}

// importAccepted is the response to a started import.
type importAccepted struct {
	RunID     string `json:"runId"`
	ProjectID string `json:"projectId"`
	Progress  string `json:"progress"`
	Events    string `json:"events"`
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var body importBody
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		badRequest(w, r, "could not read request body")
		return
	}
	if len(raw) > 0 {
		if err := sonic.ConfigStd.Unmarshal(raw, &body); err != nil {
			badRequest(w, r, "invalid JSON body")
			return
		}
	}
	if id := body.TemplateID; id != nil && *id < 0 {
		badRequest(w, r, "templateId must be 0 or positive")
		return
	}

	runID, err := s.orch.StartImport(importContext(r), core.ImportRequest{
		ProjectID:   projectID,
		WorkspaceID: body.WorkspaceID,
		TemplateID:  body.TemplateID,
		Strategy:    body.Strategy,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	base := "/api/imports/" + runID
	w.Header().Set("Location", base)
	writeJSON(w, r, http.StatusAccepted, importAccepted{
		RunID:     runID,
		ProjectID: projectID,
		Progress:  base,
		Events:    base + "/events",
	})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.orch.ActiveImports())
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.orch.Progress(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.orch.Cancel(runID); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"runId": runID, "status": "cancelling"})
}

// handleImportEvents streams progress as server-sent events until the import
// finishes or the client goes away. The event id is the row percentage, so
// a client resuming with lastEventId skips snapshots it already has.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID, _ := strconv.Atoi(lastEventIDStr)

	progressCh, err := s.orch.Subscribe(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// Streams run longer than the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}

			pct := progress.Percent()
			if lastEventIDStr != "" && pct <= lastEventID && !progress.Phase.Done() {
				continue
			}

			data, err := sonic.ConfigStd.Marshal(progress)
			if err != nil {
				logging.FromContext(r.Context()).Warn("encode progress", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// ----------------------------------------------------------------------------
// Catalog
// ----------------------------------------------------------------------------

func (s *Server) handleEnsureCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := s.orch.EnsureCatalog(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, cat)
}
