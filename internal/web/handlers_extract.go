package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/codec"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// handleStartExtract starts a run for the layout in the path. Criteria come
// from the query string or a form body.
func (s *Server) handleStartExtract(w http.ResponseWriter, r *http.Request) {
	layout, err := core.ParseLayoutKind(chi.URLParam(r, "layout"))
	if err != nil {
		respondErr(w, r, fmt.Errorf("%w: %v", core.ErrUnsupportedLayout, err))
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	c, err := core.ParseCriteria(r.Form)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	id, err := s.deps.Service.Start(ctx, layout, c)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/extract/"+id.String()+"/result")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"run_id": id.String()})
}

// handleExtractProgress streams run progress as Server-Sent Events. The
// event id is the percentage done, so a reconnecting client passing
// lastEventId skips what it has seen.
func (s *Server) handleExtractProgress(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	lastEventID := -1
	if v := r.URL.Query().Get("lastEventId"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}
	updates, err := s.deps.Service.Subscribe(id)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case p, ok := <-updates:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			pct := p.Percent()
			if pct <= lastEventID && !p.Finished() {
				continue
			}
			data, _ := json.Marshal(p)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// handleExtractResult returns the summary of a finished run.
func (s *Server) handleExtractResult(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sum, err := s.deps.Service.Summary(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, sum)
}

// handleExtractRecords downloads the records of a run as xlsx, csv or
// parquet (default csv).
func (s *Server) handleExtractRecords(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	format := codec.FormatCSV
	if v := r.URL.Query().Get("format"); v != "" {
		if format, err = codec.ParseFormat(v); err != nil {
			respondErr(w, r, err)
			return
		}
	}

	layout, records, err := s.deps.Service.Records(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	// Encode fully first so that a failure can still be reported.
	var buf bytes.Buffer
	if err := codec.Encode(&buf, format, layout, records); err != nil {
		respondErr(w, r, err)
		return
	}

	filename := fmt.Sprintf("%s_%s_%s%s", layout, id.String()[:8], time.Now().Format("20060102"), format.Ext())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	buf.WriteTo(w)
}

// handleCancelExtract cancels a running extraction.
func (s *Server) handleCancelExtract(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := s.deps.Service.Cancel(id); err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelling"})
}

type runView struct {
	ID         string              `json:"run_id"`
	Layout     string              `json:"layout"`
	Criteria   map[string][]string `json:"criteria"`
	Files      int                 `json:"files"`
	Skipped    int                 `json:"skipped"`
	Records    int                 `json:"records"`
	DurationMs int                 `json:"duration_ms"`
	StartedAt  time.Time           `json:"started_at"`
}

// handleHistory lists stored runs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Service.History(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, runView{
			ID:         run.ID.String(),
			Layout:     run.Layout.String(),
			Criteria:   run.Criteria,
			Files:      run.Files,
			Skipped:    run.Skipped,
			Records:    run.Records,
			DurationMs: run.DurationMs,
			StartedAt:  run.StartedAt,
		})
	}
	writeJSON(w, out)
}

func runID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errInvalidRunID, err)
	}
	return id, nil
}

// parseIntParam reads a positive integer query parameter.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
