package web

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/ndbmedicine/internal/catalog"
	"github.com/JonMunkholm/ndbmedicine/internal/core"
	"github.com/JonMunkholm/ndbmedicine/internal/extract"
)

type layoutView struct {
	Kind            string   `json:"kind"`
	Label           string   `json:"label"`
	CategoryColumns []string `json:"category_columns"`
}

type fileView struct {
	Name        string `json:"name"`
	Round       int    `json:"round"`
	Year        int    `json:"year"`
	DosageForm  string `json:"dosage_form"`
	CareSetting string `json:"care_setting,omitempty"`
	Layout      string `json:"layout"`
	Location    string `json:"location"`
}

func toFileView(f catalog.SourceFile) fileView {
	v := fileView{
		Name:       f.FileName(),
		Round:      int(f.Round),
		Year:       f.Round.FiscalYear(),
		DosageForm: f.DosageForm.String(),
		Layout:     f.Layout.String(),
		Location:   f.Location,
	}
	if f.CareSetting != core.CareSettingUnknown {
		v.CareSetting = f.CareSetting.String()
	}
	return v
}

// handleListLayouts returns the registered layouts.
func (s *Server) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	defs := core.Layouts()
	out := make([]layoutView, 0, len(defs))
	for _, def := range defs {
		out = append(out, layoutView{
			Kind:            def.Kind.String(),
			Label:           def.Kind.Label(),
			CategoryColumns: def.CategoryColumns,
		})
	}
	writeJSON(w, out)
}

// handleCatalog lists indexed source files matching the query criteria.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := core.ParseCriteria(r.URL.Query())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	files, err := s.deps.Index.Resolve(r.Context(), c)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	views := make([]fileView, 0, len(files))
	for _, f := range files {
		views = append(views, toFileView(f))
	}
	writeJSON(w, struct {
		RefreshedAt time.Time  `json:"refreshed_at"`
		Files       []fileView `json:"files"`
	}{s.deps.Index.RefreshedAt(), views})
}

// handleMirror copies the matching source files to the configured mirror.
func (s *Server) handleMirror(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mirror == nil {
		respondErr(w, r, errMirrorOff)
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
	files, err := s.deps.Index.Resolve(r.Context(), c)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	limit := s.cfg.Extract.MaxConcurrentFiles
	saved, err := s.deps.Mirror.SaveAll(r.Context(), files, limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"files": saved})
}

// handleStatus reports run slot usage and catalog freshness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Runs        extract.LimiterStatus `json:"runs"`
		Files       int                   `json:"files"`
		RefreshedAt time.Time             `json:"refreshed_at"`
	}{
		Runs:        s.deps.Service.LimiterStatus(),
		Files:       len(s.deps.Index.List()),
		RefreshedAt: s.deps.Index.RefreshedAt(),
	})
}
