package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/report"
	"github.com/dgallion1/drawcheck/internal/store"
)

// artifact writes a stored artifact or a 404 when it does not exist yet.
func (s *Server) artifact(w http.ResponseWriter, r *http.Request, name, contentType string) {
	data, err := s.store.GetArtifact(r.Context(), chi.URLParam(r, "revID"), name)
	if !s.found(w, err, name) {
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.artifact(w, r, store.ArtifactRegister, "text/plain; charset=utf-8")
}

// loadRegister rebuilds the register of an analysed revision from its
// findings artifact.
func (s *Server) loadRegister(w http.ResponseWriter, r *http.Request) (*report.Register, bool) {
	data, err := s.store.GetArtifact(r.Context(), chi.URLParam(r, "revID"), store.ArtifactFindings)
	if !s.found(w, err, "findings") {
		return nil, false
	}
	var fj analysis.FindingsJSON
	if err := json.Unmarshal(data, &fj); err != nil {
		jsonError(w, "corrupt findings: "+err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return &report.Register{
		FileName: fj.File,
		Findings: fj.Findings,
		Info:     fj.Info,
		Global:   fj.Global,
	}, true
}

func (s *Server) handleRegisterHTML(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.loadRegister(w, r)
	if !ok {
		return
	}
	html, err := report.RenderHTML(reg)
	if err != nil {
		jsonError(w, "render: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

// handlePage serves an annotated page. With ?rule= only that rule's findings
// are drawn, keeping their register numbers.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		jsonError(w, "invalid page number", http.StatusBadRequest)
		return
	}
	rule := r.URL.Query().Get("rule")
	if rule == "" {
		s.artifact(w, r, store.PageArtifact(page), "image/png")
		return
	}

	reg, ok := s.loadRegister(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	pdf, err := s.store.GetArtifact(ctx, chi.URLParam(r, "revID"), store.ArtifactSource)
	if !s.found(w, err, "source") {
		return
	}
	doc, err := s.analyzer.Extract(ctx, pdf)
	if err != nil {
		jsonError(w, "parse source: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	p := doc.Page(page)
	if p == nil {
		jsonError(w, "page not found", http.StatusNotFound)
		return
	}
	png, err := s.analyzer.Annotator.Page(ctx, pdf, p, report.FilterByRule(reg.Findings, rule), report.RuleLabel(rule))
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			return
		}
		jsonError(w, "render: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
