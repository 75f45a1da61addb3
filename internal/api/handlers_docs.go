package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/store"
)

// handleListDocuments lists all documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleGetDocument returns a document with its revisions.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.store.GetDocument(ctx, chi.URLParam(r, "docID"))
	if !s.found(w, err, "document") {
		return
	}
	revs, err := s.store.ListRevisions(ctx, doc.ID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":  doc,
		"revisions": revs,
	})
}

// decisionView adds the extracted occurrence id to a ledger decision.
type decisionView struct {
	ledger.Decision
	Occurrence string `json:"occ_id,omitempty"`
}

func viewDecisions(ds []ledger.Decision) []decisionView {
	out := make([]decisionView, 0, len(ds))
	for _, d := range ds {
		out = append(out, decisionView{Decision: d, Occurrence: d.Occurrence()})
	}
	return out
}

// handleResult is the document summary: the frozen error list, current rule
// counts, the newest verdict and every decision.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := chi.URLParam(r, "docID")
	snap, err := s.store.LoadHistory(ctx, docID)
	if !s.found(w, err, "document") {
		return
	}
	revs, err := s.store.ListRevisions(ctx, docID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"document_id": docID,
		"errors":      nonNil(ledger.ErrorList(snap.Revisions)),
		"rule_counts": nonNil(ledger.RuleCounts(snap.Revisions)),
		"decisions":   viewDecisions(snap.Decisions),
	}
	if len(revs) > 0 {
		latest := revs[len(revs)-1]
		resp["revision_id"] = latest.ID
		resp["version"] = latest.Version
		resp["verdict"] = latest.Verdict
		resp["verdict_comment"] = latest.VerdictComment
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHistory returns every revision and decision of the revision's document.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rev, err := s.store.GetRevision(ctx, chi.URLParam(r, "revID"))
	if !s.found(w, err, "revision") {
		return
	}
	revs, err := s.store.ListRevisions(ctx, rev.DocumentID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	decisions, err := s.store.Decisions(ctx, rev.DocumentID)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": rev.DocumentID,
		"revisions":   revs,
		"decisions":   viewDecisions(decisions),
	})
}

// found writes 404 or 500 for a lookup error and reports whether err was nil.
func (s *Server) found(w http.ResponseWriter, err error, what string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, what+" not found", http.StatusNotFound)
	default:
		s.log.Error("store lookup failed", "what", what, "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
