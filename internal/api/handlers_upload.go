package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/occurrence"
	"github.com/dgallion1/drawcheck/internal/pipeline"
	"github.com/dgallion1/drawcheck/internal/store"
)

const (
	commentClaimRule = "Отмечено как исправлено разработчиком (по критерию)"
	commentClaimOcc  = "Отмечено как исправлено разработчиком (конкретная ошибка)"
)

type upload struct {
	filename   string
	data       []byte
	fixedRules []string
	fixedIDs   []string
}

// readUpload parses the multipart form shared by both upload endpoints.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return nil, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return nil, false
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		jsonError(w, "file is not a PDF", http.StatusBadRequest)
		return nil, false
	}

	return &upload{
		filename:   filename,
		data:       data,
		fixedRules: splitList(r.FormValue("fixed_rules")),
		fixedIDs:   splitList(r.FormValue("fixed_ids")),
	}, true
}

// handleCreateDocument creates a document from its first revision.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	if len(up.fixedIDs) > 0 {
		jsonError(w, "fixed_ids are only accepted when adding a revision to an existing document", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(up.filename, filepath.Ext(up.filename))
	}
	doc, err := s.store.CreateDocument(r.Context(), name, authorOf(r))
	if err != nil {
		jsonError(w, "create document: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.acceptRevision(w, r, doc, up, nil)
}

// handleAddRevision uploads a new revision of an existing document together
// with the developer's "fixed" claims.
func (s *Server) handleAddRevision(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)
	ctx := r.Context()
	doc, err := s.store.GetDocument(ctx, chi.URLParam(r, "docID"))
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	var ref occurrence.Map
	if len(up.fixedIDs) > 0 {
		snap, err := s.store.LoadHistory(ctx, doc.ID)
		if err != nil {
			jsonError(w, "load history: "+err.Error(), http.StatusInternalServerError)
			return
		}
		latest, ok := ledger.LatestAnalysed(snap.Revisions, "")
		if !ok || len(latest.Occurrences) == 0 {
			jsonError(w, "cannot validate fixed_ids: the document has no analysed revision with findings", http.StatusBadRequest)
			return
		}
		ids, err := ledger.ValidateClaims(up.fixedIDs, latest.Occurrences)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "some fixed_ids are not in the latest register",
				"unknown": unknownIDs(up.fixedIDs, latest.Occurrences),
			})
			return
		}
		up.fixedIDs = ids
		ref = latest.Occurrences
	}
	s.acceptRevision(w, r, doc, up, ref)
}

// acceptRevision stores the revision and its claims, then queues analysis.
func (s *Server) acceptRevision(w http.ResponseWriter, r *http.Request, doc *store.Document, up *upload, ref occurrence.Map) {
	ctx := r.Context()
	author := authorOf(r)

	unlock := s.orchestrator.Locks().Lock(doc.ID)
	rev, err := s.store.AddRevision(ctx, doc.ID, up.filename, author, up.data)
	if err == nil {
		err = s.recordClaims(r, rev, up, ref, author)
	}
	unlock()
	if err != nil {
		jsonError(w, "store revision: "+err.Error(), http.StatusInternalServerError)
		return
	}

	job := pipeline.NewJob(doc.ID, rev.ID, rev.Version, rev.FileName, up.data)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": doc.ID,
		"revision_id": rev.ID,
		"version":     rev.Version,
		"job_id":      job.ID,
		"status":      job.Status,
		"poll_url":    fmt.Sprintf("/api/jobs/%s", job.ID),
	})
}

func (s *Server) recordClaims(r *http.Request, rev *store.Revision, up *upload, ref occurrence.Map, author string) error {
	claim := func(rule, occ, comment string) error {
		_, err := s.store.AppendDecision(r.Context(), ledger.Decision{
			DocumentID:   rev.DocumentID,
			RevisionID:   rev.ID,
			Rule:         rule,
			OccurrenceID: occ,
			Status:       ledger.StatusFixed,
			Author:       author,
			Role:         ledger.RoleDeveloper,
			Comment:      comment,
		})
		return err
	}
	for _, rule := range up.fixedRules {
		if err := claim(rule, "", commentClaimRule); err != nil {
			return err
		}
	}
	for _, id := range up.fixedIDs {
		if err := claim(ref[id].Rule, id, occurrence.Tag(id)+" "+commentClaimOcc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func unknownIDs(ids []string, ref occurrence.Map) []string {
	var out []string
	for _, id := range ids {
		id = strings.ToLower(id)
		if _, ok := ref[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
