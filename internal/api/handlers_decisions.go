package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/occurrence"
)

const maxJSONBody = 1 << 20

type decisionRequest struct {
	RevisionID   string `json:"revision_id" validate:"required,max=64"`
	Rule         string `json:"rule" validate:"required_without=OccurrenceID,max=32"`
	OccurrenceID string `json:"occurrence_id" validate:"omitempty,hexadecimal,len=12"`
	Status       string `json:"status" validate:"required,oneof=fixed rejected"`
	Comment      string `json:"comment" validate:"max=4000"`
}

type verdictRequest struct {
	RevisionID string `json:"revision_id" validate:"required,max=64"`
	Verdict    string `json:"verdict" validate:"required,oneof=processing approved rejected removed"`
	Comment    string `json:"comment" validate:"max=4000"`
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		jsonError(w, validationMessage(err), http.StatusBadRequest)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return "validation: " + strings.Join(parts, "; ")
}

// handleAddDecision records a human decision on one revision. An occurrence
// id must appear in some analysed revision of the document.
func (s *Server) handleAddDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	rev, err := s.store.GetRevision(ctx, req.RevisionID)
	if !s.found(w, err, "revision") {
		return
	}

	d := ledger.Decision{
		RevisionID: rev.ID,
		Rule:       strings.TrimSpace(req.Rule),
		Status:     ledger.Status(req.Status),
		Author:     authorOf(r),
		Role:       roleOf(r, ledger.RoleReviewer),
		Comment:    req.Comment,
	}
	if req.OccurrenceID != "" {
		snap, err := s.store.LoadHistory(ctx, rev.DocumentID)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		known := occurrence.Map{}
		for _, lr := range snap.Revisions {
			for id, e := range lr.Occurrences {
				known[id] = e
			}
		}
		ids, err := ledger.ValidateClaims([]string{req.OccurrenceID}, known)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.OccurrenceID = ids[0]
		if d.Rule == "" {
			d.Rule = known[ids[0]].Rule
		}
		if _, tagged := occurrence.Extract(d.Comment); !tagged {
			d.Comment = strings.TrimSpace(occurrence.Tag(ids[0]) + " " + d.Comment)
		}
	}

	unlock := s.orchestrator.Locks().Lock(rev.DocumentID)
	stored, err := s.store.AppendDecision(ctx, d)
	unlock()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, decisionView{Decision: *stored, Occurrence: stored.Occurrence()})
}

// handleSetVerdict records a reviewer's verdict on a revision.
func (s *Server) handleSetVerdict(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	if _, err := s.store.GetRevision(ctx, req.RevisionID); !s.found(w, err, "revision") {
		return
	}
	rev, err := s.store.SetVerdict(ctx, req.RevisionID, ledger.Verdict(req.Verdict), req.Comment, authorOf(r), ledger.RoleReviewer)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}
