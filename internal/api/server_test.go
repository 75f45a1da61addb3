package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/occurrence"
	"github.com/dgallion1/drawcheck/internal/pipeline"
	"github.com/dgallion1/drawcheck/internal/report"
	"github.com/dgallion1/drawcheck/internal/rules"
	"github.com/dgallion1/drawcheck/internal/store"
)

const testKey = "secret"

const testRegister = `Файл: a.pdf
Всего нарушений (кластеров): 1

[#001] страница 1
  Пункты: 1.1.3
  Описания:
   - (1.1.3) Буква «Б» на поле не упоминается в ТТ
`

var testOcc = occurrence.ID("1.1.3", "Буква «Б» на поле не упоминается в ТТ")

type testEnv struct {
	srv   *Server
	store *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cat, err := rules.DefaultRulesCatalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		APIKey:         testKey,
		MaxQueueSize:   10,
		MaxUploadBytes: 1 << 20,
		JobTTL:         time.Hour,
	}
	an := analysis.New(cat, analysis.Options{}, log)
	orch := pipeline.NewOrchestrator(cfg, pipeline.Components{Store: st, Analyzer: an}, log)
	return &testEnv{srv: NewServer(orch, st, an, nil, log, cfg), store: st}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	req.Header.Set(headerAuthor, "Иванов")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, path string, v any) *http.Request {
	data, _ := json.Marshal(v)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

// createDocument uploads a first revision and marks it analysed with testRegister.
func (e *testEnv) createDocument(t *testing.T) (docID, revID string) {
	t.Helper()
	rec := e.do(t, uploadRequest(t, "/api/documents", "a.pdf", []byte("%PDF-1.4 one"), nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	docID, revID = body["document_id"].(string), body["revision_id"].(string)
	if err := e.store.PutArtifact(context.Background(), revID, store.ArtifactRegister, []byte(testRegister)); err != nil {
		t.Fatalf("put register: %v", err)
	}
	return docID, revID
}

func TestHealthIsPublic(t *testing.T) {
	e := newTestEnv(t)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)
	for _, auth := range []string{"", "Bearer wrong", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		e.srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: expected 401, got %d", auth, rec.Code)
		}
	}
}

func TestCreateDocumentQueuesJob(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, uploadRequest(t, "/api/documents", "АБВГ.123456.001.pdf", []byte("%PDF-1.4"), nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["version"].(float64) != 1 {
		t.Errorf("expected version 1, got %v", body["version"])
	}
	jobID := body["job_id"].(string)
	if body["poll_url"] != "/api/jobs/"+jobID {
		t.Errorf("expected poll url for %s, got %v", jobID, body["poll_url"])
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != string(pipeline.StatusQueued) {
		t.Errorf("expected status queued, got %v", got)
	}

	docs, _ := e.store.ListDocuments(context.Background())
	if len(docs) != 1 || docs[0].Name != "АБВГ.123456.001" || docs[0].Author != "Иванов" {
		t.Errorf("unexpected documents %+v", docs)
	}
}

func TestCreateDocumentRejects(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name     string
		filename string
		data     string
		fields   map[string]string
	}{
		{"not pdf extension", "a.docx", "%PDF", nil},
		{"not pdf content", "a.pdf", "hello", nil},
		{"fixed ids on first upload", "a.pdf", "%PDF", map[string]string{"fixed_ids": testOcc}},
	}
	for _, tt := range tests {
		rec := e.do(t, uploadRequest(t, "/api/documents", tt.filename, []byte(tt.data), tt.fields))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, rec.Code)
		}
	}
}

func TestAddRevisionValidatesClaims(t *testing.T) {
	e := newTestEnv(t)
	docID, _ := e.createDocument(t)
	path := "/api/documents/" + docID + "/revisions"

	rec := e.do(t, uploadRequest(t, path, "b.pdf", []byte("%PDF-2"), map[string]string{"fixed_ids": "abcdefabcdef"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	unknown, _ := decodeBody(t, rec)["unknown"].([]any)
	if len(unknown) != 1 || unknown[0] != "abcdefabcdef" {
		t.Errorf("expected unknown id listed, got %v", unknown)
	}

	rec = e.do(t, uploadRequest(t, path, "b.pdf", []byte("%PDF-2"), map[string]string{
		"fixed_ids":   strings.ToUpper(testOcc),
		"fixed_rules": "1.1.4, 1.1.5",
	}))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if v := decodeBody(t, rec)["version"].(float64); v != 2 {
		t.Errorf("expected version 2, got %v", v)
	}

	ds, _ := e.store.Decisions(context.Background(), docID)
	if len(ds) != 3 {
		t.Fatalf("expected 3 claims, got %d", len(ds))
	}
	var occClaim *ledger.Decision
	for i := range ds {
		if !ds[i].IsClaim() {
			t.Errorf("expected developer claim, got %+v", ds[i])
		}
		if ds[i].OccurrenceID != "" {
			occClaim = &ds[i]
		}
	}
	if occClaim == nil || occClaim.OccurrenceID != testOcc || occClaim.Rule != "1.1.3" {
		t.Fatalf("expected occurrence claim on %s, got %+v", testOcc, occClaim)
	}
	if !strings.HasPrefix(occClaim.Comment, "[occ:"+testOcc+"]") {
		t.Errorf("expected tagged comment, got %q", occClaim.Comment)
	}
}

func TestAddRevisionUnknownDocument(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, uploadRequest(t, "/api/documents/missing/revisions", "b.pdf", []byte("%PDF"), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDecisionValidation(t *testing.T) {
	e := newTestEnv(t)
	_, revID := e.createDocument(t)
	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing revision", map[string]any{"rule": "1.1.3", "status": "fixed"}, http.StatusBadRequest},
		{"bad status", map[string]any{"revision_id": revID, "rule": "1.1.3", "status": "maybe"}, http.StatusBadRequest},
		{"no rule or occurrence", map[string]any{"revision_id": revID, "status": "rejected"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"revision_id": revID, "rule": "1.1.3", "status": "fixed", "x": 1}, http.StatusBadRequest},
		{"unknown occurrence", map[string]any{"revision_id": revID, "occurrence_id": "abcdefabcdef", "status": "rejected"}, http.StatusBadRequest},
		{"unknown revision", map[string]any{"revision_id": "nope", "rule": "1.1.3", "status": "fixed"}, http.StatusNotFound},
		{"rule decision", map[string]any{"revision_id": revID, "rule": "1.1.3", "status": "rejected"}, http.StatusCreated},
	}
	for _, tt := range tests {
		rec := e.do(t, jsonRequest(http.MethodPost, "/api/decisions", tt.body))
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.code, rec.Code, rec.Body.String())
		}
	}
}

func TestOccurrenceDecisionIsTagged(t *testing.T) {
	e := newTestEnv(t)
	_, revID := e.createDocument(t)
	rec := e.do(t, jsonRequest(http.MethodPost, "/api/decisions", map[string]any{
		"revision_id":   revID,
		"occurrence_id": testOcc,
		"status":        "rejected",
		"comment":       "не исправлено",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["occ_id"] != testOcc {
		t.Errorf("expected occ_id %s, got %v", testOcc, body["occ_id"])
	}
	if body["rule"] != "1.1.3" {
		t.Errorf("expected rule restored from the register, got %v", body["rule"])
	}
	if body["comment"] != "[occ:"+testOcc+"] не исправлено" {
		t.Errorf("unexpected comment %v", body["comment"])
	}
	if body["author_role"] != string(ledger.RoleReviewer) {
		t.Errorf("expected reviewer role, got %v", body["author_role"])
	}
}

func TestSetVerdict(t *testing.T) {
	e := newTestEnv(t)
	_, revID := e.createDocument(t)

	rec := e.do(t, jsonRequest(http.MethodPost, "/api/verdict", map[string]any{"revision_id": revID, "verdict": "done"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown verdict, got %d", rec.Code)
	}

	rec = e.do(t, jsonRequest(http.MethodPost, "/api/verdict", map[string]any{"revision_id": revID, "verdict": "removed", "comment": "дубликат"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rev, _ := e.store.GetRevision(context.Background(), revID)
	if rev.Verdict != ledger.VerdictRemoved || rev.VerdictAuthor != "Иванов" {
		t.Errorf("expected removed verdict by Иванов, got %q by %q", rev.Verdict, rev.VerdictAuthor)
	}
}

func TestResultView(t *testing.T) {
	e := newTestEnv(t)
	docID, _ := e.createDocument(t)

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+docID+"/result", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	errs := body["errors"].([]any)
	if len(errs) != 1 || errs[0].(map[string]any)["occurrence_id"] != testOcc {
		t.Errorf("expected one tracked error %s, got %v", testOcc, errs)
	}
	if body["verdict"] != string(ledger.VerdictProcessing) {
		t.Errorf("expected processing verdict, got %v", body["verdict"])
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/missing/result", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRegisterArtifacts(t *testing.T) {
	e := newTestEnv(t)
	_, revID := e.createDocument(t)

	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/revisions/"+revID+"/register", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != testRegister {
		t.Errorf("expected stored register, got %d %q", rec.Code, rec.Body.String())
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/revisions/"+revID+"/register.html", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before findings exist, got %d", rec.Code)
	}

	data, _ := analysis.MarshalFindings(&report.Register{FileName: "a.pdf"}, nil)
	if err := e.store.PutArtifact(context.Background(), revID, store.ArtifactFindings, data); err != nil {
		t.Fatalf("put findings: %v", err)
	}
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/revisions/"+revID+"/register.html", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<h1>") {
		t.Errorf("expected rendered html, got %d %q", rec.Code, rec.Body.String())
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/revisions/"+revID+"/pages/0.png", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for page 0, got %d", rec.Code)
	}
	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/api/revisions/"+revID+"/pages/1.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a page not rendered yet, got %d", rec.Code)
	}
}

func TestJudgeStatsUnavailable(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/stats/judge", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestUnknownJob(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
