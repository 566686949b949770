package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/lease"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/rules"
	"github.com/velocity-los/velocity-back/internal/service"
	"github.com/velocity-los/velocity-back/internal/storage"
	"github.com/velocity-los/velocity-back/internal/worker"
)

type fixedExtractor struct {
	text string
}

func (e *fixedExtractor) Name() string { return "fixed" }

func (e *fixedExtractor) ExtractText(_ []byte) (string, error) { return e.text, nil }

type apiFixture struct {
	api       *API
	jobs      *repository.MemoryJobsRepository
	rulesRepo *repository.MemoryRulesRepository
	documents *storage.MemoryDocumentStore
}

func newAPIFixture(extractedText string) *apiFixture {
	logger := log.New(io.Discard, "", 0)
	jobs := repository.NewMemoryJobsRepository()
	rulesRepo := repository.NewMemoryRulesRepository()
	documents := storage.NewMemoryDocumentStore()
	leases := lease.NewManager(jobs, time.Minute, logger)

	parser := worker.NewParsingWorker(worker.ParsingWorkerDependencies{
		Leases:     leases,
		Jobs:       jobs,
		Documents:  documents,
		Extractor:  &fixedExtractor{text: extractedText},
		RetryCount: 1,
		Logger:     logger,
	})
	analyzer := worker.NewAnalysisWorker(worker.AnalysisWorkerDependencies{
		Leases: leases,
		Jobs:   jobs,
		Rules:  rulesRepo,
		Engine: rules.NewEngine(0),
		Logger: logger,
	})

	return &apiFixture{
		api:       NewAPI(service.NewApplicationsService(jobs, documents), parser, analyzer),
		jobs:      jobs,
		rulesRepo: rulesRepo,
		documents: documents,
	}
}

var fixtureDocument = []byte(strings.Repeat("%PDF-1.7 application fixture document content ", 3))

func createApplicationBody(t *testing.T, profileID string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"company_profile_id": profileID,
		"file_name":          "packet.pdf",
		"document_base64":    base64.StdEncoding.EncodeToString(fixtureDocument),
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestCreateApplicationEndpoint(t *testing.T) {
	fixture := newAPIFixture("text")

	r := httptest.NewRequest(http.MethodPost, "/v1/applications", createApplicationBody(t, "profile-1"))
	w := httptest.NewRecorder()
	fixture.api.Applications(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var response struct {
		JobID           string `json:"job_id"`
		ProcessingStage string `json:"processing_stage"`
		ObjectPath      string `json:"object_path"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.JobID == "" || response.ProcessingStage != string(domain.StageParsing) {
		t.Fatalf("unexpected response: %+v", response)
	}
	if !strings.HasPrefix(response.ObjectPath, "applications/") {
		t.Fatalf("unexpected object path: %s", response.ObjectPath)
	}
}

func TestCreateApplicationRejectsBadInput(t *testing.T) {
	fixture := newAPIFixture("text")

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"unknown field", `{"company_profile_id":"p","document_base64":"aGk=","bogus":true}`},
		{"invalid base64", `{"company_profile_id":"p","document_base64":"not base64!!"}`},
		{"missing profile", `{"document_base64":"` + base64.StdEncoding.EncodeToString(fixtureDocument) + `"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/applications", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			fixture.api.Applications(w, r)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var payload errorPayload
			if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
				t.Fatalf("decode error payload: %v", err)
			}
			if payload.Error.Code != "invalid_request" {
				t.Fatalf("expected invalid_request code, got %q", payload.Error.Code)
			}
		})
	}
}

func TestGetApplicationNotFound(t *testing.T) {
	fixture := newAPIFixture("text")

	r := httptest.NewRequest(http.MethodGet, "/v1/applications/nope", nil)
	w := httptest.NewRecorder()
	fixture.api.Application(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListApplicationsByStage(t *testing.T) {
	fixture := newAPIFixture("text")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	for _, seed := range []struct {
		id    string
		stage domain.ProcessingStage
	}{
		{"job-a", domain.StageParsing},
		{"job-b", domain.StageCompleted},
	} {
		if err := fixture.jobs.CreateJob(ctx, &domain.Job{ID: seed.id, ProcessingStage: seed.stage}); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/v1/applications?stage=parsing", nil)
	w := httptest.NewRecorder()
	fixture.api.Applications(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var response struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Total != 1 || len(response.Items) != 1 {
		t.Fatalf("expected 1 parsing job, got %+v", response)
	}
	if response.Items[0]["job_id"] != "job-a" {
		t.Fatalf("unexpected item: %+v", response.Items[0])
	}
}

func TestTriggerParseProcessesOneJob(t *testing.T) {
	fixture := newAPIFixture("Borrower: Jane Doe")

	create := httptest.NewRequest(http.MethodPost, "/v1/applications", createApplicationBody(t, "profile-1"))
	createRec := httptest.NewRecorder()
	fixture.api.Applications(createRec, create)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", createRec.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/internal/pipeline/parse", nil)
	w := httptest.NewRecorder()
	fixture.api.TriggerParse(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result worker.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Processed != 1 || result.Error != "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTriggerParseIdlesWithoutWork(t *testing.T) {
	fixture := newAPIFixture("text")

	r := httptest.NewRequest(http.MethodPost, "/internal/pipeline/parse", nil)
	w := httptest.NewRecorder()
	fixture.api.TriggerParse(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for no work, got %d", w.Code)
	}
	var result worker.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected nothing processed, got %+v", result)
	}
}

func TestTriggerRejectsNonPost(t *testing.T) {
	fixture := newAPIFixture("text")

	r := httptest.NewRequest(http.MethodGet, "/internal/pipeline/analyze", nil)
	w := httptest.NewRecorder()
	fixture.api.TriggerAnalyze(w, r)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
