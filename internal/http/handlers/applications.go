package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/repository"
	"github.com/velocity-los/velocity-back/internal/service"
)

type createApplicationRequest struct {
	CompanyProfileID string `json:"company_profile_id"`
	ProgramID        string `json:"program_id,omitempty"`
	FileName         string `json:"file_name"`
	ContentType      string `json:"content_type,omitempty"`
	DocumentBase64   string `json:"document_base64"`
}

// Applications routes /v1/applications by method: POST creates a new
// application job, GET lists jobs filtered by stage.
func (api *API) Applications(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createApplication(w, r)
	case http.MethodGet:
		api.listApplications(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createApplication(w http.ResponseWriter, r *http.Request) {
	var request createApplicationRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	document, err := base64.StdEncoding.DecodeString(request.DocumentBase64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "document_base64 is not valid base64")
		return
	}

	job, err := api.applications.CreateApplication(r.Context(), service.CreateApplicationInput{
		CompanyProfileID: strings.TrimSpace(request.CompanyProfileID),
		ProgramID:        strings.TrimSpace(request.ProgramID),
		FileName:         request.FileName,
		ContentType:      request.ContentType,
		Document:         document,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create application")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":           job.ID,
		"processing_stage": job.ProcessingStage,
		"object_path":      job.ObjectPath,
		"created_at":       job.CreatedAt,
	})
}

func (api *API) listApplications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.JobListFilter{
		Stage: domain.ProcessingStage(strings.TrimSpace(query.Get("stage"))),
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil {
		filter.Page = page
	}
	if pageSize, err := strconv.Atoi(query.Get("page_size")); err == nil {
		filter.PageSize = pageSize
	}

	jobs, total, err := api.applications.ListApplications(r.Context(), filter)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list applications")
		return
	}

	items := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, jobSummary(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

// Application serves GET /v1/applications/{id}: the operator-visible view of
// one job, including failure details and the public decision artifact.
func (api *API) Application(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/applications/"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "application id is required")
		return
	}

	job, err := api.applications.GetApplication(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "application not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load application")
		return
	}

	response := jobSummary(job)
	if job.ExtractedTextLength > 0 {
		response["extracted_text_length"] = job.ExtractedTextLength
		response["extractor"] = job.Extractor
		response["fallback_used"] = job.FallbackUsed
	}
	if job.ParsingError != "" {
		response["parsing_error"] = job.ParsingError
		response["parsing_failed_at"] = job.ParsingFailedAt
	}
	if job.DecisionArtifactPublic != nil {
		response["decision_artifact"] = job.DecisionArtifactPublic
	}
	if job.AnalysisError != "" {
		response["analysis_error"] = job.AnalysisError
	}
	writeJSON(w, http.StatusOK, response)
}

func jobSummary(job *domain.Job) map[string]any {
	summary := map[string]any{
		"job_id":           job.ID,
		"processing_stage": job.ProcessingStage,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
	}
	if job.Decision != "" {
		summary["decision"] = job.Decision
	}
	return summary
}
