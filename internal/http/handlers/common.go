package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/velocity-los/velocity-back/internal/http/middleware"
	"github.com/velocity-los/velocity-back/internal/service"
	"github.com/velocity-los/velocity-back/internal/worker"
)

// API bundles the handlers for the dashboard surface and the pipeline
// trigger endpoints.
type API struct {
	applications *service.ApplicationsService
	parser       *worker.ParsingWorker
	analyzer     *worker.AnalysisWorker
}

func NewAPI(
	applications *service.ApplicationsService,
	parser *worker.ParsingWorker,
	analyzer *worker.AnalysisWorker,
) *API {
	return &API{
		applications: applications,
		parser:       parser,
		analyzer:     analyzer,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(value)
}
