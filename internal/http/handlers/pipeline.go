package handlers

import (
	"context"
	"net/http"

	"github.com/velocity-los/velocity-back/internal/worker"
)

// TriggerParse and TriggerAnalyze are the per-worker trigger entrypoints an
// external scheduler hits once per tick. Both return 200 for "no work" and
// for handled per-job failures; 5xx is reserved for infrastructure errors.

func (api *API) TriggerParse(w http.ResponseWriter, r *http.Request) {
	api.trigger(w, r, api.parser.ProcessOne)
}

func (api *API) TriggerAnalyze(w http.ResponseWriter, r *http.Request) {
	api.trigger(w, r, api.analyzer.ProcessOne)
}

func (api *API) trigger(
	w http.ResponseWriter,
	r *http.Request,
	processOne func(context.Context) (worker.Result, error),
) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	result, err := processOne(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "worker_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
