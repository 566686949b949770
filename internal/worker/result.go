package worker

// Result is the outcome of one worker invocation, returned to the trigger
// endpoint. A handled per-job failure still counts as processed: the job
// reached a terminal state and the pipeline keeps draining other jobs.
type Result struct {
	Processed int    `json:"processed"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}
