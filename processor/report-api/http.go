package reportapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/c360studio/reportgen/hitl"
	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/stream"
	"github.com/c360studio/reportgen/workflow"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// RegisterHTTPHandlers registers the report API under prefix:
//
//	POST <prefix>reports               start a run (?stream=1 streams the line protocol)
//	POST <prefix>reports/{id}/resume   resume a paused run
//	GET  <prefix>reports/{id}/status   plan-approval record
//	GET  <prefix>metrics               Prometheus metrics, when configured
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	mux.HandleFunc(prefix+"reports", c.handleStart)
	mux.HandleFunc(prefix+"reports/", c.handleReport)
	if c.metrics != nil {
		mux.Handle(prefix+"metrics", c.metrics)
	}
}

// errorResponse is the JSON body of a failed request.
type errorResponse struct {
	Error  string                `json:"error"`
	RunID  string                `json:"runId,omitempty"`
	Status workflow.ReportStatus `json:"status,omitempty"`
}

func (c *Component) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req hitl.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if streaming(r) {
		sw := newStreamWriter(w)
		req.Stream = sw
		handle, err := c.runs.StartRun(r.Context(), req)
		c.finishStream(sw, handle.RunID, handle.Status, err)
		return
	}

	handle, err := c.runs.StartRun(r.Context(), req)
	if err != nil {
		c.writeError(w, err, handle.RunID, handle.Status)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

// handleReport dispatches /reports/{id}/{endpoint}.
func (c *Component) handleReport(w http.ResponseWriter, r *http.Request) {
	id, endpoint := extractReportIDAndEndpoint(r.URL.Path)
	if id == "" {
		http.Error(w, "Report ID required", http.StatusBadRequest)
		return
	}

	switch endpoint {
	case "resume":
		c.handleResume(w, r, id)
	case "status":
		c.handleStatus(w, r, id)
	default:
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
	}
}

func (c *Component) handleResume(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req hitl.ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.RunID = id

	if streaming(r) {
		sw := newStreamWriter(w)
		req.Stream = sw
		ack, err := c.runs.ResumeRun(r.Context(), req)
		c.finishStream(sw, id, ack.Status, err)
		return
	}

	ack, err := c.runs.ResumeRun(r.Context(), req)
	if err != nil {
		c.writeError(w, err, id, ack.Status)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (c *Component) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	record, err := c.runs.Status(r.Context(), id)
	if err != nil {
		c.writeError(w, err, id, "")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// finishStream reports a failure on a streamed run. Before any frame was
// written the client still gets a proper HTTP status.
func (c *Component) finishStream(sw *streamWriter, runID string, status workflow.ReportStatus, err error) {
	if err == nil {
		return
	}
	if !sw.started() {
		c.writeError(sw.ResponseWriter, err, runID, status)
		return
	}
	if !sw.sawError() {
		_, _ = sw.Write([]byte(stream.EncodeFrame(stream.FrameError, err.Error())))
		sw.Flush()
	}
}

func (c *Component) writeError(w http.ResponseWriter, err error, runID string, status workflow.ReportStatus) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		c.logger.Error("Report request failed", "run_id", runID, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), RunID: runID, Status: status})
}

// statusCode maps run errors to HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, workflow.ErrMissingScope),
		errors.Is(err, workflow.ErrInvalidApprovalStatus),
		errors.Is(err, workflow.ErrEmptyPlan):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, hitl.ErrNotAwaitingApproval):
		return http.StatusConflict
	default:
		var planErr *workflow.PlanError
		if errors.As(err, &planErr) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

func streaming(r *http.Request) bool {
	v := r.URL.Query().Get("stream")
	return v == "1" || v == "true"
}

// extractReportIDAndEndpoint splits a path like /api/reports/{id}/resume.
func extractReportIDAndEndpoint(path string) (id, endpoint string) {
	idx := strings.Index(path, "/reports/")
	if idx == -1 {
		return "", ""
	}
	remainder := path[idx+len("/reports/"):]
	parts := strings.SplitN(remainder, "/", 2)
	id = parts[0]
	if len(parts) > 1 {
		endpoint = strings.TrimSuffix(parts[1], "/")
	}
	return id, endpoint
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
