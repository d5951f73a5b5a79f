package control

import (
	"encoding/json"
	"net/http"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
)

// AdminAPI is the JSON command surface the evolved CLI drives: pipeline
// stats, task status, and approval resolution. Every request goes through
// the bus, so the surface holds no reference to the daemon itself and works
// against anything that registered the control handlers.
type AdminAPI struct {
	bus    commbus.CommBus
	logger Logger
}

// NewAdminAPI builds the admin surface over bus.
func NewAdminAPI(bus commbus.CommBus, logger Logger) *AdminAPI {
	return &AdminAPI{bus: bus, logger: logger}
}

// Handler returns the admin routes, rooted at /api/.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("GET /api/tasks/{id}", a.handleTask)
	mux.HandleFunc("GET /api/approvals", a.handleApprovals)
	mux.HandleFunc("POST /api/approvals/{id}/approve", a.handleApprove)
	mux.HandleFunc("POST /api/approvals/{id}/reject", a.handleReject)
	mux.HandleFunc("POST /api/pause", a.handlePause)
	mux.HandleFunc("POST /api/resume", a.handleResume)
	return mux
}

func (a *AdminAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	result, err := a.bus.QuerySync(r.Context(), &commbus.GetPipelineStats{})
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *AdminAPI) handleTask(w http.ResponseWriter, r *http.Request) {
	result, err := a.bus.QuerySync(r.Context(), &commbus.GetTaskStatus{TaskID: r.PathValue("id")})
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	if status, ok := result.(*commbus.TaskStatusResponse); ok && !status.Found {
		a.writeJSON(w, http.StatusNotFound, status)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *AdminAPI) handleApprovals(w http.ResponseWriter, r *http.Request) {
	result, err := a.bus.QuerySync(r.Context(), &commbus.GetApprovalQueue{})
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *AdminAPI) handleApprove(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var body struct {
		Approver string `json:"approver"`
	}
	if !a.readBody(w, r, &body) {
		return
	}
	if err := a.bus.Send(r.Context(), &commbus.ApproveTask{TaskID: taskID, Approver: body.Approver}); err != nil {
		a.writeError(w, http.StatusConflict, err)
		return
	}
	a.logInfo("admin_task_approved", "task_id", taskID, "approver", body.Approver)

	// The command settled the task synchronously; report where it landed.
	result, err := a.bus.QuerySync(r.Context(), &commbus.GetTaskStatus{TaskID: taskID})
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *AdminAPI) handleReject(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var body struct {
		Approver string `json:"approver"`
		Reason   string `json:"reason"`
	}
	if !a.readBody(w, r, &body) {
		return
	}
	cmd := &commbus.RejectTask{TaskID: taskID, Approver: body.Approver, Reason: body.Reason}
	if err := a.bus.Send(r.Context(), cmd); err != nil {
		a.writeError(w, http.StatusConflict, err)
		return
	}
	a.logInfo("admin_task_rejected", "task_id", taskID, "approver", body.Approver)

	result, err := a.bus.QuerySync(r.Context(), &commbus.GetTaskStatus{TaskID: taskID})
	if err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *AdminAPI) handlePause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !a.readBody(w, r, &body) {
		return
	}
	if err := a.bus.Send(r.Context(), &commbus.PauseEvolution{Reason: body.Reason}); err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.logInfo("admin_pause_requested", "reason", body.Reason)
	a.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (a *AdminAPI) handleResume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Operator string `json:"operator"`
	}
	if !a.readBody(w, r, &body) {
		return
	}
	if err := a.bus.Send(r.Context(), &commbus.ResumeEvolution{Operator: body.Operator}); err != nil {
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.logInfo("admin_resume_requested", "operator", body.Operator)
	a.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// readBody decodes a JSON request body. An empty body is tolerated so
// operators can curl the endpoints without arguments.
func (a *AdminAPI) readBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logWarn("admin_response_encode_failed", "error", err.Error())
	}
}

func (a *AdminAPI) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *AdminAPI) logInfo(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Info(msg, keysAndValues...)
	}
}

func (a *AdminAPI) logWarn(msg string, keysAndValues ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, keysAndValues...)
	}
}
