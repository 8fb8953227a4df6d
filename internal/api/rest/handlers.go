package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/grcops/compliance-core/internal/domain/errors"
	"github.com/grcops/compliance-core/internal/domain/monitoring"
	"github.com/grcops/compliance-core/internal/domain/workflow"
)

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", "path id must be a UUID")
	}
	return id, nil
}

type registerWorkflowRequest struct {
	Name            string                   `json:"name"`
	Category        workflow.Category        `json:"category"`
	AutomationLevel workflow.AutomationLevel `json:"automation_level"`
	Steps           []workflow.WorkflowStep  `json:"steps"`
	Trigger         workflow.TriggerSpec     `json:"trigger"`
	Approval        workflow.ApprovalPolicy  `json:"approval"`
	CreatedBy       string                   `json:"created_by"`
}

func (s *Server) handleRegisterWorkflow(w http.ResponseWriter, r *http.Request) {
	var req registerWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("INVALID_BODY", "malformed request body").WithCause(err))
		return
	}
	def, err := workflow.NewDefinition(req.Name, req.Category, req.AutomationLevel,
		req.Steps, req.Trigger, req.Approval, req.CreatedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Register(r.Context(), def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

type registerVersionRequest struct {
	Steps    []workflow.WorkflowStep `json:"steps"`
	Trigger  workflow.TriggerSpec    `json:"trigger"`
	Approval workflow.ApprovalPolicy `json:"approval"`
}

func (s *Server) handleRegisterVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req registerVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("INVALID_BODY", "malformed request body").WithCause(err))
		return
	}
	next, err := s.registry.RegisterVersion(r.Context(), id, req.Steps, req.Trigger, req.Approval)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, next)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	category := workflow.Category(r.URL.Query().Get("category"))
	defs, err := s.registry.List(r.Context(), category, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	def, err := s.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var payload map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	outcome, err := s.orch.OnTrigger(r.Context(), id, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, outcome)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	event := r.PathValue("name")
	if event == "" {
		writeError(w, errors.NewValidationError("MISSING_EVENT", "event name is required"))
		return
	}
	var payload map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	if err := s.dispatcher.Dispatch(r.Context(), event, payload); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event": event})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	exec, err := s.orch.ExecutionStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

type approvalRequest struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver"`
	Comments string `json:"comments,omitempty"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("INVALID_BODY", "malformed request body").WithCause(err))
		return
	}
	decision := workflow.ApprovalDecision{
		Approved:  req.Approved,
		Approver:  req.Approver,
		Comments:  req.Comments,
		DecidedAt: time.Now().UTC(),
	}
	if err := s.orch.Decide(r.Context(), id, decision); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"execution_id": id, "approved": req.Approved})
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled via api"
	}
	if err := s.orch.CancelExecution(r.Context(), id, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"execution_id": id, "status": "cancelled"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filters := monitoring.AlertFilters{
		Status:   monitoring.AlertStatus(q.Get("status")),
		Severity: monitoring.Severity(q.Get("severity")),
		Limit:    limit,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, errors.NewValidationError("INVALID_SINCE", "since must be RFC 3339"))
			return
		}
		filters.Since = t
	}
	alerts, err := s.orch.Alerts(r.Context(), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type alertStatusRequest struct {
	Status monitoring.AlertStatus `json:"status"`
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req alertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("INVALID_BODY", "malformed request body").WithCause(err))
		return
	}
	alert, err := s.orch.TransitionAlert(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type createRiskRequest struct {
	Name       string `json:"name"`
	Impact     int    `json:"impact"`
	Likelihood int    `json:"likelihood"`
}

func (s *Server) handleCreateRisk(w http.ResponseWriter, r *http.Request) {
	var req createRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewValidationError("INVALID_BODY", "malformed request body").WithCause(err))
		return
	}
	rec, err := s.orch.CreateRisk(r.Context(), req.Name, req.Impact, req.Likelihood)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleAnalyzeRisk(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	assessment, err := s.orch.AnalyzeRisk(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.orch.Dashboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
