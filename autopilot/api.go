package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/autopilot/internal/autopilot"
	"github.com/animus-labs/autopilot/internal/domain"
	"github.com/animus-labs/autopilot/internal/platform/auditlog"
	"github.com/animus-labs/autopilot/internal/platform/auth"
	"github.com/animus-labs/autopilot/internal/platform/httpserver"
	"github.com/animus-labs/autopilot/internal/platform/requestid"
)

const (
	maxBodyBytes      = 1 << 20
	lockRetryAfterSec = 5
)

type autopilotAPI struct {
	logger *slog.Logger
	svc    *autopilot.Service
}

// protectFunc wraps a route with authentication and a minimum role.
type protectFunc func(role string, h http.HandlerFunc) http.Handler

func (api *autopilotAPI) register(mux *http.ServeMux, protect protectFunc) {
	mux.Handle("POST /companies/{company_id}/actions/simulate", protect(auth.RoleViewer, api.handleSimulateAction))
	mux.Handle("POST /companies/{company_id}/runs", protect(auth.RoleEditor, api.handleProposeRun))
	mux.Handle("GET /companies/{company_id}/runs", protect(auth.RoleViewer, api.handleListRuns))
	mux.Handle("GET /companies/{company_id}/runs/{run_id}", protect(auth.RoleViewer, api.handleGetRun))

	// Admin rights are decided per company by the service.
	mux.Handle("POST /companies/{company_id}/runs/{run_id}/approve", protect(auth.RoleViewer, api.handleApproveRun))
	mux.Handle("POST /companies/{company_id}/runs/{run_id}/reject", protect(auth.RoleViewer, api.handleRejectRun))
	mux.Handle("POST /companies/{company_id}/runs/{run_id}/execute", protect(auth.RoleViewer, api.handleExecuteRun))
	mux.Handle("POST /companies/{company_id}/actions/{action_id}/approve", protect(auth.RoleViewer, api.handleApproveAction))
	mux.Handle("POST /companies/{company_id}/actions/{action_id}/reject", protect(auth.RoleViewer, api.handleRejectAction))
}

type actionResponse struct {
	ActionID         string              `json:"action_id"`
	RunID            string              `json:"run_id"`
	StepOrder        int                 `json:"step_order"`
	ToolName         string              `json:"tool_name"`
	ToolParams       domain.Metadata     `json:"tool_params"`
	Status           domain.ActionStatus `json:"status"`
	RequiresApproval bool                `json:"requires_approval"`
	RiskLevel        domain.RiskLevel    `json:"risk_level"`
	RollbackMetadata domain.Metadata     `json:"rollback_metadata,omitempty"`
	Result           domain.Metadata     `json:"result,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	ExecutedAt       *time.Time          `json:"executed_at,omitempty"`
	ApprovedBy       string              `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time          `json:"approved_at,omitempty"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type runResponse struct {
	RunID        string             `json:"run_id"`
	CompanyID    string             `json:"company_id"`
	Status       domain.RunStatus   `json:"status"`
	Phase        domain.RunPhase    `json:"phase"`
	Locked       bool               `json:"locked"`
	ApprovedBy   string             `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time         `json:"approved_at,omitempty"`
	ApprovalNote string             `json:"approval_note,omitempty"`
	Metrics      *domain.RunMetrics `json:"metrics,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	CreatedBy    string             `json:"created_by"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Actions      []actionResponse   `json:"actions,omitempty"`
}

func toActionResponse(a domain.Action) actionResponse {
	return actionResponse{
		ActionID:         a.ID,
		RunID:            a.RunID,
		StepOrder:        a.StepOrder,
		ToolName:         a.ToolName,
		ToolParams:       a.ToolParams,
		Status:           a.Status,
		RequiresApproval: a.RequiresApproval,
		RiskLevel:        a.RiskLevel,
		RollbackMetadata: a.RollbackMetadata,
		Result:           a.Result,
		ErrorMessage:     a.ErrorMessage,
		ExecutedAt:       a.ExecutedAt,
		ApprovedBy:       a.ApprovedBy,
		ApprovedAt:       a.ApprovedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func toRunResponse(r domain.Run) runResponse {
	out := runResponse{
		RunID:        r.ID,
		CompanyID:    r.CompanyID,
		Status:       r.Status,
		Phase:        r.Phase,
		Locked:       r.Locked(),
		ApprovedBy:   r.ApprovedBy,
		ApprovedAt:   r.ApprovedAt,
		ApprovalNote: r.ApprovalNote,
		Metrics:      r.Metrics,
		CompletedAt:  r.CompletedAt,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, a := range r.Actions {
		out.Actions = append(out.Actions, toActionResponse(a))
	}
	return out
}

type proposeRunRequest struct {
	Actions []autopilot.Proposal `json:"actions"`
}

type decisionRequest struct {
	Note string `json:"note,omitempty"`
}

type executeRequest struct {
	DryRun bool `json:"dry_run,omitempty"`
}

func (api *autopilotAPI) handleSimulateAction(w http.ResponseWriter, r *http.Request) {
	var req autopilot.Proposal
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	res, err := api.svc.SimulateAction(r.Context(), callerFrom(r), r.PathValue("company_id"), req)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, res)
}

func (api *autopilotAPI) handleProposeRun(w http.ResponseWriter, r *http.Request) {
	var req proposeRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	run, err := api.svc.ProposeRun(r.Context(), callerFrom(r), r.PathValue("company_id"), req.Actions)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, toRunResponse(run))
}

func (api *autopilotAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := autopilot.ListRunsFilter{Status: domain.RunStatus(strings.TrimSpace(r.URL.Query().Get("status")))}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_limit")
			return
		}
		filter.Limit = limit
	}
	runs, err := api.svc.ListRuns(r.Context(), callerFrom(r), r.PathValue("company_id"), filter)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunResponse(run))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *autopilotAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := api.svc.GetRun(r.Context(), callerFrom(r), r.PathValue("company_id"), r.PathValue("run_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *autopilotAPI) handleApproveRun(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	run, err := api.svc.ApproveRun(r.Context(), callerFrom(r), r.PathValue("company_id"), r.PathValue("run_id"), req.Note)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *autopilotAPI) handleRejectRun(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	run, err := api.svc.RejectRun(r.Context(), callerFrom(r), r.PathValue("company_id"), r.PathValue("run_id"), req.Note)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toRunResponse(run))
}

func (api *autopilotAPI) handleExecuteRun(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if v := r.URL.Query().Get("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_dry_run")
			return
		}
		req.DryRun = req.DryRun || dryRun
	}
	report, err := api.svc.ExecuteRun(r.Context(), callerFrom(r), r.PathValue("company_id"), r.PathValue("run_id"), autopilot.ExecuteOptions{DryRun: req.DryRun})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, report)
}

func (api *autopilotAPI) handleApproveAction(w http.ResponseWriter, r *http.Request) {
	action, err := api.svc.ApproveAction(r.Context(), callerFrom(r), r.PathValue("company_id"), r.PathValue("action_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toActionResponse(action))
}

func (api *autopilotAPI) handleRejectAction(w http.ResponseWriter, r *http.Request) {
	action, err := api.svc.RejectAction(r.Context(), callerFrom(r), r.PathValue("company_id"), r.PathValue("action_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toActionResponse(action))
}

func callerFrom(r *http.Request) autopilot.Caller {
	identity, _ := auth.IdentityFromContext(r.Context())
	caller := autopilot.CallerFromIdentity(identity)
	caller.IP = auditlog.RemoteIP(r.RemoteAddr)
	caller.UserAgent = r.UserAgent()
	return caller
}

func (api *autopilotAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var stateErr *autopilot.StateError
	switch {
	case errors.Is(err, autopilot.ErrUnauthorized):
		api.writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, autopilot.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.As(err, &stateErr):
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_state", map[string]any{"current_status": stateErr.Current})
	case errors.Is(err, autopilot.ErrLockConflict):
		w.Header().Set("Retry-After", strconv.Itoa(lockRetryAfterSec))
		api.writeError(w, r, http.StatusConflict, "lock_conflict")
	case errors.Is(err, autopilot.ErrValidation):
		httpserver.WriteError(w, r, http.StatusBadRequest, "validation_failed", map[string]any{"message": err.Error()})
	default:
		rid, _ := requestid.FromContext(r.Context())
		api.logger.Error("request failed", "request_id", rid, "method", r.Method, "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *autopilotAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteError(w, r, status, code, nil)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
