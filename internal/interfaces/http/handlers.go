package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/application/service"
	"github.com/garyjia/debt-clearance/internal/application/workflow"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// TransitionResponse is a committed transition as returned to clients
type TransitionResponse struct {
	*workflow.TransitionResult
	Unassigned bool `json:"unassigned,omitempty"`
}

// DecisionRequest is the JSON body of POST /api/requests/:id/decisions.
// For report_debt exactly one of Rows, Itemized, Aggregate or AggregateText carries the figures.
type DecisionRequest struct {
	ActorID       string              `json:"actor_id"`
	Action        workflow.Action     `json:"action"`
	Reason        string              `json:"reason,omitempty"`
	Rows          []entity.DatasetRow `json:"rows,omitempty"`
	Itemized      string              `json:"itemized,omitempty"`
	Aggregate     *decimal.Decimal    `json:"aggregate,omitempty"`
	AggregateText string              `json:"aggregate_text,omitempty"`
}

// decisionForm is the multipart variant; the spreadsheet travels as the "dataset" file
type decisionForm struct {
	ActorID   string `form:"actor_id"`
	Action    string `form:"action"`
	Reason    string `form:"reason"`
	Itemized  string `form:"itemized"`
	Aggregate string `form:"aggregate"`
}

// SessionRequest is the body of PUT /api/actors/:actor/session
type SessionRequest struct {
	Context string          `json:"context"`
	State   string          `json:"state"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PoolMemberRequest is the body of POST /api/pool
type PoolMemberRequest struct {
	ActorID   string           `json:"actor_id"`
	Role      entity.Role      `json:"role"`
	ScopeType entity.ScopeType `json:"scope_type"`
	ScopeID   *string          `json:"scope_id,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}

	status := http.StatusOK
	if h.deps.Health != nil {
		response.Components = h.deps.Health(c.Request.Context())
		for _, state := range response.Components {
			if state != "ok" {
				response.Status = "degraded"
				status = http.StatusServiceUnavailable
				break
			}
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateRequest handles POST /api/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var cmd workflow.CreateCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	req, err := h.deps.Engine.Create(c.Request.Context(), cmd)
	if err != nil {
		h.writeError(c, "Failed to create request", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    req,
	})
}

// GetRequest handles GET /api/requests/:id. A non-numeric id is looked up as a request UID.
func (h *Handlers) GetRequest(c *gin.Context) {
	idStr := c.Param("id")

	var (
		req *entity.Request
		err error
	)
	if id, parseErr := strconv.ParseInt(idStr, 10, 64); parseErr == nil {
		req, err = h.deps.Queries.GetRequest(c.Request.Context(), id)
	} else {
		req, err = h.deps.Queries.GetRequestByUID(c.Request.Context(), idStr)
	}
	if err != nil {
		h.writeError(c, "Failed to get request", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    req,
	})
}

// GetHistory handles GET /api/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	records, err := h.deps.Queries.History(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    records,
	})
}

// Decide handles POST /api/requests/:id/decisions
func (h *Handlers) Decide(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var (
		cmd workflow.DecisionCommand
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		cmd, err = h.decisionFromForm(c)
	} else {
		cmd, err = h.decisionFromJSON(c)
	}
	if err != nil {
		h.writeError(c, "Invalid decision", err)
		return
	}
	cmd.RequestID = id

	result, err := h.deps.Engine.Decide(c.Request.Context(), cmd)
	if err != nil {
		h.writeError(c, "Failed to apply decision", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toTransitionResponse(result),
	})
}

func (h *Handlers) decisionFromJSON(c *gin.Context) (workflow.DecisionCommand, error) {
	var body DecisionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return workflow.DecisionCommand{}, fmt.Errorf("%w: %v", workflow.ErrInvalidRequest, err)
	}

	cmd := workflow.DecisionCommand{
		ActorID: body.ActorID,
		Action:  body.Action,
		Reason:  body.Reason,
	}

	var (
		sub reconcile.Submission
		err error
	)
	switch {
	case len(body.Rows) > 0:
		sub = reconcile.Itemized(body.Rows)
	case strings.TrimSpace(body.Itemized) != "":
		sub, err = reconcile.ParseItemized(body.Itemized)
	case body.Aggregate != nil:
		sub = reconcile.Aggregate(*body.Aggregate)
	case strings.TrimSpace(body.AggregateText) != "":
		sub, err = reconcile.ParseAggregate(body.AggregateText)
	default:
		return cmd, nil
	}
	if err != nil {
		return cmd, err
	}
	cmd.Submission = &sub
	return cmd, nil
}

func (h *Handlers) decisionFromForm(c *gin.Context) (workflow.DecisionCommand, error) {
	var form decisionForm
	if err := c.ShouldBind(&form); err != nil {
		return workflow.DecisionCommand{}, fmt.Errorf("%w: %v", workflow.ErrInvalidRequest, err)
	}

	cmd := workflow.DecisionCommand{
		ActorID: form.ActorID,
		Action:  workflow.Action(form.Action),
		Reason:  form.Reason,
	}

	var (
		sub reconcile.Submission
		err error
	)
	if header, fileErr := c.FormFile("dataset"); fileErr == nil {
		if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
			return cmd, fmt.Errorf("%w: %s is not an .xlsx workbook", reconcile.ErrMalformedDataset, header.Filename)
		}
		if h.deps.Parser == nil {
			return cmd, fmt.Errorf("%w: spreadsheet uploads are not enabled", workflow.ErrInvalidRequest)
		}

		file, err := header.Open()
		if err != nil {
			return cmd, fmt.Errorf("%w: %v", workflow.ErrInvalidRequest, err)
		}
		defer file.Close()

		rows, err := h.deps.Parser.Parse(c.Request.Context(), file)
		if err != nil {
			return cmd, err
		}
		sub = reconcile.Itemized(rows)
	} else {
		switch {
		case strings.TrimSpace(form.Itemized) != "":
			sub, err = reconcile.ParseItemized(form.Itemized)
		case strings.TrimSpace(form.Aggregate) != "":
			sub, err = reconcile.ParseAggregate(form.Aggregate)
		default:
			return cmd, nil
		}
		if err != nil {
			return cmd, err
		}
	}

	cmd.Submission = &sub
	return cmd, nil
}

// Resubmit handles POST /api/requests/:id/resubmit
func (h *Handlers) Resubmit(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var cmd workflow.ResubmitCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	cmd.RequestID = id

	result, err := h.deps.Engine.Resubmit(c.Request.Context(), cmd)
	if err != nil {
		h.writeError(c, "Failed to resubmit request", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toTransitionResponse(result),
	})
}

// HasActed handles GET /api/requests/:id/actors/:actor/acted
func (h *Handlers) HasActed(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	acted, err := h.deps.Queries.HasActed(c.Request.Context(), id, c.Param("actor"))
	if err != nil {
		h.writeError(c, "Failed to check actor history", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"acted": acted},
	})
}

// ListAssigned handles GET /api/actors/:actor/requests?status=A,B&limit=N
func (h *Handlers) ListAssigned(c *gin.Context) {
	var filter port.RequestFilter
	for _, value := range c.QueryArray("status") {
		for _, status := range strings.Split(value, ",") {
			if status = strings.TrimSpace(status); status != "" {
				filter.Statuses = append(filter.Statuses, status)
			}
		}
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.badRequest(c, "invalid limit", err)
			return
		}
		filter.Limit = n
	}

	requests, err := h.deps.Queries.AssignedTo(c.Request.Context(), c.Param("actor"), filter)
	if err != nil {
		h.writeError(c, "Failed to list assigned requests", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    requests,
	})
}

// GetQueue handles GET /api/actors/:actor/queue
func (h *Handlers) GetQueue(c *gin.Context) {
	split, err := h.deps.Queries.Split(c.Request.Context(), c.Param("actor"))
	if err != nil {
		h.writeError(c, "Failed to split queue", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    split,
	})
}

// GetReminder handles GET /api/actors/:actor/reminder. Data is null when nothing is stale.
func (h *Handlers) GetReminder(c *gin.Context) {
	req, err := h.deps.Queries.Reminder(c.Request.Context(), c.Param("actor"))
	if err != nil {
		h.writeError(c, "Failed to get reminder", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    req,
	})
}

// GetSession handles GET /api/actors/:actor/session
func (h *Handlers) GetSession(c *gin.Context) {
	session, err := h.deps.Sessions.Get(c.Request.Context(), c.Param("actor"))
	if err != nil {
		h.writeError(c, "Failed to get session", err)
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "session not found",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    session,
	})
}

// PutSession handles PUT /api/actors/:actor/session
func (h *Handlers) PutSession(c *gin.Context) {
	var body SessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	session := &entity.ActorSession{
		ActorID:   c.Param("actor"),
		Context:   body.Context,
		State:     body.State,
		Payload:   body.Payload,
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.deps.Sessions.Put(c.Request.Context(), session); err != nil {
		h.writeError(c, "Failed to save session", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    session,
	})
}

// ClearSession handles DELETE /api/actors/:actor/session
func (h *Handlers) ClearSession(c *gin.Context) {
	if err := h.deps.Sessions.Clear(c.Request.Context(), c.Param("actor")); err != nil {
		h.writeError(c, "Failed to clear session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddPoolMember handles POST /api/pool
func (h *Handlers) AddPoolMember(c *gin.Context) {
	var body PoolMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}
	if strings.TrimSpace(body.ActorID) == "" || !body.Role.IsApprover() {
		h.badRequest(c, "actor_id and an approver role are required", nil)
		return
	}
	if body.ScopeType != entity.ScopeBranch && body.ScopeType != entity.ScopeBrand {
		h.badRequest(c, "scope_type must be branch or brand", nil)
		return
	}

	membership := &entity.PoolMembership{
		ActorID:   body.ActorID,
		Role:      body.Role,
		ScopeType: body.ScopeType,
		ScopeID:   body.ScopeID,
		BoundAt:   time.Now().UTC(),
	}
	if err := h.deps.Pools.Add(c.Request.Context(), membership); err != nil {
		h.writeError(c, "Failed to add pool member", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    membership,
	})
}

func (h *Handlers) requestID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.logger.Error("Invalid request ID", "id", idStr, "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request ID",
		})
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error("Bad request", "path", c.Request.URL.Path, "message", msg, "error", err)
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
	})
}

// writeError maps application errors to status codes. Persistence details stay in the log.
func (h *Handlers) writeError(c *gin.Context, msg string, err error) {
	status, public := statusFor(err)
	h.logger.Error(msg, "path", c.Request.URL.Path, "status", status, "error", err)
	c.JSON(status, Response{
		Success: false,
		Error:   public,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, workflow.ErrNotEligible):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, workflow.ErrAlreadyInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, reconcile.ErrMalformedDataset):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, workflow.ErrRequestNotFound), errors.Is(err, service.ErrRequestNotFound):
		return http.StatusNotFound, "request not found"
	case errors.Is(err, workflow.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func toTransitionResponse(result *workflow.TransitionResult) TransitionResponse {
	return TransitionResponse{
		TransitionResult: result,
		Unassigned:       errors.Is(result.AssignmentErr, workflow.ErrNoEligibleAssignee),
	}
}
