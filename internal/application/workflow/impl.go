package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/debt-clearance/internal/application/assignment"
	"github.com/garyjia/debt-clearance/internal/application/dispatcher"
	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/event"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
	domainwf "github.com/garyjia/debt-clearance/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	requests  port.RequestRepository
	approvals port.ApprovalRepository
	txManager port.TransactionManager
	selector  *assignment.Selector

	dispatcher dispatcher.Dispatcher
	sessions   port.SessionStore
	archiver   port.Archiver
	tracer     trace.Tracer
	logger     Logger
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher notified after each committed transition
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithSessionStore clears the acting actor's session after a successful decision
func WithSessionStore(s port.SessionStore) EngineOption {
	return func(e *engineImpl) {
		e.sessions = s
	}
}

// WithArchiver sets the hook run inside the transaction that reaches FINAL_APPROVED
func WithArchiver(a port.Archiver) EngineOption {
	return func(e *engineImpl) {
		e.archiver = a
	}
}

// WithTracer overrides the tracer from the global provider
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *engineImpl) {
		e.tracer = t
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	requests port.RequestRepository,
	approvals port.ApprovalRepository,
	pools port.PoolRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		requests:  requests,
		approvals: approvals,
		txManager: txManager,
		selector:  assignment.NewSelector(pools),
		tracer:    otel.Tracer("github.com/garyjia/debt-clearance/workflow"),
		logger:    nopLogger{},
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// recordDetail is stored as the approval record's JSON detail
type recordDetail struct {
	Action         Action                `json:"action,omitempty"`
	Reason         string                `json:"reason,omitempty"`
	StageStatus    string                `json:"stage_status,omitempty"`
	Submission     *reconcile.Submission `json:"submission,omitempty"`
	Reconciliation *reconcile.Result     `json:"reconciliation,omitempty"`
	Assignee       string                `json:"assignee,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
}

// Create persists a new request in its kind's initial state
func (e *engineImpl) Create(ctx context.Context, cmd CreateCommand) (req *entity.Request, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Create",
		trace.WithAttributes(attribute.String("request.kind", string(cmd.Kind))))
	defer func() { endSpan(span, err) }()

	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	now := e.now()
	initial := domainwf.InitialState(cmd.Kind)
	req = &entity.Request{
		UID:         newUID(),
		Kind:        cmd.Kind,
		Status:      initial.String(),
		Branch:      strings.TrimSpace(cmd.Branch),
		Brand:       strings.TrimSpace(cmd.Brand),
		SubmitterID: cmd.SubmitterID,
		Dataset:     cmd.Dataset,
		Total:       cmd.Total,
		Context:     cmd.Context,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Total.IsZero() && len(req.Dataset) > 0 {
		req.Total = req.DatasetTotal()
	}

	var assignErr error
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		candidate, selErr := e.selectFor(txCtx, req, initial)
		if selErr != nil && !errors.Is(selErr, assignment.ErrEmptyPool) {
			return fmt.Errorf("%w: failed to select assignee: %w", ErrPersistence, selErr)
		}
		if candidate != nil {
			req.CurrentAssigneeID = &candidate.ActorID
			req.CurrentAssigneeRole = &candidate.Role
		} else {
			assignErr = fmt.Errorf("%w: %v", ErrNoEligibleAssignee, selErr)
		}

		if err := e.requests.Create(txCtx, req); err != nil {
			return fmt.Errorf("%w: failed to create request: %w", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to create request", "kind", cmd.Kind, "submitter_id", cmd.SubmitterID, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("request.uid", req.UID))
	if assignErr != nil {
		e.logger.Warn("Request created without assignee", "uid", req.UID, "status", req.Status, "error", assignErr)
	}
	e.logger.Info("Request created", "uid", req.UID, "id", req.ID, "status", req.Status, "assignee", deref(req.CurrentAssigneeID))

	e.emit(ctx, event.TypeRequestCreated, req, 0, "", req.Status, cmd.SubmitterID)
	return req, nil
}

// Decide applies an approver's decision
func (e *engineImpl) Decide(ctx context.Context, cmd DecisionCommand) (result *TransitionResult, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Decide", trace.WithAttributes(
		attribute.Int64("request.id", cmd.RequestID),
		attribute.String("actor.id", cmd.ActorID),
		attribute.String("decision.action", string(cmd.Action)),
	))
	defer func() { endSpan(span, err) }()

	if !cmd.Action.IsValid() || cmd.ActorID == "" {
		return nil, fmt.Errorf("%w: action %q by actor %q", ErrInvalidRequest, cmd.Action, cmd.ActorID)
	}
	if cmd.Action == ActionReportDebt {
		if cmd.Submission == nil {
			return nil, fmt.Errorf("%w: report_debt requires figures", ErrMalformedDataset)
		}
		if cmd.Submission.Mode == reconcile.ModeItemized {
			if err := reconcile.ValidateRows(cmd.Submission.Rows); err != nil {
				return nil, err
			}
		}
	}

	// Snapshot check keeps ineligible callers away from the lock
	snapshot, err := e.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if _, err := e.plan(ctx, snapshot, cmd); err != nil {
		return nil, err
	}

	l, err := acquireLease(ctx, e.requests, cmd.RequestID, cmd.ActorID, e.now(), e.logger)
	if err != nil {
		return nil, err
	}
	defer l.Release(ctx)

	// Re-check against the row as it is under the lock
	req, err := e.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	p, err := e.plan(ctx, req, cmd)
	if err != nil {
		return nil, err
	}

	result = &TransitionResult{
		PreviousStatus: req.Status,
		NewStatus:      p.finalState.String(),
		Reconciliation: p.reconciliation,
	}
	detail := recordDetail{
		Action:         cmd.Action,
		Reason:         cmd.Reason,
		Submission:     cmd.Submission,
		Reconciliation: p.reconciliation,
	}
	if p.finalState != p.stageState {
		detail.StageStatus = p.stageState.String()
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		update := port.RoutingUpdate{Status: p.finalState.String()}

		if roles := p.finalState.StageRoles(); len(roles) > 0 {
			candidate, selErr := e.selectFor(txCtx, req, p.finalState)
			switch {
			case selErr == nil:
				update.AssigneeID = &candidate.ActorID
				update.AssigneeRole = &candidate.Role
				result.Assignee = candidate
				detail.Assignee = candidate.ActorID
			case errors.Is(selErr, assignment.ErrEmptyPool):
				result.AssignmentErr = fmt.Errorf("%w: %v", ErrNoEligibleAssignee, selErr)
				result.Warnings = append(result.Warnings, selErr.Error())
				detail.Warnings = result.Warnings
			default:
				return fmt.Errorf("%w: failed to select assignee: %w", ErrPersistence, selErr)
			}
		}

		record, err := e.appendRecord(txCtx, req, cmd.ActorID, p.role, p.decision, p.finalState, detail)
		if err != nil {
			return err
		}
		result.RecordID = record.ID
		update.UpdatedAt = record.CreatedAt

		if err := e.requests.UpdateRouting(txCtx, req.ID, update); err != nil {
			return fmt.Errorf("%w: failed to update request routing: %w", ErrPersistence, err)
		}

		if p.finalState == domainwf.StateFinalApproved && e.archiver != nil {
			if err := e.archive(txCtx, req.ID); err != nil {
				return err
			}
		}

		if err := l.unlockInTx(txCtx); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Transition failed",
			"request_id", cmd.RequestID,
			"actor_id", cmd.ActorID,
			"action", cmd.Action,
			"error", err,
		)
		return nil, err
	}
	l.markCommitted()

	if result.AssignmentErr != nil {
		e.logger.Warn("Transition completed without next assignee",
			"uid", req.UID, "status", result.NewStatus, "error", result.AssignmentErr)
	}
	e.logger.Info("Transition committed",
		"uid", req.UID,
		"actor_id", cmd.ActorID,
		"previous_status", result.PreviousStatus,
		"new_status", result.NewStatus,
	)

	e.clearSession(ctx, cmd.ActorID)

	result.Request, err = e.load(ctx, req.ID)
	if err != nil {
		// The transition committed; report it even if the re-read failed
		e.logger.Error("Failed to reload request after transition", "request_id", req.ID, "error", err)
		result.Request = req
		err = nil
	}

	e.emit(ctx, p.eventType, result.Request, result.RecordID, result.PreviousStatus, result.NewStatus, cmd.ActorID)
	return result, nil
}

// Resubmit restarts a reversed request with corrected figures
func (e *engineImpl) Resubmit(ctx context.Context, cmd ResubmitCommand) (result *TransitionResult, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow.Resubmit", trace.WithAttributes(
		attribute.Int64("request.id", cmd.RequestID),
		attribute.String("actor.id", cmd.ActorID),
	))
	defer func() { endSpan(span, err) }()

	if len(cmd.Dataset) > 0 {
		if err := reconcile.ValidateRows(cmd.Dataset); err != nil {
			return nil, err
		}
	}
	if err := reconcile.CheckTotal(cmd.Dataset, cmd.Total); err != nil {
		return nil, err
	}

	snapshot, err := e.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if _, err := e.resubmitTarget(ctx, snapshot, cmd.ActorID); err != nil {
		return nil, err
	}

	l, err := acquireLease(ctx, e.requests, cmd.RequestID, cmd.ActorID, e.now(), e.logger)
	if err != nil {
		return nil, err
	}
	defer l.Release(ctx)

	req, err := e.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	target, err := e.resubmitTarget(ctx, req, cmd.ActorID)
	if err != nil {
		return nil, err
	}

	result = &TransitionResult{PreviousStatus: req.Status, NewStatus: target.String()}
	detail := recordDetail{}

	req.Dataset = cmd.Dataset
	req.Total = cmd.Total
	if req.Total.IsZero() && len(req.Dataset) > 0 {
		req.Total = req.DatasetTotal()
	}
	if cmd.Context != "" {
		req.Context = cmd.Context
	}
	req.UpdatedAt = e.now()

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.requests.ResetForResubmit(txCtx, req); err != nil {
			return fmt.Errorf("%w: failed to reset request: %w", ErrPersistence, err)
		}

		update := port.RoutingUpdate{Status: target.String()}
		candidate, selErr := e.selectFor(txCtx, req, target)
		switch {
		case selErr == nil:
			update.AssigneeID = &candidate.ActorID
			update.AssigneeRole = &candidate.Role
			result.Assignee = candidate
			detail.Assignee = candidate.ActorID
		case errors.Is(selErr, assignment.ErrEmptyPool):
			result.AssignmentErr = fmt.Errorf("%w: %v", ErrNoEligibleAssignee, selErr)
			result.Warnings = append(result.Warnings, selErr.Error())
			detail.Warnings = result.Warnings
		default:
			return fmt.Errorf("%w: failed to select assignee: %w", ErrPersistence, selErr)
		}

		record, err := e.appendRecord(txCtx, req, cmd.ActorID, entity.RoleManager, entity.DecisionResubmitted, target, detail)
		if err != nil {
			return err
		}
		result.RecordID = record.ID
		update.UpdatedAt = record.CreatedAt

		if err := e.requests.UpdateRouting(txCtx, req.ID, update); err != nil {
			return fmt.Errorf("%w: failed to update request routing: %w", ErrPersistence, err)
		}
		if err := l.unlockInTx(txCtx); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Resubmission failed", "request_id", cmd.RequestID, "actor_id", cmd.ActorID, "error", err)
		return nil, err
	}
	l.markCommitted()

	e.logger.Info("Request resubmitted", "uid", req.UID, "new_status", result.NewStatus)
	e.clearSession(ctx, cmd.ActorID)

	if result.Request, err = e.load(ctx, req.ID); err != nil {
		e.logger.Error("Failed to reload request after resubmission", "request_id", req.ID, "error", err)
		result.Request = req
		err = nil
	}

	e.emit(ctx, event.TypeRequestCreated, result.Request, result.RecordID, result.PreviousStatus, result.NewStatus, cmd.ActorID)
	return result, nil
}

// plan is the resolved effect of a decision on a request
type plan struct {
	role           entity.Role
	decision       entity.Decision
	stageState     domainwf.State
	finalState     domainwf.State
	eventType      event.Type
	reconciliation *reconcile.Result
}

// plan checks eligibility and resolves the target state without mutating anything
func (e *engineImpl) plan(ctx context.Context, req *entity.Request, cmd DecisionCommand) (*plan, error) {
	state := domainwf.State(req.Status)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: %s", domainwf.ErrInvalidState, req.Status)
	}
	if state.IsTerminal() {
		return nil, fmt.Errorf("%w: request %s is %s", ErrNotEligible, req.UID, req.Status)
	}
	if !req.AssignedTo(cmd.ActorID) || req.CurrentAssigneeRole == nil {
		return nil, fmt.Errorf("%w: %s is not the current assignee of %s", ErrNotEligible, cmd.ActorID, req.UID)
	}
	role := *req.CurrentAssigneeRole

	p := &plan{role: role}
	var trigger domainwf.Trigger
	switch cmd.Action {
	case ActionApprove:
		trigger = domainwf.TriggerApprove
	case ActionReject:
		trigger = domainwf.TriggerReject
	case ActionReportDebt:
		if len(req.Dataset) == 0 {
			return nil, fmt.Errorf("%w: request %s has no original figures to reconcile", ErrNotEligible, req.UID)
		}
		res := reconcile.Compare(reconcile.Baseline(req, cmd.Submission.Mode), *cmd.Submission)
		p.reconciliation = &res
		trigger = domainwf.TriggerApprove
		if res.Outcome() == reconcile.OutcomeReverse {
			trigger = domainwf.TriggerReverse
		}
	}

	machine := MachineFor(req.Kind, state)
	roleCtx := domainwf.WithActorRole(ctx, role)
	next, err := machine.Peek(roleCtx, trigger)
	if err != nil {
		return nil, fmt.Errorf("%w: %s by %s from %s: %v", ErrNotEligible, cmd.Action, role, state, err)
	}
	p.stageState = next
	p.finalState = next

	switch trigger {
	case domainwf.TriggerApprove:
		p.decision = entity.DecisionApproved
		p.eventType = event.TypeRequestAdvanced
		if err := machine.Fire(roleCtx, trigger); err == nil && machine.CanFire(roleCtx, domainwf.TriggerFinalize) {
			final, err := machine.Peek(roleCtx, domainwf.TriggerFinalize)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotEligible, err)
			}
			p.finalState = final
			p.eventType = event.TypeRequestArchived
		}
	case domainwf.TriggerReverse:
		p.decision = entity.DecisionReversed
		p.eventType = event.TypeRequestReversed
	case domainwf.TriggerReject:
		p.decision = entity.DecisionRejected
		p.eventType = event.TypeRequestRejected
	}

	return p, nil
}

func (e *engineImpl) resubmitTarget(ctx context.Context, req *entity.Request, actorID string) (domainwf.State, error) {
	state := domainwf.State(req.Status)
	if req.SubmitterID != actorID {
		return "", fmt.Errorf("%w: only the submitter may resubmit %s", ErrNotEligible, req.UID)
	}
	target, err := MachineFor(req.Kind, state).Peek(domainwf.WithActorRole(ctx, entity.RoleManager), domainwf.TriggerResubmit)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resubmit from %s: %v", ErrNotEligible, state, err)
	}
	return target, nil
}

// selectFor picks the assignee for the stage that holds a request in state
func (e *engineImpl) selectFor(ctx context.Context, req *entity.Request, state domainwf.State) (*assignment.Candidate, error) {
	roles := state.StageRoles()
	if len(roles) == 0 {
		return nil, nil
	}
	return e.selector.SelectFirst(ctx, roles, req.Scope(roles[0]))
}

// appendRecord writes the audit entry, keeping created_at monotonic per request
func (e *engineImpl) appendRecord(
	ctx context.Context,
	req *entity.Request,
	actorID string,
	role entity.Role,
	decision entity.Decision,
	newState domainwf.State,
	detail recordDetail,
) (*entity.ApprovalRecord, error) {
	at := e.now()
	latest, err := e.approvals.Latest(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read latest record: %w", ErrPersistence, err)
	}
	if latest != nil && at.Before(latest.CreatedAt) {
		at = latest.CreatedAt
	}

	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record detail: %w", err)
	}

	record := &entity.ApprovalRecord{
		RequestID:      req.ID,
		ActorID:        actorID,
		Role:           role,
		Decision:       decision,
		PreviousStatus: req.Status,
		NewStatus:      newState.String(),
		Detail:         raw,
		CreatedAt:      at,
	}
	if err := e.approvals.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("%w: failed to append approval record: %w", ErrPersistence, err)
	}
	return record, nil
}

// archive runs the archival hook with the request as it stands inside the transaction
func (e *engineImpl) archive(txCtx context.Context, requestID int64) error {
	final, err := e.requests.GetByID(txCtx, requestID)
	if err != nil || final == nil {
		return fmt.Errorf("%w: failed to reload request for archival: %v", ErrPersistence, err)
	}
	records, err := e.approvals.ListByRequest(txCtx, requestID)
	if err != nil {
		return fmt.Errorf("%w: failed to list records for archival: %w", ErrPersistence, err)
	}
	if err := e.archiver.Archive(txCtx, final, records); err != nil {
		return fmt.Errorf("%w: archival failed: %w", ErrPersistence, err)
	}
	return nil
}

func (e *engineImpl) load(ctx context.Context, id int64) (*entity.Request, error) {
	req, err := e.requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load request %d: %w", ErrPersistence, id, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	return req, nil
}

func (e *engineImpl) clearSession(ctx context.Context, actorID string) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Clear(ctx, actorID); err != nil {
		e.logger.Warn("Failed to clear actor session", "actor_id", actorID, "error", err)
	}
}

func (e *engineImpl) emit(ctx context.Context, eventType event.Type, req *entity.Request, recordID int64, previous, current, actorID string) {
	if e.dispatcher == nil {
		return
	}
	evt := event.NewEvent(eventType, req.ID, req.UID, map[string]interface{}{
		event.PayloadRecordID:       recordID,
		event.PayloadPreviousStatus: previous,
		event.PayloadNewStatus:      current,
		event.PayloadActorID:        actorID,
		event.PayloadRecipientID:    deref(req.CurrentAssigneeID),
	})
	e.dispatcher.DispatchAsync(ctx, evt)
}

func validateCreate(cmd CreateCommand) error {
	switch {
	case !cmd.Kind.IsValid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, cmd.Kind)
	case strings.TrimSpace(cmd.Branch) == "":
		return fmt.Errorf("%w: branch is required", ErrInvalidRequest)
	case strings.TrimSpace(cmd.Brand) == "":
		return fmt.Errorf("%w: brand is required", ErrInvalidRequest)
	case cmd.SubmitterID == "":
		return fmt.Errorf("%w: submitter is required", ErrInvalidRequest)
	}
	if len(cmd.Dataset) > 0 {
		if err := reconcile.ValidateRows(cmd.Dataset); err != nil {
			return err
		}
	}
	return reconcile.CheckTotal(cmd.Dataset, cmd.Total)
}

// newUID returns a short human-facing identifier, e.g. DC-9F2A61C0
func newUID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "DC-" + strings.ToUpper(id[:8])
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
