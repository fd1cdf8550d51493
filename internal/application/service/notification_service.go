package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garyjia/debt-clearance/internal/application/dispatcher"
	"github.com/garyjia/debt-clearance/internal/application/port"
	"github.com/garyjia/debt-clearance/internal/domain/entity"
	"github.com/garyjia/debt-clearance/internal/domain/event"
	"github.com/garyjia/debt-clearance/internal/domain/reconcile"
)

// NotifiedEvents are the event types the notification service subscribes to
var NotifiedEvents = []event.Type{
	event.TypeRequestCreated,
	event.TypeRequestAdvanced,
	event.TypeRequestReversed,
	event.TypeRequestRejected,
	event.TypeRequestArchived,
	event.TypeRequestReminder,
}

// NotificationService turns request events into chat messages
type NotificationService interface {
	// Subscribe registers the service on the dispatcher for NotifiedEvents
	Subscribe(d dispatcher.Dispatcher)

	// Handle delivers the messages for one event
	Handle(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	requests   port.RequestRepository
	approvals  port.ApprovalRepository
	pools      port.PoolRepository
	transport  port.Transport
	publishing PublishingService
	messages   port.NotificationMessageRepository
	inlineRows int
	logger     Logger
}

// NewNotificationService creates a new NotificationService.
// Datasets with more than inlineRows rows are sent as a published reference.
// Sent prompts and reminders are kept in messages so any instance can retire them.
func NewNotificationService(
	requests port.RequestRepository,
	approvals port.ApprovalRepository,
	pools port.PoolRepository,
	transport port.Transport,
	publishing PublishingService,
	messages port.NotificationMessageRepository,
	inlineRows int,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		requests:   requests,
		approvals:  approvals,
		pools:      pools,
		transport:  transport,
		publishing: publishing,
		messages:   messages,
		inlineRows: inlineRows,
		logger:     orNop(logger),
	}
}

func (s *notificationServiceImpl) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeAll(NotifiedEvents, "notification", s.Handle)
}

func (s *notificationServiceImpl) Handle(ctx context.Context, evt *event.Event) error {
	req, err := s.requests.GetByID(ctx, evt.RequestID)
	if err != nil {
		s.logger.Error("Failed to load request for notification", "error", err, "request_id", evt.RequestID)
		return fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return fmt.Errorf("%w: %d", ErrRequestNotFound, evt.RequestID)
	}

	latest, err := s.approvals.Latest(ctx, req.ID)
	if err != nil {
		s.logger.Error("Failed to load latest approval record", "error", err, "request_id", req.ID)
		return fmt.Errorf("get latest record: %w", err)
	}

	if evt.Type != event.TypeRequestReminder {
		s.retirePrompts(ctx, req, latest)
	}

	recipients, err := s.recipients(ctx, evt, req)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		s.logger.Info("No recipient for event", "type", evt.Type, "uid", req.UID, "status", req.Status)
		return nil
	}

	text := s.render(ctx, evt.Type, req, latest)

	var firstErr error
	for _, recipient := range recipients {
		if evt.Type == event.TypeRequestReminder {
			s.dropReminder(ctx, recipient)
		}

		id, err := s.transport.Send(ctx, port.Message{RecipientID: recipient, Text: text})
		if err != nil {
			s.logger.Error("Failed to send message", "error", err, "uid", req.UID, "recipient_id", recipient)
			if firstErr == nil {
				firstErr = fmt.Errorf("send message to %s: %w", recipient, err)
			}
			continue
		}
		s.remember(ctx, evt.Type, req, recipient, id)
	}

	s.logger.Info("Notification delivered",
		"type", evt.Type,
		"uid", req.UID,
		"recipients", len(recipients),
	)
	return firstErr
}

func (s *notificationServiceImpl) recipients(ctx context.Context, evt *event.Event, req *entity.Request) ([]string, error) {
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		for _, existing := range out {
			if existing == id {
				return
			}
		}
		out = append(out, id)
	}

	switch evt.Type {
	case event.TypeRequestCreated, event.TypeRequestAdvanced, event.TypeRequestReminder:
		add(evt.GetPayloadString(event.PayloadRecipientID))
	case event.TypeRequestRejected, event.TypeRequestArchived:
		add(req.SubmitterID)
	case event.TypeRequestReversed:
		add(req.SubmitterID)
		leaders, err := s.pools.ListEligible(ctx, entity.RoleLeader, req.Scope(entity.RoleLeader))
		if err != nil {
			s.logger.Error("Failed to list brand leaders", "error", err, "brand", req.Brand)
			return nil, fmt.Errorf("list leaders: %w", err)
		}
		for _, m := range leaders {
			add(m.ActorID)
		}
	}
	return out, nil
}

// recordNote is the part of an approval record detail shown to humans
type recordNote struct {
	Reason         string            `json:"reason"`
	Reconciliation *reconcile.Result `json:"reconciliation"`
	Warnings       []string          `json:"warnings"`
}

func (s *notificationServiceImpl) render(ctx context.Context, eventType event.Type, req *entity.Request, latest *entity.ApprovalRecord) string {
	var b strings.Builder

	switch eventType {
	case event.TypeRequestCreated, event.TypeRequestAdvanced:
		fmt.Fprintf(&b, "Request %s awaits your decision\n", req.UID)
	case event.TypeRequestReminder:
		fmt.Fprintf(&b, "Reminder: request %s is still waiting for you\n", req.UID)
	case event.TypeRequestReversed:
		fmt.Fprintf(&b, "Request %s was reversed: reported figures differ\n", req.UID)
	case event.TypeRequestRejected:
		fmt.Fprintf(&b, "Request %s was rejected\n", req.UID)
	case event.TypeRequestArchived:
		fmt.Fprintf(&b, "Request %s is cleared and archived\n", req.UID)
	}
	fmt.Fprintf(&b, "Kind: %s | Branch: %s | Brand: %s\n", req.Kind, req.Branch, req.Brand)
	fmt.Fprintf(&b, "Status: %s\n", req.Status)
	fmt.Fprintf(&b, "Total: %s\n", req.Total.StringFixed(2))
	if req.Context != "" {
		fmt.Fprintf(&b, "Note: %s\n", req.Context)
	}

	s.renderDataset(ctx, &b, req)

	if latest != nil && len(latest.Detail) > 0 {
		var note recordNote
		if err := json.Unmarshal(latest.Detail, &note); err != nil {
			s.logger.Error("Failed to decode record detail", "error", err, "record_id", latest.ID)
		} else {
			if note.Reason != "" {
				fmt.Fprintf(&b, "Reason: %s\n", note.Reason)
			}
			if eventType == event.TypeRequestReversed && note.Reconciliation != nil {
				b.WriteString("Differences:\n")
				for _, d := range note.Reconciliation.Deltas {
					fmt.Fprintf(&b, "  %s: %s -> %s (%s)\n",
						d.Label, d.Original.StringFixed(2), d.Submitted.StringFixed(2), d.Delta.StringFixed(2))
				}
			}
			for _, w := range note.Warnings {
				fmt.Fprintf(&b, "Warning: %s\n", w)
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (s *notificationServiceImpl) renderDataset(ctx context.Context, b *strings.Builder, req *entity.Request) {
	if len(req.Dataset) == 0 {
		return
	}
	if len(req.Dataset) <= s.inlineRows || s.publishing == nil {
		b.WriteString("Figures:\n")
		for _, row := range req.Dataset {
			fmt.Fprintf(b, "  %s: %s\n", row.Label, row.Amount.StringFixed(2))
		}
		return
	}

	url, err := s.publishing.Reference(ctx, req)
	if err != nil {
		s.logger.Error("Failed to publish dataset, sending summary", "error", err, "uid", req.UID)
		fmt.Fprintf(b, "Figures: %d rows (listing unavailable)\n", len(req.Dataset))
		return
	}
	fmt.Fprintf(b, "Figures (%d rows): %s\n", len(req.Dataset), url)
}

// retirePrompts edits earlier actionable messages of the request so stale buttons are not acted on
func (s *notificationServiceImpl) retirePrompts(ctx context.Context, req *entity.Request, latest *entity.ApprovalRecord) {
	prompts, err := s.messages.TakePrompts(ctx, req.ID)
	if err != nil {
		s.logger.Error("Failed to load previous prompts", "error", err, "uid", req.UID)
		return
	}
	if len(prompts) == 0 {
		return
	}
	text := fmt.Sprintf("Request %s has moved on (status %s)", req.UID, req.Status)
	if latest != nil {
		text = fmt.Sprintf("Request %s was handled by %s (status %s)", req.UID, latest.ActorID, req.Status)
	}
	for _, p := range prompts {
		if err := s.transport.Edit(ctx, p.MessageID, text); err != nil {
			s.logger.Error("Failed to edit previous prompt", "error", err, "message_id", p.MessageID)
		}
	}
}

func (s *notificationServiceImpl) dropReminder(ctx context.Context, recipient string) {
	previous, err := s.messages.TakeReminders(ctx, recipient)
	if err != nil {
		s.logger.Error("Failed to load previous reminder", "error", err, "recipient_id", recipient)
		return
	}
	for _, m := range previous {
		if err := s.transport.Delete(ctx, m.MessageID); err != nil {
			s.logger.Error("Failed to delete previous reminder", "error", err, "message_id", m.MessageID)
		}
	}
}

func (s *notificationServiceImpl) remember(ctx context.Context, eventType event.Type, req *entity.Request, recipient, messageID string) {
	var kind entity.MessageKind
	switch eventType {
	case event.TypeRequestCreated, event.TypeRequestAdvanced:
		kind = entity.MessageKindPrompt
	case event.TypeRequestReminder:
		kind = entity.MessageKindReminder
	default:
		return
	}

	msg := &entity.NotificationMessage{
		Kind:        kind,
		RequestID:   req.ID,
		RecipientID: recipient,
		MessageID:   messageID,
	}
	if err := s.messages.Record(ctx, msg); err != nil {
		s.logger.Error("Failed to record sent message", "error", err, "uid", req.UID, "message_id", messageID)
	}
}
