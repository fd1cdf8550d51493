package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
)

// Messenger implements port.Transport over the Lark IM API.
// Messages are sent as single-element interactive cards so they can be patched later.
type Messenger struct {
	sdk    *SDKClient
	logger *zap.Logger
}

// NewMessenger creates a new Lark transport
func NewMessenger(sdk *SDKClient, logger *zap.Logger) *Messenger {
	return &Messenger{
		sdk:    sdk,
		logger: logger,
	}
}

// Send delivers a message and returns the Lark message id
func (m *Messenger) Send(ctx context.Context, msg port.Message) (string, error) {
	if msg.RecipientID == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if msg.Text == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	content, err := cardContent(msg.Text)
	if err != nil {
		return "", err
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(m.sdk.receiveIDType).
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(msg.RecipientID).
			MsgType("interactive").
			Content(content).
			Build()).
		Build()

	resp, err := m.sdk.client.Im.Message.Create(ctx, req)
	if err != nil {
		m.logger.Error("Failed to send message",
			zap.String("receive_id", msg.RecipientID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		m.logger.Error("API returned failure",
			zap.String("receive_id", msg.RecipientID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	m.logger.Info("Message sent successfully",
		zap.String("message_id", messageID),
		zap.String("receive_id", msg.RecipientID))

	return messageID, nil
}

// Edit replaces the card body of a sent message
func (m *Messenger) Edit(ctx context.Context, messageID string, text string) error {
	content, err := cardContent(text)
	if err != nil {
		return err
	}

	req := larkIm.NewPatchMessageReqBuilder().
		MessageId(messageID).
		Body(larkIm.NewPatchMessageReqBodyBuilder().
			Content(content).
			Build()).
		Build()

	resp, err := m.sdk.client.Im.Message.Patch(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	if !resp.Success() {
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	m.logger.Debug("Message edited", zap.String("message_id", messageID))
	return nil
}

// Delete recalls a sent message
func (m *Messenger) Delete(ctx context.Context, messageID string) error {
	req := larkIm.NewDeleteMessageReqBuilder().
		MessageId(messageID).
		Build()

	resp, err := m.sdk.client.Im.Message.Delete(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	if !resp.Success() {
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	m.logger.Debug("Message deleted", zap.String("message_id", messageID))
	return nil
}

type card struct {
	Config   cardConfig    `json:"config"`
	Elements []cardElement `json:"elements"`
}

type cardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
	UpdateMulti    bool `json:"update_multi"`
}

type cardElement struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

func cardContent(text string) (string, error) {
	raw, err := json.Marshal(card{
		Config:   cardConfig{WideScreenMode: true, UpdateMulti: true},
		Elements: []cardElement{{Tag: "markdown", Content: text}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal card content: %w", err)
	}
	return string(raw), nil
}

var _ port.Transport = (*Messenger)(nil)
