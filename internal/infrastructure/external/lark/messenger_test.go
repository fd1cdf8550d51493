package lark

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
)

func TestCardContent(t *testing.T) {
	content, err := cardContent("Request DC-1 \"awaits\"\nTotal: 10.00")
	require.NoError(t, err)

	var decoded card
	require.NoError(t, json.Unmarshal([]byte(content), &decoded))
	assert.True(t, decoded.Config.UpdateMulti)
	require.Len(t, decoded.Elements, 1)
	assert.Equal(t, "markdown", decoded.Elements[0].Tag)
	assert.Equal(t, "Request DC-1 \"awaits\"\nTotal: 10.00", decoded.Elements[0].Content)
}

func TestMessenger_SendValidation(t *testing.T) {
	sdk := NewSDKClient(Config{AppID: "cli_test", AppSecret: "secret"}, zap.NewNop())
	m := NewMessenger(sdk, zap.NewNop())

	tests := []struct {
		name string
		msg  port.Message
	}{
		{"empty recipient", port.Message{Text: "hello"}},
		{"empty text", port.Message{RecipientID: "ou_123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Send(context.Background(), tt.msg)
			assert.Error(t, err)
		})
	}
}

func TestConfig(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{AppID: "cli"}.Enabled())
	assert.True(t, Config{AppID: "cli", AppSecret: "s"}.Enabled())

	sdk := NewSDKClient(Config{AppID: "cli", AppSecret: "s"}, zap.NewNop())
	assert.Equal(t, "open_id", sdk.receiveIDType)
	assert.Equal(t, "cli", sdk.GetAppID())
	assert.NotNil(t, sdk.GetClient())
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport(zap.NewNop())
	ctx := context.Background()

	id, err := tr.Send(ctx, port.Message{RecipientID: "ou_1", Text: "hi"})
	require.NoError(t, err)
	assert.Contains(t, id, "log-")
	assert.NoError(t, tr.Edit(ctx, id, "edited"))
	assert.NoError(t, tr.Delete(ctx, id))
	assert.Equal(t, int64(1), tr.Sent())
}
