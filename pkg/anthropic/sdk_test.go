package anthropic

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:           "msg_test_123",
		Model:        "claude-sonnet-4-5-20250929",
		StopReason:   "end_turn",
		StopSequence: "STOP",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello world"},
			{Type: "text", Text: "Second block"},
		},
		Usage: sdk.Usage{
			InputTokens:              100,
			OutputTokens:             50,
			CacheCreationInputTokens: 2000,
			CacheReadInputTokens:     3000,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "STOP", resp.StopSequence)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "Hello world", resp.Content[0].Text)
	assert.Equal(t, "Second block", resp.Content[1].Text)
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
	assert.Equal(t, int64(50), resp.Usage.OutputTokens)
	assert.Equal(t, int64(2000), resp.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(3000), resp.Usage.CacheReadInputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:         "msg_empty",
		Model:      "claude-haiku-4-5-20251001",
		StopReason: "max_tokens",
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, int64(0), resp.Usage.InputTokens)
}

func TestToSDKMessages_UserRole(t *testing.T) {
	msgs := toSDKMessages([]Message{{Role: "user", Content: "What is the street rate?"}})

	require.Len(t, msgs, 1)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
}

func TestToSDKMessages_AssistantRole(t *testing.T) {
	msgs := toSDKMessages([]Message{{Role: "assistant", Content: "About $1.20 per sqft."}})

	require.Len(t, msgs, 1)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[0].Role)
}

func TestToSDKMessages_MixedRoles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "Question"},
		{Role: "assistant", Content: "Answer"},
		{Role: "user", Content: "Follow-up"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)
}

func TestToSDKMessages_UnknownRoleDefaultsToUser(t *testing.T) {
	msgs := toSDKMessages([]Message{{Role: "system", Content: "odd"}})

	require.Len(t, msgs, 1)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
}

func TestToSDKMessages_Empty(t *testing.T) {
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks_NoCacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{{Text: "plain system prompt"}})

	require.Len(t, blocks, 1)
	assert.Equal(t, "plain system prompt", blocks[0].Text)
	assert.Zero(t, blocks[0].CacheControl.Type)
}

func TestToSDKSystemBlocks_WithCacheControl(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "cached prompt", CacheControl: &CacheControl{TTL: "1h"}},
	})

	require.Len(t, blocks, 1)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), blocks[0].CacheControl.TTL)
}

func TestToSDKSystemBlocks_WithEmptyTTL(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "cached prompt", CacheControl: &CacheControl{}},
	})

	require.Len(t, blocks, 1)
	assert.NotZero(t, blocks[0].CacheControl.Type, "ephemeral cache control set even without TTL")
}

func TestToSDKSystemBlocks_Multiple(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "first"},
		{Text: "second", CacheControl: &CacheControl{TTL: "5m"}},
	})

	require.Len(t, blocks, 2)
	assert.Equal(t, "first", blocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("5m"), blocks[1].CacheControl.TTL)
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	client := NewClient("test-key")
	assert.NotNil(t, client)
}

func TestMessageRequest_Fields(t *testing.T) {
	temp := 0.2
	req := MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   256,
		System:      []SystemBlock{{Text: "analyst"}},
		Messages:    []Message{{Role: "user", Content: "rate?"}},
		Temperature: &temp,
	}

	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	assert.Equal(t, int64(256), req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 1e-9)
}

func TestTokenUsage_Fields(t *testing.T) {
	u := TokenUsage{
		InputTokens:              1,
		OutputTokens:             2,
		CacheCreationInputTokens: 3,
		CacheReadInputTokens:     4,
	}

	assert.Equal(t, int64(1), u.InputTokens)
	assert.Equal(t, int64(2), u.OutputTokens)
	assert.Equal(t, int64(3), u.CacheCreationInputTokens)
	assert.Equal(t, int64(4), u.CacheReadInputTokens)
}

func TestContentBlock_Fields(t *testing.T) {
	b := ContentBlock{Type: "text", Text: "hello"}
	assert.Equal(t, "text", b.Type)
	assert.Equal(t, "hello", b.Text)
}
