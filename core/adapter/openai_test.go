package adapter

import (
	"testing"

	"fronix-gateway/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestEndpointURL(t *testing.T) {
	a := NewOpenAIAdapter()

	tests := []struct {
		name string
		base string
		op   string
		want string
	}{
		{"root", "https://api.example.com", OpChatCompletions, "https://api.example.com/chat/completions"},
		{"root slash", "https://api.example.com/", OpChatCompletions, "https://api.example.com/chat/completions"},
		{"v1", "https://api.example.com/v1", OpChatCompletions, "https://api.example.com/v1/chat/completions"},
		{"full chat endpoint kept", "https://api.example.com/v1/chat/completions", OpChatCompletions, "https://api.example.com/v1/chat/completions"},
		{"custom path kept for chat", "https://text.example.com/openai", OpChatCompletions, "https://text.example.com/openai"},
		{"chat endpoint to images", "https://api.example.com/v1/chat/completions", OpImageGenerations, "https://api.example.com/v1/images/generations"},
		{"v1 to edits", "https://api.example.com/v1", OpImageEdits, "https://api.example.com/v1/images/edits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.EndpointURL(tt.base, tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointURL_Invalid(t *testing.T) {
	a := NewOpenAIAdapter()
	for _, base := range []string{"", "   ", "not a url", "/relative/only"} {
		_, err := a.EndpointURL(base, OpChatCompletions)
		assert.Error(t, err, base)
	}
}

func TestBuildChatBody(t *testing.T) {
	a := NewOpenAIAdapter()

	body, err := a.BuildChatBody(models.UpstreamChatRequest{
		Model:        "gpt-4o",
		Messages:     []models.ChatMessage{{Role: "user", Content: "hi"}},
		Stream:       true,
		Functions:    []models.FunctionDefinition{},
		FunctionCall: "auto",
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.0.content").String())
	assert.False(t, gjson.GetBytes(body, "functions").Exists())
	assert.False(t, gjson.GetBytes(body, "function_call").Exists())
	assert.False(t, gjson.GetBytes(body, "max_tokens").Exists())
}

func TestBaseHeaders(t *testing.T) {
	a := NewOpenAIAdapter()
	assert.Equal(t, "text/event-stream", a.BaseHeaders(true).Get("Accept"))
	assert.Equal(t, "application/json", a.BaseHeaders(false).Get("Accept"))
	assert.Empty(t, a.BaseHeaders(true).Get("Authorization"))
}
