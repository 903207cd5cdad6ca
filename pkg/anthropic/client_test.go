package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponse_LastText(t *testing.T) {
	tests := []struct {
		name string
		resp *MessageResponse
		want string
	}{
		{
			name: "nil response",
			resp: nil,
			want: "",
		},
		{
			name: "single text block",
			resp: &MessageResponse{Content: []ContentBlock{{Type: "text", Text: "hello"}}},
			want: "hello",
		},
		{
			name: "tool use interleaved with text",
			resp: &MessageResponse{Content: []ContentBlock{
				{Type: "text", Text: "searching..."},
				{Type: "server_tool_use"},
				{Type: "web_search_tool_result"},
				{Type: "text", Text: `{"safety_score": 8}`},
			}},
			want: `{"safety_score": 8}`,
		},
		{
			name: "no text blocks",
			resp: &MessageResponse{Content: []ContentBlock{{Type: "server_tool_use"}}},
			want: "",
		},
		{
			name: "empty trailing text skipped",
			resp: &MessageResponse{Content: []ContentBlock{
				{Type: "text", Text: "answer"},
				{Type: "text", Text: ""},
			}},
			want: "answer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.LastText())
		})
	}
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 0.001)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}
