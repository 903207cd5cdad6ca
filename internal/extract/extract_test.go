package extract

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain json",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "fenced with language tag",
			in:   "```json\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "fenced without language tag",
			in:   "```\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "prose before and after",
			in:   `Here is the result: {"a":1} — hope that helps`,
			want: `{"a":1}`,
		},
		{
			name: "prose before fence",
			in:   "Sure, here you go:\n```json\n{\"safety_score\": 8}\n```\nLet me know if you need more.",
			want: `{"safety_score": 8}`,
		},
		{
			name: "nested object with trailing prose",
			in:   `{"analysis":{"verdict":"SAFE"}} and a closing remark`,
			want: `{"analysis":{"verdict":"SAFE"}}`,
		},
		{
			name: "leading whitespace",
			in:   "\n\n  {\"a\": true}  \n",
			want: `{"a": true}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Object(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestObject_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"no braces", "I could not find any information about that restaurant."},
		{"empty", ""},
		{"only opening brace", `{"a":1`},
		{"invalid json inside braces", `{not json at all}`},
		{"reversed braces", "} nothing here {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Object(tt.in)
			require.Error(t, err)

			var malformedErr *MalformedResponseError
			require.True(t, errors.As(err, &malformedErr))
		})
	}
}

func TestObject_PreviewTruncated(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	_, err := Object(raw)
	require.Error(t, err)

	var malformedErr *MalformedResponseError
	require.True(t, errors.As(err, &malformedErr))
	assert.Len(t, malformedErr.Preview, previewLimit)
}

func TestObject_KeepsRawFieldOrderIntact(t *testing.T) {
	in := "```json\n{\"b\": 2, \"a\": 1}\n```"
	got, err := Object(in)
	require.NoError(t, err)

	var decoded map[string]json.Number
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, json.Number("2"), decoded["b"])
}
