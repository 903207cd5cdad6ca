// Package extract recovers a structured JSON object from raw model output.
// Responses arrive as plain JSON, JSON inside a markdown code fence, or JSON
// surrounded by explanatory prose; all three shapes must parse to the same
// object.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

const fence = "```"

// previewLimit bounds how much raw text a MalformedResponseError carries.
const previewLimit = 200

// MalformedResponseError reports that no JSON object could be recovered from
// the model's response. Preview holds the raw text truncated for diagnostics.
type MalformedResponseError struct {
	Preview string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed model response: %v (preview: %q)", e.Err, e.Preview)
	}
	return fmt.Sprintf("malformed model response: no JSON object found (preview: %q)", e.Preview)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

func malformed(raw string, err error) *MalformedResponseError {
	preview := raw
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	return &MalformedResponseError{Preview: preview, Err: err}
}

// Object extracts the JSON object embedded in raw model text. Code fences and
// surrounding prose are stripped; the span from the first "{" to the last "}"
// is parsed. Failure to recover or parse an object returns a
// *MalformedResponseError; individual missing fields inside a parsed object
// are the caller's concern.
func Object(raw string) (json.RawMessage, error) {
	text := strings.TrimSpace(raw)

	if strings.Contains(text, fence) {
		text = unfence(text)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, malformed(raw, nil)
	}
	text = text[start : end+1]

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, malformed(raw, err)
	}
	return json.RawMessage(text), nil
}

// unfence splits fenced text into segments and returns the first one that
// contains an opening brace, with any leading language tag removed.
func unfence(text string) string {
	for _, seg := range strings.Split(text, fence) {
		seg = stripLangTag(seg)
		if strings.Contains(seg, "{") {
			return seg
		}
	}
	return text
}

// stripLangTag drops a leading fence language tag such as "json" when the
// segment's first line is a bare word.
func stripLangTag(seg string) string {
	trimmed := strings.TrimLeft(seg, "\r\n")
	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		return seg
	}
	tag := strings.TrimSpace(trimmed[:nl])
	if tag == "" || !isWord(tag) {
		return seg
	}
	return trimmed[nl+1:]
}

func isWord(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
