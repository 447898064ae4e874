package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ReplyKind tags how a reply was obtained from the webhook payload.
type ReplyKind string

const (
	// ReplyText is a payload that was a bare string.
	ReplyText ReplyKind = "text"
	// ReplyField is a payload object carrying one of the known reply fields.
	ReplyField ReplyKind = "field"
	// ReplyRaw is any other payload, serialized as-is.
	ReplyRaw ReplyKind = "raw"
)

// replyFields are checked in priority order.
var replyFields = []string{"output", "response", "message", "text"}

// Reply is the decoded webhook answer.
type Reply struct {
	Kind  ReplyKind `json:"kind"`
	Field string    `json:"field,omitempty"`
	Text  string    `json:"text"`
}

var errEmptyReply = errors.New("empty reply")

// DecodeReply turns a JSON webhook payload into a Reply.
func DecodeReply(data []byte) (Reply, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Reply{}, errEmptyReply
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return Reply{}, err
	}

	if text, ok := payload.(string); ok {
		return Reply{Kind: ReplyText, Text: text}, nil
	}

	// n8n answers with every item of the last node; a single item is unwrapped.
	if items, ok := payload.([]any); ok && len(items) == 1 {
		if _, isObject := items[0].(map[string]any); isObject {
			payload = items[0]
		}
	}

	if object, ok := payload.(map[string]any); ok {
		for _, field := range replyFields {
			value, present := object[field]
			if !present || isBlank(value) {
				continue
			}
			text, err := stringify(value)
			if err != nil {
				return Reply{}, err
			}
			return Reply{Kind: ReplyField, Field: field, Text: text}, nil
		}
	}

	return Reply{Kind: ReplyRaw, Text: string(compact(data))}, nil
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		return !v
	}
	return false
}

func stringify(value any) (string, error) {
	if text, ok := value.(string); ok {
		return text, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func compact(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return data
	}
	return buf.Bytes()
}
