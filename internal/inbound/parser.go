// Package inbound extracts normalized sender/text events from webhook deliveries.
package inbound

import (
	"encoding/json"
	"log/slog"

	"github.com/ashureev/studyrelay/internal/domain"
	"github.com/ashureev/studyrelay/internal/identity"
)

// MessageTypeText is the only message type turned into an event.
const MessageTypeText = "text"

// Parse extracts the first text message of a webhook body. It tries the Meta
// entry/changes/value/messages shape first, then the flat {from, message}
// shape. The boolean is false when the body carries no usable text event.
func Parse(body []byte) (domain.InboundEvent, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		slog.Debug("Webhook body is not a JSON object", "error", err)
		return domain.InboundEvent{}, false
	}

	if entries, ok := raw["entry"]; ok {
		if msg, found := firstMetaMessage(entries); found {
			return eventFromMeta(msg)
		}
	}

	return parseFlat(body)
}

// firstMetaMessage returns entry[0].changes[0].value.messages[0] when every
// level along the path is present.
func firstMetaMessage(entries json.RawMessage) (Message, bool) {
	var list []Entry
	if err := json.Unmarshal(entries, &list); err != nil {
		slog.Debug("Webhook entry list is malformed", "error", err)
		return Message{}, false
	}
	if len(list) == 0 || len(list[0].Changes) == 0 {
		return Message{}, false
	}
	msgs := list[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[0], true
}

func eventFromMeta(msg Message) (domain.InboundEvent, bool) {
	if msg.Type != "" && msg.Type != MessageTypeText {
		slog.Debug("Ignoring non-text message", "type", msg.Type)
		return domain.InboundEvent{}, false
	}
	if msg.Text == nil {
		return domain.InboundEvent{}, false
	}
	return newEvent(msg.From, msg.Text.Body)
}

func parseFlat(body []byte) (domain.InboundEvent, bool) {
	var flat flatMessage
	if err := json.Unmarshal(body, &flat); err != nil {
		return domain.InboundEvent{}, false
	}
	if flat.From == "" {
		return domain.InboundEvent{}, false
	}
	return newEvent(flat.From, flat.Message)
}

func newEvent(from, text string) (domain.InboundEvent, bool) {
	sender, ok := identity.NormalizeSender(from)
	if !ok {
		slog.Debug("Ignoring message with invalid sender", "from", from)
		return domain.InboundEvent{}, false
	}
	return domain.InboundEvent{Sender: sender, Text: text}, true
}
