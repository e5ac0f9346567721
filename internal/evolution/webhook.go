package evolution

import (
	"fmt"
	"strings"

	"wa-gateway/internal/content"
	"wa-gateway/internal/extract"
	"wa-gateway/internal/provider"
)

// Parse normalizes an Evolution-dialect webhook payload. The second return
// is false when the payload is not structurally Evolution-native (no known
// event name, or no data block), so callers delegating to this parser can
// fall through to their own handling.
func Parse(payload any) (provider.WebhookEvent, bool) {
	m, ok := extract.AsMap(payload)
	if !ok {
		if arr, isArr := extract.AsSlice(payload); isArr && len(arr) > 0 {
			m, ok = extract.AsMap(arr[0])
		}
	}
	if !ok || m == nil {
		return provider.WebhookEvent{}, false
	}

	name := NormalizeEventName(extract.FirstString(m, "event", "eventType"))
	if name == "" {
		return provider.WebhookEvent{}, false
	}
	if _, hasMap := extract.AsMap(m["data"]); !hasMap {
		if list, hasList := extract.AsSlice(m["data"]); !hasList || len(list) == 0 {
			return provider.WebhookEvent{}, false
		}
	}
	instance := extract.FirstString(m, "instance", "instanceName", "instance_id", "instanceId")

	switch name {
	case "messages.upsert", "messages":
		return parseMessage(instance, m), true
	case "messages.update", "message.update":
		return parseMessageUpdate(instance, m), true
	case "presence.update", "presence":
		return parsePresence(instance, m), true
	case "connection", "connection.update":
		return parseConnection(instance, m), true
	default:
		return provider.WebhookEvent{}, false
	}
}

// NormalizeEventName lower-cases an event name and collapses the separator
// spellings vendors use (messages-upsert, MESSAGES_UPSERT, messages.upsert)
// into dotted form.
func NormalizeEventName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", ".")
	name = strings.ReplaceAll(name, "_", ".")
	return name
}

func parseMessage(instance string, m map[string]any) provider.WebhookEvent {
	data := dataBlock(m)

	key, _ := extract.AsMap(data["key"])
	remote := extract.FirstString(key, "remoteJid", "remote_jid")
	if remote == "" {
		remote = extract.FirstString(data, "remoteJid", "remote_jid", "sender")
	}
	if remote == "" {
		remote, _ = extract.JID(data)
	}

	fromMe, _ := extract.FirstBool(key, "fromMe", "from_me")

	msgID := extract.FirstString(key, "id")
	if msgID == "" {
		msgID, _ = extract.MessageID(data)
	}

	msgType := strings.ToLower(extract.FirstString(data, "messageType", "message_type", "type"))
	msgType = CollapseTextType(msgType)

	body, _ := extract.AsMap(data["message"])
	text, ok := extract.Text(body)
	if !ok {
		text = content.DisplayText(body, msgType)
	}

	ts, _ := extract.FirstNumber(data, "messageTimestamp", "message_timestamp", "timestamp")
	timestamp := NormalizeTimestamp(ts)
	// Synthesize a stable id so id-less payloads still dedupe on replay.
	if msgID == "" {
		msgID = fmt.Sprintf("%s:%d", extract.BareJID(remote), timestamp)
	}

	return provider.WebhookEvent{
		Event:    provider.EventMessage,
		Instance: instance,
		Data: map[string]any{
			"remote_jid": extract.BareJID(remote),
			"content":    text,
			"from_me":    fromMe,
			"message_id": msgID,
			"timestamp":  timestamp,
			"type":       msgType,
			"push_name":  extract.FirstString(data, "pushName", "push_name", "notifyName"),
		},
	}
}

func parseMessageUpdate(instance string, m map[string]any) provider.WebhookEvent {
	data := dataBlock(m)

	msgID, _ := extract.MessageID(data)
	remote := extract.FirstString(data, "remoteJid", "remote_jid")
	if remote == "" {
		if key, ok := extract.AsMap(data["key"]); ok {
			remote = extract.FirstString(key, "remoteJid", "remote_jid")
		}
	}

	return provider.WebhookEvent{
		Event:    provider.EventMessageUpdate,
		Instance: instance,
		Data: map[string]any{
			"remote_jid": extract.BareJID(remote),
			"message_id": msgID,
			"status":     strings.ToLower(extract.FirstString(data, "status", "state", "update")),
		},
	}
}

func parsePresence(instance string, m map[string]any) provider.WebhookEvent {
	data := dataBlock(m)

	entry := data
	if list, ok := extract.AsSlice(data["presences"]); ok && len(list) > 0 {
		if first, ok := extract.AsMap(list[0]); ok {
			entry = first
		}
	}

	remote := extract.FirstString(entry, "id", "remoteJid", "remote_jid", "participant", "from")
	return provider.WebhookEvent{
		Event:    provider.EventPresence,
		Instance: instance,
		Data: map[string]any{
			"remote_jid": extract.BareJID(remote),
			"presence":   strings.ToLower(extract.FirstString(entry, "presence", "lastKnownPresence", "status")),
		},
	}
}

func parseConnection(instance string, m map[string]any) provider.WebhookEvent {
	data := dataBlock(m)
	return provider.WebhookEvent{
		Event:    provider.EventConnection,
		Instance: instance,
		Data: map[string]any{
			"status": strings.ToLower(extract.FirstString(data, "state", "status", "connection")),
			"raw":    data,
		},
	}
}

// CollapseTextType folds the structural text variants into the canonical
// "text" kind.
func CollapseTextType(msgType string) string {
	switch msgType {
	case "conversation", "extendedtextmessage":
		return "text"
	case "":
		return "text"
	default:
		return msgType
	}
}

// NormalizeTimestamp converts millisecond timestamps to seconds; values in
// seconds pass through unchanged.
func NormalizeTimestamp(ts float64) int64 {
	v := int64(ts)
	if v > 1_000_000_000_000 {
		return v / 1000
	}
	return v
}

// dataBlock returns the payload's data object. Batched deliveries put a
// list there; the first entry is used. Flattened payloads fall back to the
// payload itself.
func dataBlock(m map[string]any) map[string]any {
	if data, ok := extract.AsMap(m["data"]); ok {
		return data
	}
	if list, ok := extract.AsSlice(m["data"]); ok && len(list) > 0 {
		if first, ok := extract.AsMap(list[0]); ok {
			return first
		}
	}
	return m
}
