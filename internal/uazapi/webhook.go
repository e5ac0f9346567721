package uazapi

import (
	"fmt"
	"strings"

	"wa-gateway/internal/evolution"
	"wa-gateway/internal/extract"
	"wa-gateway/internal/provider"
)

// ParseWebhook normalizes an inbound payload through a detection cascade,
// first match wins:
//
//  1. the native v2 shape: a top-level event-type marker with a nested
//     "chat" object;
//  2. the Evolution-compatible shape, delegated to that parser;
//  3. manual dispatch by normalized event name with tolerant fallback
//     parsers.
//
// It never fails: anything unrecognized degrades to an unknown event
// carrying the raw payload.
func (c *Client) ParseWebhook(payload any) provider.WebhookEvent {
	return ParseWebhook(payload)
}

// ParseWebhook is the package-level entry used by the adapter and by tests.
func ParseWebhook(payload any) provider.WebhookEvent {
	m, ok := extract.AsMap(payload)
	if !ok {
		if arr, isArr := extract.AsSlice(payload); isArr && len(arr) > 0 {
			m, ok = extract.AsMap(arr[0])
		}
	}
	if !ok || m == nil {
		return provider.UnknownEvent("", payload)
	}

	if evt, matched := parseChatEvent(m); matched {
		return evt
	}

	if evt, matched := evolution.Parse(m); matched && evt.Event != "" {
		return evt
	}

	instance := extract.FirstString(m, "instance", "instanceName", "instance_id", "instanceId")
	name := evolution.NormalizeEventName(extract.FirstString(m, "event", "EventType", "type"))
	switch name {
	case "messages.upsert", "messages":
		return parseMessageFallback(instance, m)
	case "presence.update", "presence":
		return parsePresenceFallback(instance, m)
	case "connection", "connection.update":
		return parseConnectionFallback(instance, m)
	default:
		return provider.UnknownEvent(instance, payload)
	}
}

// parseChatEvent handles the native v2 shape: an event-type marker paired
// with a "chat" object summarizing the conversation.
func parseChatEvent(m map[string]any) (provider.WebhookEvent, bool) {
	eventType := extract.FirstString(m, "EventType", "event", "type")
	chat, ok := extract.AsMap(m["chat"])
	if eventType == "" || !ok {
		return provider.WebhookEvent{}, false
	}

	chatID := extract.FirstString(chat, "wa_chatid", "chatid", "id")
	remoteRaw := preferPlainID(
		extract.FirstString(chat, "wa_chatid", "chatid"),
		extract.FirstString(chat, "wa_fastid", "wa_lid", "id"),
	)
	phone := extract.Digits(extract.FirstString(chat, "phone", "wa_phone"))
	if phone == "" {
		phone = extract.Digits(remoteRaw)
	}
	remoteJID := extract.BareJID(remoteRaw)
	if remoteJID == "" {
		remoteJID = phone
	}

	owner := extract.FirstString(m, "owner")
	if owner == "" {
		owner = extract.FirstString(chat, "owner", "wa_owner")
	}
	sender := extract.FirstString(chat, "wa_lastMsgSender", "wa_sender", "sender", "lastSender", "participant")

	ts, _ := extract.FirstNumber(chat, "wa_lastMsgTimestamp", "wa_lastMessageTimestamp", "timestamp", "t")
	timestamp := evolution.NormalizeTimestamp(ts)

	msgID, found := extract.MessageID(chat)
	if !found {
		// No native id in the chat summary; synthesize a stable one.
		msgID = fmt.Sprintf("%s:%d", chatID, timestamp)
	}

	msgType := strings.ToLower(extract.FirstString(chat, "wa_lastMessageType", "messageType", "type"))
	msgType = evolution.CollapseTextType(msgType)

	evt := provider.WebhookEvent{
		Event:    chatEventKind(eventType),
		Instance: extract.FirstString(m, "instance", "instanceName", "instance_id"),
		Data: map[string]any{
			"remote_jid": remoteJID,
			"content":    extract.FirstString(chat, "wa_lastMessageTextVote", "wa_lastMessageText", "wa_lastMessage", "lastMessage", "text"),
			"from_me":    sameParty(owner, sender),
			"message_id": msgID,
			"timestamp":  timestamp,
			"type":       msgType,
			"push_name":  extract.FirstString(chat, "wa_contactName", "wa_name", "name", "pushName"),
		},
	}
	return evt, true
}

// preferPlainID picks the plain-number identifier over the anonymized
// linked-identifier form when both are present.
func preferPlainID(primary, secondary string) string {
	if primary != "" && !strings.HasSuffix(primary, "@lid") {
		return primary
	}
	if secondary != "" && !strings.HasSuffix(secondary, "@lid") {
		return secondary
	}
	if primary != "" {
		return primary
	}
	return secondary
}

// sameParty reports whether the connection owner sent the message: equal
// digit-only forms, or one identifier containing the other.
func sameParty(owner, sender string) bool {
	ownerDigits := extract.Digits(owner)
	senderDigits := extract.Digits(sender)
	if ownerDigits == "" || senderDigits == "" {
		return false
	}
	return ownerDigits == senderDigits ||
		strings.Contains(senderDigits, ownerDigits) ||
		strings.Contains(ownerDigits, senderDigits)
}

// chatEventKind maps the v2 event-type marker onto a canonical kind. The
// chat shape accompanies message traffic, so that is the default.
func chatEventKind(eventType string) string {
	name := evolution.NormalizeEventName(eventType)
	switch {
	case strings.Contains(name, "presence"):
		return provider.EventPresence
	case strings.Contains(name, "connection"):
		return provider.EventConnection
	case strings.HasPrefix(name, "message") && strings.Contains(name, "update"):
		return provider.EventMessageUpdate
	default:
		return provider.EventMessage
	}
}

// parseMessageFallback locates a message object among the nesting points
// older payload versions used and normalizes it.
func parseMessageFallback(instance string, m map[string]any) provider.WebhookEvent {
	data, ok := extract.AsMap(m["data"])
	if !ok {
		data = m
	}

	msg := map[string]any{}
	if list, ok := extract.AsSlice(data["messages"]); ok && len(list) > 0 {
		if first, ok := extract.AsMap(list[0]); ok {
			for key, val := range first {
				msg[key] = val
			}
		}
	}
	// A sibling "message" object carries fields the list entry may lack.
	if sibling, ok := extract.AsMap(data["message"]); ok {
		for key, val := range sibling {
			if _, exists := msg[key]; !exists {
				msg[key] = val
			}
		}
	}
	if len(msg) == 0 {
		msg = data
	}

	sender := extract.FirstString(msg, "sender", "from", "participant", "author", "remoteJid", "chatId")
	if sender == "" {
		sender, _ = extract.JID(msg)
	}
	remoteJID := resolveRemote(sender)

	text := extract.FirstString(msg, "conversation", "text", "caption", "body", "content")
	if text == "" {
		text, _ = extract.Text(msg)
	}

	fromMe, _ := extract.FirstBool(msg, "fromMe", "from_me")
	if !fromMe {
		if key, ok := extract.AsMap(msg["key"]); ok {
			fromMe, _ = extract.FirstBool(key, "fromMe", "from_me")
		}
	}

	msgID, _ := extract.MessageID(msg)
	if msgID == "" {
		msgID, _ = extract.MessageID(m)
	}
	ts, _ := extract.FirstNumber(msg, "timestamp", "messageTimestamp", "t")
	timestamp := evolution.NormalizeTimestamp(ts)
	// Same synthetic form as the chat shape so retried deliveries of an
	// id-less payload collapse onto one record.
	if msgID == "" {
		msgID = fmt.Sprintf("%s:%d", remoteJID, timestamp)
	}

	msgType := strings.ToLower(extract.FirstString(msg, "messageType", "type"))
	msgType = evolution.CollapseTextType(msgType)

	return provider.WebhookEvent{
		Event:    provider.EventMessage,
		Instance: instance,
		Data: map[string]any{
			"remote_jid": remoteJID,
			"content":    text,
			"from_me":    fromMe,
			"message_id": msgID,
			"timestamp":  timestamp,
			"type":       msgType,
			"push_name":  extract.FirstString(msg, "pushName", "notifyName", "name"),
		},
	}
}

// resolveRemote derives the canonical remote identifier from a sender
// value: full JIDs are split on "@", purely numeric senders are already the
// identifier (the full JID form appends @s.whatsapp.net).
func resolveRemote(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return ""
	}
	if strings.Contains(sender, "@") {
		return extract.BareJID(sender)
	}
	return sender
}

// parsePresenceFallback accepts both the list-of-presences structure and a
// flat presence object.
func parsePresenceFallback(instance string, m map[string]any) provider.WebhookEvent {
	data, ok := extract.AsMap(m["data"])
	if !ok {
		data = m
	}

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

// parseConnectionFallback passes through the status field plus the original
// data block.
func parseConnectionFallback(instance string, m map[string]any) provider.WebhookEvent {
	data, ok := extract.AsMap(m["data"])
	if !ok {
		data = m
	}
	return provider.WebhookEvent{
		Event:    provider.EventConnection,
		Instance: instance,
		Data: map[string]any{
			"status": strings.ToLower(extract.FirstString(data, "state", "status", "connection")),
			"raw":    data,
		},
	}
}
