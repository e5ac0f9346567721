// Package content maps structural WhatsApp message bodies to display text.
// It is provider independent: the message-listing surface feeds it whatever
// body the record store kept, wrapped however the originating client wrapped
// it (view-once, ephemeral, and friends).
package content

import (
	"fmt"
	"strings"

	"wa-gateway/internal/extract"
)

// maxUnwrapDepth bounds envelope unwrapping on hostile payloads.
const maxUnwrapDepth = 10

// envelopeKeys are the known wrapper levels whose "message" child carries
// the real payload.
var envelopeKeys = []string{"ephemeralMessage", "viewOnceMessage", "viewOnceMessageV2"}

// DisplayText extracts a human-readable line from a message body of the
// declared kind. It never fails: unrecoverable bodies degrade to a
// kind-specific placeholder.
func DisplayText(body any, kind string) string {
	switch v := body.(type) {
	case map[string]any:
		inner := unwrap(v)
		if text := variantText(inner); text != "" {
			return text
		}
		return placeholder(kind)
	case []any:
		// A list body carries no single text; always the generic label.
		return placeholder("")
	case nil:
		return placeholder(kind)
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
		return placeholder(kind)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// unwrap descends through known envelope wrappers until the innermost
// message object is reached.
func unwrap(m map[string]any) map[string]any {
	for i := 0; i < maxUnwrapDepth; i++ {
		if next, ok := extract.AsMap(m["message"]); ok {
			m = next
			continue
		}
		unwrapped := false
		for _, key := range envelopeKeys {
			wrapper, ok := extract.AsMap(m[key])
			if !ok {
				continue
			}
			if next, ok := extract.AsMap(wrapper["message"]); ok {
				m = next
				unwrapped = true
				break
			}
		}
		if !unwrapped {
			break
		}
	}
	return m
}

// variantText resolves the known message-variant shapes in priority order.
func variantText(m map[string]any) string {
	if s := extract.FirstString(m, "conversation"); s != "" {
		return s
	}
	if ext, ok := extract.AsMap(m["extendedTextMessage"]); ok {
		if s := extract.FirstString(ext, "text"); s != "" {
			return s
		}
	}
	if btn, ok := extract.AsMap(m["buttonsResponseMessage"]); ok {
		if s := extract.FirstString(btn, "selectedDisplayText", "selectedButtonId"); s != "" {
			return s
		}
	}
	if list, ok := extract.AsMap(m["listResponseMessage"]); ok {
		if s := extract.FirstString(list, "title"); s != "" {
			return s
		}
		if reply, ok := extract.AsMap(list["singleSelectReply"]); ok {
			if s := extract.FirstString(reply, "selectedRowId"); s != "" {
				return s
			}
		}
	}
	if tpl, ok := extract.AsMap(m["templateButtonReplyMessage"]); ok {
		if s := extract.FirstString(tpl, "selectedDisplayText", "selectedId"); s != "" {
			return s
		}
	}
	for _, key := range []string{"imageMessage", "videoMessage"} {
		if media, ok := extract.AsMap(m[key]); ok {
			if s := extract.FirstString(media, "caption"); s != "" {
				return s
			}
		}
	}
	if doc, ok := extract.AsMap(m["documentMessage"]); ok {
		if s := extract.FirstString(doc, "caption", "fileName"); s != "" {
			return s
		}
	}
	return ""
}

// placeholder labels a message whose text could not be recovered.
func placeholder(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "image", "imagemessage":
		return "[Image]"
	case "video", "videomessage":
		return "[Video]"
	case "audio", "audiomessage", "ptt":
		return "[Audio]"
	case "document", "documentmessage":
		return "[Document]"
	case "sticker", "stickermessage":
		return "[Sticker]"
	case "location", "locationmessage":
		return "[Location]"
	case "contact", "contactmessage", "vcard":
		return "[Contact]"
	default:
		return "[Message]"
	}
}
