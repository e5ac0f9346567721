// Package extract provides deep-search primitives over loosely-typed JSON
// trees. Gateway vendors bury tokens, QR payloads, message ids and sender
// identifiers at unpredictable depths under unpredictable key names; these
// helpers locate them with a bounded recursion depth so malformed or
// self-referential payloads cannot blow the stack. Absence of a value is a
// normal outcome, never an error.
package extract

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// maxDepth bounds every recursive walk over untrusted payloads.
const maxDepth = 6

var (
	tokenKeys = []string{"token", "apikey", "instancetoken", "instance_token", "api_key", "hash"}
	qrKeys    = []string{"qrcode", "qr_code", "qr", "base64", "code", "image"}
	textKeys  = []string{"conversation", "text", "caption", "body", "message", "content"}
	jidKeys   = []string{"remotejid", "remote_jid", "jid", "sender", "from", "participant", "author", "chatid", "wa_chatid"}

	idKeys      = []string{"message_id", "messageid", "stanzaid", "id"}
	wrapperKeys = []string{"key", "data", "message", "result", "response"}

	tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{33,}$`)
	jidPattern   = regexp.MustCompile(`^\d{5,20}@(s\.whatsapp\.net|g\.us)$`)
	phonePattern = regexp.MustCompile(`^\d{7,20}$`)
)

// Token returns the first value in the tree that looks like an API token or
// secret: a "Bearer "-prefixed string (prefix stripped) or a long opaque
// alphanumeric value. Known token-bearing key names are searched first.
func Token(v any) (string, bool) {
	if found, ok := searchKeys(v, 0, tokenKeys, tokenValue); ok {
		return found, true
	}
	return scan(v, 0, tokenValue)
}

func tokenValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if rest, found := strings.CutPrefix(s, "Bearer "); found {
		rest = strings.TrimSpace(rest)
		if rest != "" {
			return rest, true
		}
	}
	if tokenPattern.MatchString(s) {
		return s, true
	}
	return "", false
}

// QRValue returns the first value that looks like a pairing QR payload: an
// embedded data:image URI or any long opaque string.
func QRValue(v any) (string, bool) {
	if found, ok := searchKeys(v, 0, qrKeys, qrValue); ok {
		return found, true
	}
	return scan(v, 0, qrValue)
}

func qrValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:image") {
		return s, true
	}
	if len(s) > 100 {
		return s, true
	}
	return "", false
}

// Text returns the first non-empty string under a known text-bearing key,
// recursing into nested values otherwise.
func Text(v any) (string, bool) {
	return text(v, 0)
}

func text(v any, depth int) (string, bool) {
	if depth > maxDepth {
		return "", false
	}
	switch node := v.(type) {
	case map[string]any:
		for _, key := range textKeys {
			val, ok := lookupKey(node, key)
			if !ok {
				continue
			}
			if s, ok := val.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed, true
				}
				continue
			}
			if found, ok := text(val, depth+1); ok {
				return found, true
			}
		}
		for _, key := range sortedKeys(node) {
			if found, ok := text(node[key], depth+1); ok {
				return found, true
			}
		}
	case []any:
		for _, item := range node {
			if found, ok := text(item, depth+1); ok {
				return found, true
			}
		}
	}
	return "", false
}

// JID returns the first value matching a WhatsApp identifier: either a full
// digits@s.whatsapp.net / digits@g.us form or a bare 7-20 digit number.
func JID(v any) (string, bool) {
	if found, ok := searchKeys(v, 0, jidKeys, jidValue); ok {
		return found, true
	}
	return scan(v, 0, jidValue)
}

func jidValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if jidPattern.MatchString(s) || phonePattern.MatchString(s) {
		return s, true
	}
	return "", false
}

// MessageID walks nested wrapper levels (key/data/message/result/response)
// looking for the id a provider assigned to a sent message. Node identities
// are tracked so reference cycles terminate.
func MessageID(v any) (string, bool) {
	return messageID(v, 0, map[uintptr]bool{})
}

func messageID(v any, depth int, seen map[uintptr]bool) (string, bool) {
	if depth > maxDepth {
		return "", false
	}
	switch node := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(node).Pointer()
		if seen[ptr] {
			return "", false
		}
		seen[ptr] = true

		if key, ok := lookupKey(node, "key"); ok {
			if keyMap, ok := key.(map[string]any); ok {
				if id := stringAt(keyMap, "id"); id != "" {
					return id, true
				}
			}
		}
		for _, key := range idKeys {
			if id := stringAt(node, key); id != "" {
				return id, true
			}
		}
		for _, key := range wrapperKeys {
			if val, ok := lookupKey(node, key); ok {
				if id, found := messageID(val, depth+1, seen); found {
					return id, true
				}
			}
		}
	case []any:
		for _, item := range node {
			if id, found := messageID(item, depth+1, seen); found {
				return id, true
			}
		}
	}
	return "", false
}

// searchKeys tries values reachable under the priority key names, at any
// depth, before the caller falls back to an unordered scan.
func searchKeys(v any, depth int, keys []string, match func(string) (string, bool)) (string, bool) {
	if depth > maxDepth {
		return "", false
	}
	switch node := v.(type) {
	case map[string]any:
		for _, key := range keys {
			val, ok := lookupKey(node, key)
			if !ok {
				continue
			}
			if s, ok := val.(string); ok {
				if found, ok := match(s); ok {
					return found, true
				}
				continue
			}
			if found, ok := scan(val, depth+1, match); ok {
				return found, true
			}
		}
		for _, key := range sortedKeys(node) {
			if found, ok := searchKeys(node[key], depth+1, keys, match); ok {
				return found, true
			}
		}
	case []any:
		for _, item := range node {
			if found, ok := searchKeys(item, depth+1, keys, match); ok {
				return found, true
			}
		}
	}
	return "", false
}

// scan visits every string in the tree in deterministic key order.
func scan(v any, depth int, match func(string) (string, bool)) (string, bool) {
	if depth > maxDepth {
		return "", false
	}
	switch node := v.(type) {
	case string:
		return match(node)
	case map[string]any:
		for _, key := range sortedKeys(node) {
			if found, ok := scan(node[key], depth+1, match); ok {
				return found, true
			}
		}
	case []any:
		for _, item := range node {
			if found, ok := scan(item, depth+1, match); ok {
				return found, true
			}
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// lookupKey finds a map entry by exact match first, then case-insensitively,
// since vendors disagree on key casing between versions.
func lookupKey(m map[string]any, key string) (any, bool) {
	if val, ok := m[key]; ok {
		return val, true
	}
	for k, val := range m {
		if strings.EqualFold(k, key) {
			return val, true
		}
	}
	return nil, false
}

func stringAt(m map[string]any, key string) string {
	val, ok := lookupKey(m, key)
	if !ok {
		return ""
	}
	s, _ := val.(string)
	return strings.TrimSpace(s)
}
