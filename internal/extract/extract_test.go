package extract

import "testing"

func TestTokenStripsBearerPrefix(t *testing.T) {
	payload := map[string]any{
		"instance": map[string]any{
			"token": "Bearer abc123",
		},
	}

	token, ok := Token(payload)
	if !ok {
		t.Fatal("expected a token")
	}
	if token != "abc123" {
		t.Fatalf("expected abc123, got %q", token)
	}
}

func TestTokenFindsLongOpaqueValue(t *testing.T) {
	payload := map[string]any{
		"response": map[string]any{
			"hash": "A1b2C3d4E5f6G7h8I9j0K1l2M3n4O5p6Q7r8S9t0u",
		},
	}

	token, ok := Token(payload)
	if !ok {
		t.Fatal("expected a token")
	}
	if token != "A1b2C3d4E5f6G7h8I9j0K1l2M3n4O5p6Q7r8S9t0u" {
		t.Fatalf("unexpected token %q", token)
	}
}

func TestTokenIgnoresShortValues(t *testing.T) {
	if token, ok := Token(map[string]any{"token": "short"}); ok {
		t.Fatalf("expected no token, got %q", token)
	}
}

func TestQRValueFindsDataURI(t *testing.T) {
	payload := map[string]any{
		"instance": map[string]any{
			"qrcode": "data:image/png;base64,iVBOR",
		},
	}

	qr, ok := QRValue(payload)
	if !ok {
		t.Fatal("expected a qr value")
	}
	if qr != "data:image/png;base64,iVBOR" {
		t.Fatalf("unexpected qr %q", qr)
	}
}

func TestTextPrefersConversationKey(t *testing.T) {
	payload := map[string]any{
		"body": "second choice",
		"message": map[string]any{
			"conversation": "hello there",
		},
	}

	// The walk checks priority keys at the current level before recursing,
	// so the top-level body wins here.
	text, ok := Text(payload)
	if !ok {
		t.Fatal("expected text")
	}
	if text != "second choice" {
		t.Fatalf("unexpected text %q", text)
	}

	nested := map[string]any{
		"message": map[string]any{"conversation": "hello there"},
	}
	text, ok = Text(nested)
	if !ok || text != "hello there" {
		t.Fatalf("expected hello there, got %q ok=%v", text, ok)
	}
}

func TestJIDMatchesFullAndBareForms(t *testing.T) {
	full, ok := JID(map[string]any{"remoteJid": "5511999999999@s.whatsapp.net"})
	if !ok || full != "5511999999999@s.whatsapp.net" {
		t.Fatalf("expected full jid, got %q ok=%v", full, ok)
	}

	bare, ok := JID(map[string]any{"data": map[string]any{"sender": "5511999999999"}})
	if !ok || bare != "5511999999999" {
		t.Fatalf("expected bare number, got %q ok=%v", bare, ok)
	}

	if jid, ok := JID(map[string]any{"sender": "not-a-number"}); ok {
		t.Fatalf("expected no jid, got %q", jid)
	}
}

func TestMessageIDPrefersKeyID(t *testing.T) {
	payload := map[string]any{
		"id": "outer",
		"key": map[string]any{
			"id": "ABCD1234",
		},
	}

	id, ok := MessageID(payload)
	if !ok || id != "ABCD1234" {
		t.Fatalf("expected ABCD1234, got %q ok=%v", id, ok)
	}
}

func TestMessageIDWalksWrapperLevels(t *testing.T) {
	payload := map[string]any{
		"response": map[string]any{
			"data": map[string]any{
				"messageid": "XYZ",
			},
		},
	}

	id, ok := MessageID(payload)
	if !ok || id != "XYZ" {
		t.Fatalf("expected XYZ, got %q ok=%v", id, ok)
	}
}

func TestMessageIDSurvivesReferenceCycle(t *testing.T) {
	inner := map[string]any{}
	outer := map[string]any{"data": inner}
	inner["response"] = outer

	if id, ok := MessageID(outer); ok {
		t.Fatalf("expected no id from a cyclic payload, got %q", id)
	}
}

func TestSearchStopsAtDepthLimit(t *testing.T) {
	// Build a chain one level deeper than the walk allows.
	leaf := map[string]any{"token": "A1b2C3d4E5f6G7h8I9j0K1l2M3n4O5p6Q7r8S9t0u"}
	node := any(leaf)
	for i := 0; i < maxDepth+1; i++ {
		node = map[string]any{"nested": node}
	}

	if token, ok := Token(node); ok {
		t.Fatalf("expected the deep token to be unreachable, got %q", token)
	}

	// One level shallower it is found.
	node = any(leaf)
	for i := 0; i < maxDepth-1; i++ {
		node = map[string]any{"nested": node}
	}
	if _, ok := Token(node); !ok {
		t.Fatal("expected the shallow token to be found")
	}
}

func TestFirstStringIsCaseInsensitive(t *testing.T) {
	m := map[string]any{"PushName": "Maria", "count": float64(3)}

	if got := FirstString(m, "pushname"); got != "Maria" {
		t.Fatalf("expected Maria, got %q", got)
	}
	if got := FirstString(m, "missing", "count"); got != "3" {
		t.Fatalf("expected stringified number, got %q", got)
	}
}

func TestBareJIDStripsDomain(t *testing.T) {
	if got := BareJID("5511999999999@s.whatsapp.net"); got != "5511999999999" {
		t.Fatalf("unexpected bare jid %q", got)
	}
	if got := BareJID("5511999999999"); got != "5511999999999" {
		t.Fatalf("unexpected bare jid %q", got)
	}
}
