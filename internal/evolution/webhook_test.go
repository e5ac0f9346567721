package evolution

import "testing"

func messageUpsertPayload(event string) map[string]any {
	return map[string]any{
		"event":    event,
		"instance": "shop-1",
		"data": map[string]any{
			"key": map[string]any{
				"remoteJid": "5511999999999@s.whatsapp.net",
				"fromMe":    false,
				"id":        "MSG1",
			},
			"pushName":         "Maria",
			"messageType":      "conversation",
			"messageTimestamp": float64(1700000000),
			"message": map[string]any{
				"conversation": "hi",
			},
		},
	}
}

func TestParseMessageUpsertSynthesizesMissingID(t *testing.T) {
	payload := messageUpsertPayload("messages.upsert")
	data := payload["data"].(map[string]any)
	delete(data["key"].(map[string]any), "id")

	evt, ok := Parse(payload)
	if !ok {
		t.Fatal("expected a parse")
	}
	if evt.Data["message_id"] != "5511999999999:1700000000" {
		t.Fatalf("expected a synthesized message_id, got %v", evt.Data["message_id"])
	}

	again, _ := Parse(payload)
	if again.Data["message_id"] != evt.Data["message_id"] {
		t.Fatalf("synthesized id not stable: %v vs %v", again.Data["message_id"], evt.Data["message_id"])
	}
}

func TestParseMessageUpsert(t *testing.T) {
	evt, ok := Parse(messageUpsertPayload("messages.upsert"))
	if !ok {
		t.Fatal("expected a parse")
	}
	if evt.Event != "message" {
		t.Fatalf("expected message event, got %q", evt.Event)
	}
	if evt.Instance != "shop-1" {
		t.Fatalf("unexpected instance %q", evt.Instance)
	}
	if evt.Data["remote_jid"] != "5511999999999" {
		t.Fatalf("unexpected remote_jid %v", evt.Data["remote_jid"])
	}
	if evt.Data["content"] != "hi" {
		t.Fatalf("unexpected content %v", evt.Data["content"])
	}
	if evt.Data["message_id"] != "MSG1" {
		t.Fatalf("unexpected message_id %v", evt.Data["message_id"])
	}
	if evt.Data["type"] != "text" {
		t.Fatalf("unexpected type %v", evt.Data["type"])
	}
	if evt.Data["from_me"] != false {
		t.Fatalf("unexpected from_me %v", evt.Data["from_me"])
	}
	if evt.Data["push_name"] != "Maria" {
		t.Fatalf("unexpected push_name %v", evt.Data["push_name"])
	}
}

func TestParseEventNameSpellings(t *testing.T) {
	for _, spelling := range []string{"MESSAGES_UPSERT", "messages-upsert", "messages.upsert"} {
		evt, ok := Parse(messageUpsertPayload(spelling))
		if !ok {
			t.Fatalf("spelling %q: expected a parse", spelling)
		}
		if evt.Event != "message" {
			t.Fatalf("spelling %q: expected message event, got %q", spelling, evt.Event)
		}
	}
}

func TestParseMessageUpdate(t *testing.T) {
	payload := map[string]any{
		"event":    "messages.update",
		"instance": "shop-1",
		"data": map[string]any{
			"key": map[string]any{
				"remoteJid": "5511999999999@s.whatsapp.net",
				"id":        "MSG1",
			},
			"status": "READ",
		},
	}

	evt, ok := Parse(payload)
	if !ok {
		t.Fatal("expected a parse")
	}
	if evt.Event != "message_update" {
		t.Fatalf("unexpected event %q", evt.Event)
	}
	if evt.Data["message_id"] != "MSG1" {
		t.Fatalf("unexpected message_id %v", evt.Data["message_id"])
	}
	if evt.Data["status"] != "read" {
		t.Fatalf("unexpected status %v", evt.Data["status"])
	}
}

func TestParseConnectionUpdate(t *testing.T) {
	payload := map[string]any{
		"event":    "CONNECTION_UPDATE",
		"instance": "shop-1",
		"data":     map[string]any{"state": "OPEN"},
	}

	evt, ok := Parse(payload)
	if !ok {
		t.Fatal("expected a parse")
	}
	if evt.Event != "connection" {
		t.Fatalf("unexpected event %q", evt.Event)
	}
	if evt.Data["status"] != "open" {
		t.Fatalf("unexpected status %v", evt.Data["status"])
	}
}

func TestParseRejectsForeignShapes(t *testing.T) {
	if _, ok := Parse(map[string]any{"hello": "world"}); ok {
		t.Fatal("expected no parse without an event name")
	}
	if _, ok := Parse(map[string]any{"event": "messages.upsert"}); ok {
		t.Fatal("expected no parse without a data block")
	}
	if _, ok := Parse(map[string]any{"event": "something.else", "data": map[string]any{}}); ok {
		t.Fatal("expected no parse for an unknown event name")
	}
	if _, ok := Parse("not json object"); ok {
		t.Fatal("expected no parse for a scalar")
	}
}

func TestParseMillisecondTimestamp(t *testing.T) {
	payload := messageUpsertPayload("messages.upsert")
	data := payload["data"].(map[string]any)
	data["messageTimestamp"] = float64(1700000000123)

	evt, ok := Parse(payload)
	if !ok {
		t.Fatal("expected a parse")
	}
	if evt.Data["timestamp"] != int64(1700000000) {
		t.Fatalf("expected seconds, got %v", evt.Data["timestamp"])
	}
}

func TestParseBatchedDataList(t *testing.T) {
	payload := map[string]any{
		"event": "messages.upsert",
		"data": []any{
			map[string]any{
				"key": map[string]any{
					"remoteJid": "5511888888888@s.whatsapp.net",
					"id":        "B1",
				},
				"message": map[string]any{"conversation": "first"},
			},
		},
	}

	evt, ok := Parse(payload)
	if !ok {
		t.Fatal("expected a parse")
	}
	if evt.Data["remote_jid"] != "5511888888888" {
		t.Fatalf("unexpected remote_jid %v", evt.Data["remote_jid"])
	}
	if evt.Data["content"] != "first" {
		t.Fatalf("unexpected content %v", evt.Data["content"])
	}
}
