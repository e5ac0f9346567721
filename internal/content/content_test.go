package content

import "testing"

func TestDisplayTextPlainConversation(t *testing.T) {
	body := map[string]any{
		"message": map[string]any{"conversation": "hello"},
	}
	if got := DisplayText(body, "text"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestDisplayTextUnwrapsViewOnce(t *testing.T) {
	body := map[string]any{
		"message": map[string]any{
			"viewOnceMessageV2": map[string]any{
				"message": map[string]any{
					"imageMessage": map[string]any{"caption": "look at this"},
				},
			},
		},
	}
	if got := DisplayText(body, "image"); got != "look at this" {
		t.Fatalf("expected caption, got %q", got)
	}
}

func TestDisplayTextUnwrapsEphemeral(t *testing.T) {
	body := map[string]any{
		"message": map[string]any{
			"ephemeralMessage": map[string]any{
				"message": map[string]any{
					"extendedTextMessage": map[string]any{"text": "disappearing"},
				},
			},
		},
	}
	if got := DisplayText(body, "text"); got != "disappearing" {
		t.Fatalf("expected disappearing, got %q", got)
	}
}

func TestDisplayTextButtonReply(t *testing.T) {
	body := map[string]any{
		"buttonsResponseMessage": map[string]any{
			"selectedButtonId": "btn-2",
		},
	}
	if got := DisplayText(body, "text"); got != "btn-2" {
		t.Fatalf("expected btn-2, got %q", got)
	}
}

func TestDisplayTextDocumentFallsBackToFileName(t *testing.T) {
	body := map[string]any{
		"documentMessage": map[string]any{"fileName": "invoice.pdf"},
	}
	if got := DisplayText(body, "document"); got != "invoice.pdf" {
		t.Fatalf("expected invoice.pdf, got %q", got)
	}
}

func TestDisplayTextPlaceholders(t *testing.T) {
	cases := []struct {
		kind string
		want string
	}{
		{"image", "[Image]"},
		{"video", "[Video]"},
		{"ptt", "[Audio]"},
		{"documentMessage", "[Document]"},
		{"sticker", "[Sticker]"},
		{"location", "[Location]"},
		{"vcard", "[Contact]"},
		{"", "[Message]"},
		{"something-new", "[Message]"},
	}
	for _, tc := range cases {
		if got := DisplayText(nil, tc.kind); got != tc.want {
			t.Fatalf("kind %q: expected %q, got %q", tc.kind, tc.want, got)
		}
	}
}

func TestDisplayTextListBodyIsGeneric(t *testing.T) {
	if got := DisplayText([]any{"a", "b"}, "image"); got != "[Message]" {
		t.Fatalf("expected [Message], got %q", got)
	}
}

func TestDisplayTextStringPassthrough(t *testing.T) {
	if got := DisplayText("  plain  ", "text"); got != "plain" {
		t.Fatalf("expected plain, got %q", got)
	}
	if got := DisplayText("   ", "image"); got != "[Image]" {
		t.Fatalf("expected [Image], got %q", got)
	}
}
