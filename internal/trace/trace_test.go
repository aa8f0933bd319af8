package trace

import "testing"

func TestDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		raw   string
		check func(t *testing.T, tr Trace)
	}{
		{
			name: "text",
			raw:  `{"type":"text","payload":{"message":"hello"}}`,
			check: func(t *testing.T, tr Trace) {
				if tr.Type != TypeText || tr.Payload.Message != "hello" {
					t.Fatalf("trace=%+v", tr)
				}
			},
		},
		{
			name: "choice with request",
			raw:  `{"type":"choice","payload":{"buttons":[{"name":"Yes","request":{"type":"intent"}},{"name":"Site","url":"https://x.com"}]}}`,
			check: func(t *testing.T, tr Trace) {
				if len(tr.Payload.Buttons) != 2 {
					t.Fatalf("buttons=%+v", tr.Payload.Buttons)
				}
				if tr.Payload.Buttons[0].Name != "Yes" || len(tr.Payload.Buttons[0].Request) == 0 {
					t.Fatalf("button=%+v", tr.Payload.Buttons[0])
				}
				if tr.Payload.Buttons[1].URL != "https://x.com" {
					t.Fatalf("button=%+v", tr.Payload.Buttons[1])
				}
				if !tr.Payload.HasButtons() {
					t.Fatalf("HasButtons=false")
				}
			},
		},
		{
			name: "card description as string",
			raw:  `{"type":"cardV2","payload":{"title":"T","description":"plain"}}`,
			check: func(t *testing.T, tr Trace) {
				if tr.Payload.Description.Value != "plain" {
					t.Fatalf("description=%+v", tr.Payload.Description)
				}
			},
		},
		{
			name: "card description as object",
			raw:  `{"type":"cardV2","payload":{"title":"T","description":{"text":"wrapped"}}}`,
			check: func(t *testing.T, tr Trace) {
				if tr.Payload.Description.Value != "wrapped" {
					t.Fatalf("description=%+v", tr.Payload.Description)
				}
			},
		},
		{
			name: "completion content",
			raw:  `{"type":"completion","payload":{"state":"content","completion":"Hel"}}`,
			check: func(t *testing.T, tr Trace) {
				if !tr.IsCompletion() || tr.Payload.State != CompletionContent {
					t.Fatalf("trace=%+v", tr)
				}
				if tr.CompletionText() != "Hel" {
					t.Fatalf("text=%q", tr.CompletionText())
				}
			},
		},
		{
			name: "completion text falls back to message",
			raw:  `{"type":"completion","payload":{"state":"content","message":"Hi"}}`,
			check: func(t *testing.T, tr Trace) {
				if tr.CompletionText() != "Hi" {
					t.Fatalf("text=%q", tr.CompletionText())
				}
			},
		},
		{
			name: "unknown type tolerated",
			raw:  `{"type":"debug","payload":{"message":"internal"}}`,
			check: func(t *testing.T, tr Trace) {
				if tr.Type != Type("debug") {
					t.Fatalf("type=%q", tr.Type)
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr, err := Decode([]byte(tc.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tc.check(t, tr)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte("[1,2]")); err == nil {
		t.Fatalf("expected error for non-object trace")
	}
}

func TestHasButtonsIgnoresBlankNames(t *testing.T) {
	t.Parallel()

	p := Payload{Buttons: []Button{{Name: "  "}, {Name: ""}}}
	if p.HasButtons() {
		t.Fatalf("blank-named buttons counted")
	}
}

func TestCardHasButtons(t *testing.T) {
	t.Parallel()

	if (Card{}).HasButtons() {
		t.Fatalf("empty card reported buttons")
	}
	if (Card{Buttons: []Button{{Name: " "}}}).HasButtons() {
		t.Fatalf("blank-named card button counted")
	}
	if !(Card{Buttons: []Button{{Name: "Go"}}}).HasButtons() {
		t.Fatalf("named card button not counted")
	}
}
