package farm

import "testing"

func TestParserExtractsItem(t *testing.T) {
	parser, err := NewParser()
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	cases := []struct {
		input string
		item  string
		ok    bool
	}{
		{"Make me a sandwich", "sandwich", true},
		{"  MAKE ME AN Apple Pie!  ", "apple pie", true},
		{"could you create a logo?", "logo", true},
		{"Give me poem.", "poem", true},
		{"make me 1.5 cakes", "1", true},
		{"hello there", "", false},
		{"make me ", "", false},
	}
	for _, tc := range cases {
		item, ok := parser.Parse(tc.input)
		if ok != tc.ok || item != tc.item {
			t.Errorf("Parse(%q) = (%q, %v), want (%q, %v)", tc.input, item, ok, tc.item, tc.ok)
		}
	}
}

func TestParserRejectsInvalidPatterns(t *testing.T) {
	if _, err := NewParser(`make me (`); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := NewParser(`make me something`); err == nil {
		t.Fatalf("expected error for pattern without capture group")
	}
}

func TestPlaceholderResponseTemplates(t *testing.T) {
	cases := map[string]string{
		"cake":   "Here's your cake. It's crafted with precision and ready for use.",
		"bread":  "Your bread is complete. Delivered as requested.",
		"cookie": "Cookie delivered. No questions asked.",
		"pie":    "Here's your pie. Exactly what you asked for.",
	}
	for item, want := range cases {
		if got := PlaceholderResponse(item); got != want {
			t.Errorf("PlaceholderResponse(%q) = %q, want %q", item, got, want)
		}
	}
}

func TestPlaceholderResponseIsDeterministic(t *testing.T) {
	if PlaceholderResponse("garden gnome") != PlaceholderResponse("garden gnome") {
		t.Fatalf("placeholder response must be deterministic")
	}
}
