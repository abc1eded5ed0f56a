// Package safety scrubs externally-supplied payloads before they are
// persisted. Agent context and handoff data are free-form documents; the
// sanitizer strips executable-looking constructs and bounds size, without
// validating shape.
package safety

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	defaultMaxStringLen = 8 * 1024
	defaultMaxDepth     = 8
	defaultMaxKeys      = 256

	removedPlaceholder = "[removed]"
)

// Sanitizer strips executable-looking content from opaque payloads.
type Sanitizer struct {
	MaxStringLen int
	MaxDepth     int
	MaxKeys      int
}

// NewSanitizer creates a Sanitizer with default bounds.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		MaxStringLen: defaultMaxStringLen,
		MaxDepth:     defaultMaxDepth,
		MaxKeys:      defaultMaxKeys,
	}
}

// executablePatterns matches constructs that could be interpreted as code if
// a payload ever reaches a shell, template engine, or browser surface.
var executablePatterns = []*regexp.Regexp{
	// Shell command substitution.
	regexp.MustCompile("`[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	// Script tags and inline event handlers.
	regexp.MustCompile(`(?is)<script.*?</script>`),
	regexp.MustCompile(`(?i)\bon(load|error|click|mouseover)\s*=`),
	// Shebang lines.
	regexp.MustCompile(`(?m)^#!\s*/[^\n]*`),
	// Pipe-to-shell fetches.
	regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;\n]*\|\s*(ba)?sh\b`),
	// Interpreter escape hatches.
	regexp.MustCompile(`(?i)\b(eval|exec|os\.system|subprocess\.(run|call|Popen))\s*\(`),
	// Encoded PowerShell payloads.
	regexp.MustCompile(`(?i)powershell[^|\n]*-enc(odedcommand)?\s+\S+`),
}

// Sanitize returns a scrubbed deep copy of v. Strings are pattern-stripped
// and truncated; maps and slices are walked to a bounded depth, with
// anything past the depth or key limits dropped. Scalar types pass through
// unchanged; unknown types are replaced by their string rendering.
func (s *Sanitizer) Sanitize(v any) any {
	return s.sanitizeValue(v, 0)
}

// SanitizeMap is a convenience wrapper for the common map payload case.
func (s *Sanitizer) SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := s.sanitizeValue(m, 0).(map[string]any)
	return out
}

func (s *Sanitizer) sanitizeValue(v any, depth int) any {
	if depth >= s.MaxDepth {
		return removedPlaceholder
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return s.scrubString(val)
	case bool, int, int32, int64, float32, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		n := 0
		for k, inner := range val {
			if n >= s.MaxKeys {
				break
			}
			out[s.scrubString(k)] = s.sanitizeValue(inner, depth+1)
			n++
		}
		return out
	case []any:
		limit := len(val)
		if limit > s.MaxKeys {
			limit = s.MaxKeys
		}
		out := make([]any, 0, limit)
		for _, inner := range val[:limit] {
			out = append(out, s.sanitizeValue(inner, depth+1))
		}
		return out
	case []string:
		limit := len(val)
		if limit > s.MaxKeys {
			limit = s.MaxKeys
		}
		out := make([]string, 0, limit)
		for _, inner := range val[:limit] {
			out = append(out, s.scrubString(inner))
		}
		return out
	default:
		return s.scrubString(fmt.Sprintf("%v", val))
	}
}

func (s *Sanitizer) scrubString(in string) string {
	out := in
	for _, pat := range executablePatterns {
		out = pat.ReplaceAllString(out, removedPlaceholder)
	}
	if len(out) > s.MaxStringLen {
		// Back the cut off any multi-byte rune it would split.
		cut := s.MaxStringLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "\n... (truncated)"
	}
	return out
}
