package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// decodeModelJSON parses a JSON object out of raw language-model output.
// Models wrap JSON in markdown fences, prepend prose, emit literal newlines
// inside strings and leave trailing commas; decoding is lenient about all of
// those. The extracted object is decoded into out.
func decodeModelJSON(raw string, out any) error {
	candidate := extractObject(stripFences(raw))
	if candidate == "" {
		return eris.New("no JSON object found in model output")
	}

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	// One repair pass, then one re-parse. Anything still broken is a real
	// failure; further heuristics invent data.
	repaired := repairObject(candidate)
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return eris.Wrap(err, "decode model JSON")
	}
	return nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Language tag on the opening fence.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "json" || first == "JSON" || first == "" {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractObject returns the first balanced top-level {...} span in s. Brace
// counting ignores braces inside string literals, honoring escapes.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	// Unterminated object: return the open span so the repair pass can try
	// closing it.
	return s[start:]
}

// repairObject fixes the two failure shapes seen in practice: raw control
// characters inside string literals and trailing commas before a closing
// bracket. It also closes an unterminated object.
func repairObject(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				b.WriteByte(c)
			case c == '\\':
				escaped = true
				b.WriteByte(c)
			case c == '"':
				inString = false
				b.WriteByte(c)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
				b.WriteString(`\r`)
			case c == '\t':
				b.WriteString(`\t`)
			case c < 0x20:
				// Drop other control characters.
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case '{', '[':
			depth++
			b.WriteByte(c)
		case '}', ']':
			depth--
			trimTrailingComma(&b)
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}

	if inString {
		b.WriteByte('"')
	}
	for ; depth > 0; depth-- {
		b.WriteByte('}')
	}
	return b.String()
}

// trimTrailingComma removes a comma (plus whitespace) at the end of the
// builder, rewriting its contents in place.
func trimTrailingComma(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " \t\n\r")
	if strings.HasSuffix(trimmed, ",") {
		trimmed = trimmed[:len(trimmed)-1]
		b.Reset()
		b.WriteString(trimmed)
	}
}
