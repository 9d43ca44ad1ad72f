// Package identifier normalizes the many encodings the provider uses for
// record identifiers into one canonical digit string.
package identifier

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Prefixes the provider has been observed to wrap identifiers in, both in
// plain strings and inside base64-encoded global IDs.
var knownPrefixes = []string{
	"StayListing:",
	"DemandStayListing:",
	"StayListingProduct:",
	"listing:",
	"rooms/",
}

// Keys tried, in order, when the primary value is absent and a fallback
// container is supplied.
var fallbackKeys = []string{"listingId", "id", "roomId"}

// Normalize converts raw into a canonical digit-string identifier. It accepts
// integers, digit strings, scientific notation, prefixed tokens, URL path
// segments and base64 global IDs. When raw is nil and item is non-nil, the
// fallback keys are tried against item in order. The second return is false
// when no strategy produced an identifier. Normalize never panics, whatever
// the input.
func Normalize(raw any, item map[string]any) (string, bool) {
	if raw == nil {
		for _, k := range fallbackKeys {
			if v, ok := item[k]; ok && v != nil {
				if id, ok := Normalize(v, nil); ok {
					return id, true
				}
			}
		}
		return "", false
	}

	switch v := raw.(type) {
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		// JSON numbers decode as float64; large IDs may lose precision
		// upstream, but the decimal rendering is still the canonical form.
		if v < 0 {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case string:
		return normalizeString(v)
	}
	return "", false
}

func normalizeString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if allDigits(s) {
		return s, true
	}

	// Very large IDs sometimes arrive in scientific notation.
	if strings.Contains(strings.ToLower(s), "e+") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 0, 64), true
		}
	}

	for _, prefix := range knownPrefixes {
		if idx := strings.Index(s, prefix); idx >= 0 {
			tail := s[idx+len(prefix):]
			if digits := firstDigitRun(tail); digits != "" {
				return digits, true
			}
		}
	}

	// Path-like identifiers: scan segments from the end for a numeric one.
	if strings.Contains(s, "/") && strings.Contains(s, "rooms") {
		parts := strings.Split(s, "/")
		for i := len(parts) - 1; i >= 0; i-- {
			if p := parts[i]; p != "" && allDigits(p) {
				return p, true
			}
		}
	}

	if len(s) > 10 {
		if id, ok := decodeBase64ID(s); ok {
			return id, true
		}
	}
	return "", false
}

// decodeBase64ID pads s to a multiple of 4 and attempts a base64 decode.
// Decode failures are swallowed: they mean this strategy does not apply.
func decodeBase64ID(s string) (string, bool) {
	if missing := len(s) % 4; missing != 0 {
		s += strings.Repeat("=", 4-missing)
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", false
	}
	text := string(decoded)
	for _, prefix := range knownPrefixes {
		if idx := strings.Index(text, prefix); idx >= 0 {
			tail := text[idx+len(prefix):]
			if comma := strings.IndexByte(tail, ','); comma >= 0 {
				tail = tail[:comma]
			}
			tail = strings.TrimSpace(tail)
			if tail != "" && allDigits(tail) {
				return tail, true
			}
		}
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" && allDigits(trimmed) {
		return trimmed, true
	}
	return "", false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func firstDigitRun(s string) string {
	start := -1
	for i := 0; i < len(s); i++ {
		isDigit := s[i] >= '0' && s[i] <= '9'
		if isDigit && start < 0 {
			start = i
		}
		if !isDigit && start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}
