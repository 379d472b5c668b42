package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StatusVersion is the only status payload version understood.
const StatusVersion = "v1"

// ParseStatus parses a status payload of the form
//
//	[v1 ]key=value{,key=value}
//
// Keys match [A-Za-z0-9_.-]+. Values are trimmed and may
// be double-quoted, in which case Go string escapes apply. A quoted value
// may not contain a comma.
func ParseStatus(payload string) (map[string]string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedStatus)
	}

	if head, rest, ok := strings.Cut(payload, " "); ok && isVersionTag(head) {
		if head != StatusVersion {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, head)
		}
		payload = strings.TrimSpace(rest)
	}

	values := make(map[string]string)
	for _, pair := range strings.Split(payload, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no '='", ErrMalformedStatus, strings.TrimSpace(pair))
		}
		key = strings.TrimSpace(key)
		if !isKey(key) {
			return nil, fmt.Errorf("%w: bad key %q", ErrMalformedStatus, key)
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, `"`) {
			unq, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad quoted value for %s", ErrMalformedStatus, key)
			}
			value = unq
		}
		values[key] = value
	}
	return values, nil
}

// FormatStatus renders values in key order using the ParseStatus grammar.
// Values containing commas are rendered as-is and do not parse back.
func FormatStatus(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := values[k]
		if strings.ContainsRune(v, '"') || strings.TrimSpace(v) != v {
			v = strconv.Quote(v)
		}
		parts[i] = k + "=" + v
	}
	return strings.Join(parts, ",")
}

func isVersionTag(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isKey(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}
