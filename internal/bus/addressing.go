package bus

import "strings"

// Address prefixes text with nick in the bus addressing convention.
func Address(nick, text string) string {
	return nick + ": " + text
}

// Addressed reports whether text is addressed to nick ("<nick>: ...",
// case-insensitive) and returns the command after the prefix.
func Addressed(nick, text string) (string, bool) {
	prefix := nick + ": "
	if len(text) < len(prefix) || !strings.EqualFold(text[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(text[len(prefix):]), true
}

// IsStop reports whether text is a global stop, which every device
// treats as an immediate reset regardless of addressing.
func IsStop(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "STOP")
}
