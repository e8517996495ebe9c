package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// newRunID returns a globally unique run identifier. The identifier is
// prefixed with a normalized form of the graph name to improve readability
// in logs, metrics, and traces without sacrificing uniqueness.
func newRunID(graphName string) string {
	prefix := normalizePrefix(graphName)
	if prefix == "" {
		prefix = "run"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func normalizePrefix(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
