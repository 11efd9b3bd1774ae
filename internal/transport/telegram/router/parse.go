package router

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID returns a short request id for log correlation.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// parseCommand extracts "name" from "/name@bot ...". Arguments are ignored;
// no command takes any. ok is false for plain text.
func parseCommand(text string) (name string, ok bool) {
	first, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	first = strings.TrimSpace(first)
	if !strings.HasPrefix(first, "/") {
		return "", false
	}
	name, _, _ = strings.Cut(strings.ToLower(first[1:]), "@")
	return name, name != ""
}
