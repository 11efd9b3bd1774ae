package logx

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"reelbot/pkg/tgui"
)

const (
	groupLineMax  = 3500
	groupValueMax = 600
)

// Keys whose values never leave the process.
var redacted = map[string]bool{"token": true, "dsn": true, "password": true}

// renderGroupLine turns one zerolog JSON line into Telegram HTML:
// a bold level tag, the message, then sorted key=value lines.
func renderGroupLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return tgui.Esc(tgui.TruncRunes(raw, groupLineMax)).String()
	}

	level, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	head := tgui.JoinH(" ", tgui.B("["+strings.ToUpper(level)+"]"), tgui.Esc(msg))
	if level == "" {
		head = tgui.Esc(msg)
	}

	parts := []tgui.H{head}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		switch k {
		case "time", "level", "message":
			continue
		}
		v := "***"
		if !redacted[strings.ToLower(k)] {
			v = tgui.TruncRunes(fmt.Sprint(m[k]), groupValueMax)
		}
		parts = append(parts, tgui.JoinH("", tgui.Esc("- "+k+"="), tgui.Code(v)))
	}
	out := tgui.JoinH("\n", parts...).String()
	if len([]rune(out)) > groupLineMax {
		// Cutting HTML could leave an open tag; fall back to the head.
		return head.String()
	}
	return out
}
