package router

import (
	"strings"

	"reelbot/pkg/tgui"
)

// helpText lists the commands available to the requester in Telegram HTML.
func (r *Router) helpText(req *Request) string {
	r.mu.RLock()
	cmds := append([]Command(nil), r.commands...)
	r.mu.RUnlock()

	operator := req.Config.IsOperator(req.FromID)
	lines := []tgui.H{tgui.B("📚 Commands")}
	for _, c := range cmds {
		if c.Access == AccessOperator && !operator {
			continue
		}
		line := tgui.Code("/" + c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			line = tgui.JoinH(" ", line, tgui.Esc("· "+d))
		}
		if len(c.Aliases) > 0 {
			line = tgui.JoinH(" ", line, tgui.I("(also /"+strings.Join(c.Aliases, ", /")+")"))
		}
		if c.Access == AccessOperator {
			line = tgui.JoinH(" ", tgui.Esc("🔒"), line)
		}
		lines = append(lines, line)
	}
	return tgui.JoinH("\n", lines...).String()
}
