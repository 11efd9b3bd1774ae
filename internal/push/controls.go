package push

import (
	kit "reelbot/internal/transport"
	"reelbot/pkg/tgui"
)

// Callback data for the controls attached to every delivered item.
var (
	NextData  = tgui.Data("push", "next", "")
	PauseData = tgui.Data("push", "pause", "")
)

// Controls is the standard row under each delivered item.
func Controls() []kit.Control {
	return []kit.Control{
		tgui.Btn("⏭ Next", NextData),
		tgui.Btn("⏸ Pause", PauseData),
	}
}
