package tgui

import (
	kit "reelbot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// Btn creates a callback control with raw callback_data.
func Btn(text, data string) kit.Control {
	return kit.Control{Text: text, Data: data}
}

// Markup converts control rows into a Telegram inline keyboard. It returns nil
// when there are no rows.
func Markup(rows [][]kit.Control) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]tele.Btn, 0, len(r))
		for _, c := range r {
			btns = append(btns, tele.Btn{Text: c.Text, Data: c.Data})
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Inline(out...)
	return rm
}
