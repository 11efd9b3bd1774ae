package adapter

import (
	"context"
	"hash/fnv"

	tele "gopkg.in/telebot.v4"

	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
	"reelbot/pkg/tgui"
)

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// Controls go on the first chunk only.
		if i == 0 {
			sendOpt.ReplyMarkup = tgui.Markup(opt.Controls)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendMedia re-sends a previously uploaded video by its file id.
func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, mediaRef string, opt *kit.MediaOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if opt == nil {
		opt = &kit.MediaOptions{}
	}
	video := &tele.Video{
		File:    tele.File{FileID: mediaRef},
		Caption: tgui.TruncRunes(opt.Caption, tgui.MaxCaptionLen),
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, video, &tele.SendOptions{
		ParseMode:   opt.ParseMode,
		ThreadID:    to.ThreadID,
		ReplyMarkup: tgui.Markup(opt.Controls),
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

// SendDocument uploads the local file at path.
func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, path string, meta kit.DocumentMeta) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	doc := &tele.Document{
		File:     tele.FromDisk(path),
		FileName: meta.FileName,
		MIME:     meta.MIME,
		Caption:  tgui.TruncRunes(meta.Caption, tgui.MaxCaptionLen),
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, doc, &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendAction(ctx context.Context, to kit.ChatTarget, action kit.ChatAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.ThreadID != 0 {
		return a.bot.Notify(&tele.Chat{ID: to.ChatID}, tele.ChatAction(action), to.ThreadID)
	}
	return a.bot.Notify(&tele.Chat{ID: to.ChatID}, tele.ChatAction(action))
}

func (a *Adapter) MemberRole(ctx context.Context, chatID, userID int64) (kit.Role, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return "", err
	}
	return kit.Role(m.Role), nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands replaces the bot's command menu. It only calls
// Telegram when the list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		d = tgui.TruncRunes(d, 256)
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
