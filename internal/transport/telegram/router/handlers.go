package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reelbot/internal/ingest"
	"reelbot/internal/maintenance"
	"reelbot/internal/push"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
	"reelbot/pkg/tgui"
)

const (
	AlreadyActiveText = "Delivery is already running here."
	PauseDeniedText   = "Only chat admins can pause delivery."
)

type PushPort interface {
	Start(ctx context.Context, chat kit.ChatTarget) (push.StartResult, error)
	Skip(ctx context.Context, chatID int64) (bool, error)
	Pause(ctx context.Context, chatID int64, notify bool) bool
	Sessions() []push.SessionInfo
}

type IngestPort interface {
	RecordUpload(ctx context.Context, up ingest.Upload) (bool, error)
	Pending() []ingest.BatchInfo
}

type MaintenancePort interface {
	DeduplicateFor(ctx context.Context, chat kit.ChatTarget) (maintenance.Report, error)
	Export(ctx context.Context, chat kit.ChatTarget) error
}

type CatalogCounter interface {
	Count(ctx context.Context) (int, error)
}

// FailureReporter turns a failed request into user and operator notices.
// Report is for operator actions and sends a single message to the invoker.
type FailureReporter interface {
	Fail(ctx context.Context, chat kit.ChatTarget, summary string, err error)
	Report(ctx context.Context, chat kit.ChatTarget, summary string, err error)
}

type Services struct {
	Push        PushPort
	Ingest      IngestPort
	Maintenance MaintenancePort
	Catalog     CatalogCounter
	Failures    FailureReporter
}

// Registry builds the bot's commands, inline callbacks and upload handler.
func Registry(svc Services) ([]Command, []CallbackRoute, MediaHandler) {
	h := handlers{svc}
	cmds := []Command{
		{
			Name:        "kc",
			Aliases:     []string{"begin"},
			Description: "start video delivery in this chat",
			Access:      AccessChatAdmin,
			Timeout:     time.Minute,
			Handle:      h.begin,
		},
		{
			Name:        "zt",
			Aliases:     []string{"pause"},
			Description: "pause video delivery in this chat",
			Access:      AccessChatAdmin,
			Timeout:     30 * time.Second,
			Handle:      h.pause,
		},
		{
			Name:        "status",
			Description: "active sessions, open batches and catalog size",
			Access:      AccessOperator,
			Timeout:     30 * time.Second,
			Handle:      h.status,
		},
	}
	cbs := []CallbackRoute{
		{Area: "push", Action: "next", Access: AccessEveryone, Timeout: time.Minute, Handle: h.next},
		{Area: "push", Action: "pause", Access: AccessChatAdminOrOperator, Denied: PauseDeniedText, Timeout: 30 * time.Second, Handle: h.pause},
		{Area: "admin", Action: "dedup", Access: AccessOperator, Timeout: 5 * time.Minute, Handle: h.dedup},
		{Area: "admin", Action: "export", Access: AccessOperator, Timeout: 10 * time.Minute, Handle: h.export},
	}
	return cmds, cbs, h.upload
}

type handlers struct {
	svc Services
}

// fail reports err unless the service is shutting down.
func (h handlers) fail(ctx context.Context, req *Request, summary string, err error) error {
	if errors.Is(err, push.ErrStopped) || errors.Is(err, ingest.ErrStopped) {
		return err
	}
	if h.svc.Failures != nil {
		h.svc.Failures.Fail(ctx, req.Chat, summary, err)
	}
	return err
}

// report sends one failure message back to the operator who asked.
func (h handlers) report(ctx context.Context, req *Request, summary string, err error) error {
	if h.svc.Failures != nil {
		h.svc.Failures.Report(ctx, req.Chat, summary, err)
	}
	return err
}

func (h handlers) begin(ctx context.Context, req *Request) error {
	res, err := h.svc.Push.Start(ctx, req.Chat)
	if err != nil {
		return h.fail(ctx, req, "push start failed", err)
	}
	if res == push.AlreadyActive {
		return req.Reply(ctx, AlreadyActiveText, nil)
	}
	return nil
}

func (h handlers) pause(ctx context.Context, req *Request) error {
	if !h.svc.Push.Pause(ctx, req.Chat.ChatID, true) {
		return req.Reply(ctx, req.Config.StartFirstText(), nil)
	}
	return nil
}

func (h handlers) next(ctx context.Context, req *Request) error {
	ok, err := h.svc.Push.Skip(ctx, req.Chat.ChatID)
	if err != nil {
		return h.fail(ctx, req, "skip failed", err)
	}
	if !ok {
		return req.Reply(ctx, req.Config.StartFirstText(), nil)
	}
	return nil
}

func (h handlers) dedup(ctx context.Context, req *Request) error {
	if _, err := h.svc.Maintenance.DeduplicateFor(ctx, req.Chat); err != nil {
		return h.report(ctx, req, "deduplication failed", err)
	}
	return nil
}

func (h handlers) export(ctx context.Context, req *Request) error {
	if err := h.svc.Maintenance.Export(ctx, req.Chat); err != nil {
		return h.report(ctx, req, "export failed", err)
	}
	return nil
}

func (h handlers) upload(ctx context.Context, req *Request, media kit.Media) error {
	if media.Kind != kit.MediaVideo {
		return nil
	}
	_, err := h.svc.Ingest.RecordUpload(ctx, ingest.Upload{
		Operator:     req.FromID,
		OperatorName: req.FromName,
		Chat:         req.Chat,
		MediaRef:     media.Ref,
	})
	if err != nil {
		return h.fail(ctx, req, "catalog write failed", err)
	}
	return nil
}

func (h handlers) status(ctx context.Context, req *Request) error {
	sessions := h.svc.Push.Sessions()
	batches := h.svc.Ingest.Pending()

	size := "unavailable"
	if h.svc.Catalog != nil {
		if n, err := h.svc.Catalog.Count(ctx); err == nil {
			size = fmt.Sprint(n)
		} else {
			req.Logger.Warn("catalog count failed", logx.Err(err))
		}
	}

	lines := []tgui.H{
		tgui.B("📊 Status"),
		tgui.Esc(fmt.Sprintf("Catalog size: %s", size)),
		tgui.Esc(fmt.Sprintf("Active chats: %d", len(sessions))),
	}
	for _, s := range sessions {
		state := "waiting"
		switch {
		case s.Delivering:
			state = "delivering"
		case !s.Armed:
			state = "idle"
		}
		lines = append(lines, tgui.JoinH(" ", tgui.Esc("•"), tgui.Code(fmt.Sprint(s.ChatID)),
			tgui.Esc(fmt.Sprintf("next #%d, %s", s.Next, state))))
	}
	lines = append(lines, tgui.Esc(fmt.Sprintf("Open upload batches: %d", len(batches))))
	for _, b := range batches {
		lines = append(lines, tgui.JoinH(" ", tgui.Esc("•"), tgui.Code(fmt.Sprint(b.Operator)),
			tgui.Esc(fmt.Sprintf("%d item(s) since %s", b.Count, b.Opened.Format(time.TimeOnly)))))
	}
	return req.Reply(ctx, tgui.JoinH("\n", lines...).String(), &kit.SendOptions{ParseMode: "HTML"})
}
