package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"reelbot/internal/config"
	rtsup "reelbot/internal/runtime/supervisor"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
	"reelbot/pkg/tgui"
)

// Access decides who may trigger a command or callback.
type Access int

const (
	AccessEveryone Access = iota
	// AccessChatAdmin allows private chats and group administrators/creators.
	AccessChatAdmin
	// AccessChatAdminOrOperator is AccessChatAdmin plus allow-listed operators.
	AccessChatAdminOrOperator
	// AccessOperator allows the static operator allow-list only.
	AccessOperator
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	// Denied is sent when access is refused; empty means refuse silently.
	Denied  string
	Timeout time.Duration
	Handle  HandlerFunc
}

type CallbackRoute struct {
	Area    string
	Action  string
	Access  Access
	Denied  string
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Private  bool
	Command  string
	Payload  string
	ReqID    string

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

// MediaHandler receives non-command messages that carry media.
type MediaHandler func(ctx context.Context, req *Request, media kit.Media) error

type Options struct {
	Adapter kit.Adapter
	Config  func() *config.Config
	Log     logx.Logger
	// Workers is the number of dispatch shards; 0 means NumCPU (min 2).
	Workers int
	// QueueSize is the per-shard job buffer.
	QueueSize int
}

// Router parses inbound updates and runs handlers on a sharded worker pool.
// Updates from the same chat always land on the same shard, so they are
// handled in arrival order.
type Router struct {
	adapter kit.Adapter
	cfg     func() *config.Config
	log     logx.Logger

	workers   int
	queueSize int

	mu        sync.RWMutex
	commands  []Command
	byName    map[string]*Command
	callbacks map[string]CallbackRoute // "area:action"
	media     MediaHandler
}

func New(opt Options) *Router {
	workers := opt.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	queue := opt.QueueSize
	if queue <= 0 {
		queue = 64
	}
	return &Router{
		adapter:   opt.Adapter,
		cfg:       opt.Config,
		log:       opt.Log.With(logx.String("comp", "telegram.router")),
		workers:   workers,
		queueSize: queue,
		byName:    map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
	}
}

// SetRegistry replaces the command, callback and media handlers. /help is
// always added.
func (r *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, media MediaHandler) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h", "start"},
		Description: "show this help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		},
	})

	byName := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		list = append(list, c)
		cp := &list[len(list)-1]
		for _, n := range append([]string{name}, c.Aliases...) {
			if n = sanitizeTelegramCommand(n); n != "" {
				if _, taken := byName[n]; !taken {
					byName[n] = cp
				}
			}
		}
	}

	callbacks := map[string]CallbackRoute{}
	for _, cb := range cbs {
		key := tgui.Data(cb.Area, cb.Action, "")
		if cb.Handle == nil || tgui.CheckData(key) != nil {
			continue
		}
		callbacks[key] = cb
	}

	r.mu.Lock()
	r.commands = list
	r.byName = byName
	r.callbacks = callbacks
	r.media = media
	r.mu.Unlock()
}

// PublishMenu pushes the command list to the adapter's menu if it supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	r.mu.RLock()
	menu := buildMenu(r.commands)
	r.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

// Dispatch consumes updates until ctx is done or updates is closed, then
// drains the shards.
func (r *Router) Dispatch(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log))
	shards := make([]chan func(context.Context), r.workers)
	for i := range shards {
		q := make(chan func(context.Context), r.queueSize)
		shards[i] = q
		sup.GoRestart("router.shard."+strconv.Itoa(i), func(c context.Context) error {
			return r.work(c, q)
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("dispatcher started", logx.Int("shards", len(shards)), logx.Int("queue_cap", r.queueSize))

	defer func() {
		// Shards are only written from this loop, so closing here is safe.
		for _, q := range shards {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.route(up)
			if job == nil {
				continue
			}
			q := shards[shardFor(up.ChatID(), len(shards))]
			select {
			case q <- job:
			default:
				r.log.Warn("dispatch queue full; dropping update", logx.Int64("chat_id", up.ChatID()))
				if cb := up.Callback; cb != nil {
					_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy, try again")
				}
			}
		}
	}
}

func shardFor(chatID int64, n int) int {
	return int(uint64(chatID) % uint64(n))
}

// work runs jobs until q is closed. A job panic is logged and the shard keeps
// going; a nil return after close stops the restart loop.
func (r *Router) work(ctx context.Context, q <-chan func(context.Context)) error {
	for job := range q {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error("panic in dispatch job", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				}
			}()
			job(ctx)
		}()
	}
	return nil
}

// route turns an update into a job, or nil if nothing should run.
func (r *Router) route(up kit.Update) func(context.Context) {
	switch up.Kind {
	case kit.UpdateMessage:
		return r.routeMessage(up)
	case kit.UpdateCallback:
		return r.routeCallback(up)
	}
	return nil
}

func (r *Router) routeMessage(up kit.Update) func(context.Context) {
	msg := up.Message
	if msg == nil {
		return nil
	}
	req := r.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, msg.FromID, msg.IsPrivate)
	req.FromName = msg.FromName

	r.mu.RLock()
	media := r.media
	r.mu.RUnlock()
	if msg.Media != nil && media != nil {
		m := *msg.Media
		req.Command = "upload"
		h := func(ctx context.Context, req *Request) error { return media(ctx, req, m) }
		return r.job(req, AccessEveryone, "", 0, h)
	}

	name, ok := parseCommand(msg.Text)
	if !ok {
		return nil
	}
	r.mu.RLock()
	cmd := r.byName[name]
	r.mu.RUnlock()
	if cmd == nil {
		return nil
	}
	req.Command = cmd.Name
	return r.job(req, cmd.Access, cmd.Denied, cmd.Timeout, cmd.Handle)
}

func (r *Router) routeCallback(up kit.Update) func(context.Context) {
	cb := up.Callback
	if cb == nil {
		return nil
	}
	area, action, payload, ok := tgui.Split(cb.Data)
	if !ok {
		return nil
	}
	key := tgui.Data(area, action, "")
	r.mu.RLock()
	route, found := r.callbacks[key]
	r.mu.RUnlock()
	if !found {
		return nil
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, cb.IsPrivate)
	req.Command = "cb:" + key
	req.Payload = payload
	inner := r.job(req, route.Access, route.Denied, route.Timeout, route.Handle)
	return func(ctx context.Context) {
		// Answer first so the client stops its spinner even if the handler is slow.
		if err := r.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
			req.Logger.Debug("answer callback failed", logx.Err(err))
		}
		inner(ctx)
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, private bool) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Private: private,
		ReqID:   rid,
		Adapter: r.adapter,
		Config:  r.config(),
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
		),
	}
}

func (r *Router) config() *config.Config {
	if r.cfg == nil {
		return &config.Config{}
	}
	if c := r.cfg(); c != nil {
		return c
	}
	return &config.Config{}
}

func (r *Router) job(req *Request, access Access, denied string, timeout time.Duration, h HandlerFunc) func(context.Context) {
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	return func(ctx context.Context) {
		allowed, err := r.allowed(ctx, req, access)
		if err != nil {
			req.Logger.Warn("permission lookup failed", logx.Err(err))
		}
		if !allowed {
			req.Logger.Debug("access denied", logx.String("cmd", req.Command))
			if denied != "" {
				_ = req.Reply(ctx, denied, nil)
			}
			return
		}
		_ = final(ctx, req)
	}
}

func (r *Router) allowed(ctx context.Context, req *Request, access Access) (bool, error) {
	switch access {
	case AccessEveryone:
		return true, nil
	case AccessOperator:
		return req.Config.IsOperator(req.FromID), nil
	case AccessChatAdminOrOperator:
		if req.Config.IsOperator(req.FromID) {
			return true, nil
		}
	}
	if req.Private {
		return true, nil
	}
	role, err := r.adapter.MemberRole(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		return false, err
	}
	return role.Privileged(), nil
}
