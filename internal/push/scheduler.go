package push

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reelbot/internal/timers"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
)

const DefaultInterval = 10 * time.Minute

var ErrStopped = errors.New("push scheduler stopped")

// StartResult tells the caller whether Start opened a new session.
type StartResult int

const (
	Started StartResult = iota + 1
	AlreadyActive
)

func (r StartResult) String() string {
	switch r {
	case Started:
		return "started"
	case AlreadyActive:
		return "already_active"
	}
	return "unknown"
}

// Store is the storage surface the scheduler needs.
type Store interface {
	At(ctx context.Context, offset int) (string, bool, error)
	Offset(ctx context.Context, chatID int64) (int, bool, error)
	InitOffset(ctx context.Context, chatID int64, offset int) error
	SetOffset(ctx context.Context, chatID int64, offset int) error
}

// Sender delivers to a chat.
type Sender interface {
	kit.TextSender
	SendMedia(ctx context.Context, to kit.ChatTarget, mediaRef string, opt *kit.MediaOptions) (kit.MessageRef, error)
}

// Settings is read once per delivery, so a config reload applies from the
// next item on.
type Settings struct {
	Interval        time.Duration
	ExhaustedText   string
	PausedText      string
	Caption         string
	OperatorCaption string
}

type Options struct {
	Store    Store
	Sender   Sender
	Settings func() Settings
	// IsOperator selects the operator delivery variant for a recipient.
	IsOperator func(chatID int64) bool
	// OperatorRows are appended below the standard controls for operators.
	OperatorRows [][]kit.Control
	Clock        timers.Clock
	Log          logx.Logger
}

type session struct {
	chat kit.ChatTarget

	// run serializes deliveries for one recipient. next and armed are only
	// touched while run is held.
	run   sync.Mutex
	next  int
	armed uint64
}

// SessionInfo is a read-only view of an active session.
type SessionInfo struct {
	ChatID     int64
	Next       int
	Delivering bool // Next is stale while a delivery runs
	Armed      bool
}

// Scheduler owns one push session and at most one pending timer per chat.
type Scheduler struct {
	store    Store
	send     Sender
	settings func() Settings
	isOp     func(int64) bool
	opRows   [][]kit.Control
	log      logx.Logger

	timers *timers.Registry[int64]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[int64]*session
	stopped  bool
	wg       sync.WaitGroup
}

func New(opt Options) *Scheduler {
	settings := opt.Settings
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}
	isOp := opt.IsOperator
	if isOp == nil {
		isOp = func(int64) bool { return false }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    opt.Store,
		send:     opt.Sender,
		settings: settings,
		isOp:     isOp,
		opRows:   opt.OperatorRows,
		log:      opt.Log.With(logx.String("comp", "push")),
		timers:   timers.New[int64](opt.Clock),
		ctx:      ctx,
		cancel:   cancel,
		sessions: map[int64]*session{},
	}
}

// Start opens a session for chat and delivers the item at its stored offset.
// A chat that already has a session gets AlreadyActive.
func (s *Scheduler) Start(ctx context.Context, chat kit.ChatTarget) (StartResult, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrStopped
	}
	if _, ok := s.sessions[chat.ChatID]; ok {
		s.mu.Unlock()
		return AlreadyActive, nil
	}
	sess := &session{chat: chat}
	s.sessions[chat.ChatID] = sess
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sess.run.Lock()
	defer sess.run.Unlock()

	off, ok, err := s.store.Offset(ctx, chat.ChatID)
	if err == nil && !ok {
		off = 0
		err = s.store.InitOffset(ctx, chat.ChatID, 0)
	}
	if err != nil {
		s.drop(sess)
		return 0, fmt.Errorf("load progress for %d: %w", chat.ChatID, err)
	}

	s.log.Info("push started", logx.Int64("chat_id", chat.ChatID), logx.Int("offset", off))
	s.deliver(sess, off)
	return Started, nil
}

// Skip cancels the pending timer and delivers the session's next item now.
// It reports false when chat has no session.
func (s *Scheduler) Skip(_ context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	sess := s.sessions[chatID]
	if sess == nil {
		s.mu.Unlock()
		return false, nil
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sess.run.Lock()
	defer sess.run.Unlock()
	if !s.live(sess) {
		return false, nil
	}
	s.timers.Cancel(chatID)
	sess.armed = 0
	s.deliver(sess, sess.next)
	return true, nil
}

// Pause ends the session for chat. A delivery already running finishes but
// does not rearm. Pausing an idle chat is a no-op and reports false.
func (s *Scheduler) Pause(ctx context.Context, chatID int64, notify bool) bool {
	s.mu.Lock()
	sess := s.sessions[chatID]
	if sess == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, chatID)
	s.timers.Cancel(chatID)
	s.mu.Unlock()

	s.log.Info("push paused", logx.Int64("chat_id", chatID))
	if notify {
		if text := s.settings().PausedText; text != "" {
			if _, err := s.send.SendText(ctx, sess.chat, text, nil); err != nil {
				s.log.Warn("pause notice failed", logx.Int64("chat_id", chatID), logx.Err(err))
			}
		}
	}
	return true
}

// Active reports whether chat has a session.
func (s *Scheduler) Active(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[chatID]
	return ok
}

// Sessions returns a snapshot ordered by chat id.
func (s *Scheduler) Sessions() []SessionInfo {
	s.mu.Lock()
	list := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		if !sess.run.TryLock() {
			out = append(out, SessionInfo{ChatID: sess.chat.ChatID, Delivering: true})
			continue
		}
		next := sess.next
		sess.run.Unlock()
		out = append(out, SessionInfo{
			ChatID: sess.chat.ChatID,
			Next:   next,
			Armed:  s.timers.Pending(sess.chat.ChatID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// Stop cancels every timer, drops all sessions and waits for running
// deliveries, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	n := len(s.sessions)
	s.sessions = map[int64]*session{}
	s.mu.Unlock()

	s.timers.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("push scheduler stopped", logx.Int("sessions", n))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) live(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sess.chat.ChatID] == sess
}

// drop removes sess if it is still the registered session.
func (s *Scheduler) drop(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.chat.ChatID] != sess {
		return false
	}
	delete(s.sessions, sess.chat.ChatID)
	s.timers.Cancel(sess.chat.ChatID)
	return true
}

// fire runs when a session timer expires.
func (s *Scheduler) fire(sess *session, tok uint64) {
	s.mu.Lock()
	if s.stopped || s.sessions[sess.chat.ChatID] != sess {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sess.run.Lock()
	defer sess.run.Unlock()
	// A skip that ran while this timer was waiting for the lock already
	// delivered and rearmed.
	if sess.armed != tok || !s.live(sess) {
		return
	}
	sess.armed = 0
	s.deliver(sess, sess.next)
}

// deliver sends the item at offset and schedules offset+1. sess.run must be
// held.
func (s *Scheduler) deliver(sess *session, offset int) {
	ctx := s.ctx
	chatID := sess.chat.ChatID
	log := s.log.With(logx.Int64("chat_id", chatID), logx.Int("offset", offset))
	set := s.settings()

	if !s.live(sess) {
		return
	}

	ref, ok, err := s.store.At(ctx, offset)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Storage is unreachable; try the same offset on the next tick.
		log.Error("catalog lookup failed", logx.Err(err))
		sess.next = offset
		s.arm(sess, set.Interval)
		return
	}
	if !ok {
		s.exhausted(ctx, sess, set, log)
		return
	}

	opt := s.mediaOptions(chatID, set)
	if _, err := s.send.SendMedia(ctx, sess.chat, ref, opt); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("delivery failed, skipping item", logx.String("media_ref", ref), logx.Err(err))
	} else {
		log.Debug("item delivered")
	}

	next := offset + 1
	sess.next = next
	// A paused session must not overwrite progress saved by a newer one.
	if !s.live(sess) {
		log.Debug("session ended during delivery; progress not saved")
		return
	}
	if err := s.store.SetOffset(ctx, chatID, next); err != nil {
		log.Error("progress write failed", logx.Int("next", next), logx.Err(err))
	}
	s.arm(sess, set.Interval)
}

func (s *Scheduler) exhausted(ctx context.Context, sess *session, set Settings, log logx.Logger) {
	chatID := sess.chat.ChatID
	if !s.drop(sess) {
		return
	}
	log.Info("catalog exhausted")
	if set.ExhaustedText != "" {
		if _, err := s.send.SendText(ctx, sess.chat, set.ExhaustedText, nil); err != nil {
			log.Warn("exhaustion notice failed", logx.Err(err))
		}
	}
	sess.next = 0
	if err := s.store.SetOffset(ctx, chatID, 0); err != nil {
		log.Error("progress reset failed", logx.Err(err))
	}
}

// arm schedules the next delivery unless the session has ended meanwhile.
func (s *Scheduler) arm(sess *session, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.sessions[sess.chat.ChatID] != sess {
		return
	}
	sess.armed = s.timers.Arm(sess.chat.ChatID, interval, func(tok uint64) {
		s.fire(sess, tok)
	})
}

func (s *Scheduler) mediaOptions(chatID int64, set Settings) *kit.MediaOptions {
	rows := [][]kit.Control{Controls()}
	caption := set.Caption
	if s.isOp(chatID) {
		rows = append(rows, s.opRows...)
		if set.OperatorCaption != "" {
			caption = set.OperatorCaption
		}
	}
	return &kit.MediaOptions{Caption: caption, Controls: rows}
}
