package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "reelbot/internal/runtime/supervisor"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
	"reelbot/pkg/tgui"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 100

// Service implements the alert pipeline. It is safe for concurrent use.
type Service struct {
	send kit.TextSender
	log  logx.Logger

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan Notification
	sup       *rtsup.Supervisor
	accepting bool
	enqWG     sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, send kit.TextSender, log logx.Logger) *Service {
	s := &Service{
		send:  send,
		log:   log.With(logx.String("comp", "notifier")),
		dedup: map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the configuration. Queue size and worker count take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 1000
	}
	if strings.TrimSpace(cfg.UnavailableText) == "" {
		cfg.UnavailableText = DefaultUnavailableText
	}
	cfg.Operators = append([]int64(nil), cfg.Operators...)
	s.cfg = cfg
	// Burst = rate per sec so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return
	}
	q := make(chan Notification, s.cfg.QueueSize)
	s.queue = q
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return c.Err()
		})
	}
}

// Stop closes intake and drains the queue until ctx is done, then cancels the
// workers.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	s.enqWG.Wait()
	close(q)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Wait(context.Background())
	}()
	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		<-done
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
}

// Notify queues n. Identical notifications within the dedup window are
// dropped silently.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.enqWG.Add(1)
	s.mu.Unlock()
	defer s.enqWG.Done()

	if key := dedupKey(n); window > 0 && key != "" && !s.dedupAllow(key, window, maxEntries) {
		s.log.Debug("notification deduped", logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID))
		return nil
	}

	select {
	case q <- n:
		return nil
	default:
		s.log.Warn("notifier queue full; dropping", logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID))
		return ErrQueueFull
	}
}

// Fail reports a failed request: full detail to the log, a generic notice
// to chat (skipped when chat.ChatID is 0 or an operator's private chat) and
// a system failure alert to every operator.
func (s *Service) Fail(ctx context.Context, chat kit.ChatTarget, summary string, err error) {
	s.log.Error(summary, logx.Int64("chat_id", chat.ChatID), logx.Err(err))

	s.mu.Lock()
	text := s.cfg.UnavailableText
	ops := append([]int64(nil), s.cfg.Operators...)
	s.mu.Unlock()

	// An operator's private chat already gets the alert below.
	if chat.ChatID != 0 && !slices.Contains(ops, chat.ChatID) {
		if e := s.Notify(ctx, Notification{Channel: "unavailable", Target: chat, Text: text}); e != nil {
			s.log.Warn("failure notice not queued", logx.Err(e))
		}
	}
	s.Alert(ctx, ops, AlertText(summary, err))
}

// Report logs a failed operator action and sends one failure message to
// the chat it was invoked from. Other operators are not alerted.
func (s *Service) Report(ctx context.Context, chat kit.ChatTarget, summary string, err error) {
	s.log.Error(summary, logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	if chat.ChatID == 0 {
		return
	}
	n := Notification{
		Channel: "report",
		Target:  chat,
		Text:    AlertText(summary, err),
		Options: &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}
	if e := s.Notify(ctx, n); e != nil {
		s.log.Warn("failure report not queued", logx.Err(e))
	}
}

// Alert queues text for each operator.
func (s *Service) Alert(ctx context.Context, operators []int64, text string) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for _, id := range operators {
		n := Notification{Channel: "alert", Target: kit.ChatTarget{ChatID: id}, Text: text, Options: opt}
		if err := s.Notify(ctx, n); err != nil {
			s.log.Warn("operator alert not queued", logx.Int64("operator", id), logx.Err(err))
		}
	}
}

// AlertText renders a system failure alert in Telegram HTML.
func AlertText(summary string, err error) string {
	head := tgui.JoinH(" ", "🚨", tgui.B("system failure:"), tgui.Esc(summary))
	if err == nil {
		return head.String()
	}
	return tgui.JoinH("\n", head, tgui.Code(tgui.TruncRunes(err.Error(), 512))).String()
}

// Snapshot returns recently delivered notifications, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n Notification) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ChatID: n.Target.ChatID, Text: n.Text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, n)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, n Notification) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.send.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			s.appendHistory(n)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notification dropped after retries",
		logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID), logx.Err(lastErr))
}

func dedupKey(n Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			oldest string
			at     time.Time
		)
		for k, until := range s.dedup {
			if oldest == "" || until.Before(at) {
				oldest, at = k, until
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

// retryDelay is the wait before attempt+1: exponential from RetryBase, capped
// at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
