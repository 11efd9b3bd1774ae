package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "reelbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls forwarding of log lines to the group log chat.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./reelbot.log"

// Service owns the log outputs and swaps them on Apply.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	root atomic.Pointer[zerolog.Logger]
	file *os.File

	sender kit.TextSender
	lines  chan string
	stop   context.CancelFunc
	wg     sync.WaitGroup

	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

// New applies cfg and returns the service with its root logger. sender
// carries the Telegram sink; it may be nil.
func New(cfg Config, sender kit.TextSender) (*Service, Logger) {
	s := &Service{
		sender:   sender,
		lines:    make(chan string, 256),
		threadID: cfg.Telegram.ThreadID,
	}
	zl := consoleRoot(parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetTelegramTarget sets the group log chat. A zero threadID keeps the
// configured one.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.mu.Lock()
	s.chatID = chatID
	if threadID != 0 {
		s.threadID = threadID
	}
	s.mu.Unlock()
}

// Apply swaps outputs and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Telegram.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Telegram.ThreadID != 0 {
		s.threadID = cfg.Telegram.ThreadID
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled && s.sender != nil {
		s.startForwarderLocked()
		writers = append(writers, &groupWriter{svc: s})
		if s.chatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram sink enabled without telegram.group_log")
		}
	}
	if len(writers) == 0 {
		writers = append(writers, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

func (s *Service) startForwarderLocked() {
	if s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forward(ctx)
	}()
}

// Close stops the Telegram forwarder and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.stop
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.wg.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func (s *Service) forward(ctx context.Context) {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.lines:
			s.mu.Lock()
			to := kit.ChatTarget{ChatID: s.chatID, ThreadID: s.threadID}
			s.mu.Unlock()
			if to.ChatID == 0 {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = s.sender.SendText(sendCtx, to, text, opt)
			cancel()
		}
	}
}

// groupWriter is the zerolog sink for the group log chat. It never blocks:
// lines over the rate limit or beyond the queue are dropped.
type groupWriter struct{ svc *Service }

func (w *groupWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *groupWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	ok := s.chatID != 0 && level >= s.minLevel && s.limiter != nil && s.limiter.Allow()
	s.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := renderGroupLine(p); text != "" {
		select {
		case s.lines <- text:
		default:
		}
	}
	return len(p), nil
}
