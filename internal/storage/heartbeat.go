package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "reelbot/pkg/logx"
)

const DefaultPingInterval = 5 * time.Minute

// Heartbeat checks a Handle on a fixed interval. A failed check rebuilds the
// backend (see Handle.Check).
type Heartbeat struct {
	h       *Handle
	log     logx.Logger
	timeout time.Duration

	// OnFailure, when set, is called after a check fails.
	OnFailure func(err error)

	mu       sync.Mutex
	c        *cron.Cron
	entry    cron.EntryID
	interval time.Duration
}

func NewHeartbeat(h *Handle, log logx.Logger) *Heartbeat {
	return &Heartbeat{
		h:       h,
		log:     log.With(logx.String("comp", "storage.heartbeat")),
		timeout: 10 * time.Second,
	}
}

// Start begins probing every interval. Calling Start again reschedules.
func (hb *Heartbeat) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.c == nil {
		hb.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		hb.c.Start()
	}
	if hb.entry != 0 && interval == hb.interval {
		return nil
	}
	id, err := hb.c.AddFunc(fmt.Sprintf("@every %s", interval), hb.check)
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	if hb.entry != 0 {
		hb.c.Remove(hb.entry)
	}
	hb.entry = id
	hb.interval = interval
	hb.log.Info("heartbeat scheduled", logx.Duration("interval", interval))
	return nil
}

// Interval returns the active check interval (0 when stopped).
func (hb *Heartbeat) Interval() time.Duration {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.entry == 0 {
		return 0
	}
	return hb.interval
}

func (hb *Heartbeat) check() {
	ctx, cancel := context.WithTimeout(context.Background(), hb.timeout)
	defer cancel()
	if err := hb.h.Check(ctx); err != nil {
		hb.log.Warn("storage heartbeat failed", logx.Err(err))
		if hb.OnFailure != nil {
			hb.OnFailure(err)
		}
		return
	}
	hb.log.Debug("storage heartbeat ok")
}

// Stop halts the schedule and waits for a running check, bounded by ctx.
func (hb *Heartbeat) Stop(ctx context.Context) {
	hb.mu.Lock()
	c := hb.c
	hb.c = nil
	hb.entry = 0
	hb.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
