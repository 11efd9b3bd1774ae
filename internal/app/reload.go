package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reelbot/internal/config"
	"reelbot/internal/storage"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
)

// reloadLoop applies published snapshots. Bursts are coalesced so only the
// newest snapshot is applied.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	cur := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case n, ok := <-sub:
					if !ok {
						break drain
					}
					next = n
				default:
					break drain
				}
			}
			a.applyConfig(ctx, cur, next)
			cur = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	attrs = append(attrs, logx.String("sections", strings.Join(changed, ",")))
	a.log.Info("config applied", attrs...)

	if a.logs != nil {
		a.logs.SetTelegramTarget(next.GroupLogID(), next.Logging.Telegram.ThreadID)
		a.logs.Apply(loggingConfig(next))
	}
	a.notif.Apply(notifierConfig(next))

	if prev.PingInterval() != next.PingInterval() {
		if err := a.beat.Start(next.PingInterval()); err != nil {
			a.log.Warn("heartbeat restart failed", logx.Err(err))
		}
	}

	if prev.Telegram.Token != next.Telegram.Token || prev.PollTimeout() != next.PollTimeout() {
		a.log.Warn("telegram token or poll timeout changed; restart required")
	}

	if config.StorageChanged(prev, next) {
		a.reopenStorage(ctx, next)
	}
}

// reopenStorage swaps the backend. On failure the previous backend stays in
// use and operators are alerted.
func (a *App) reopenStorage(ctx context.Context, cfg *config.Config) {
	sc, err := storageConfig(cfg)
	if err == nil {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = a.store.Reconfigure(rctx, storage.Opener(sc, a.log.With(logx.String("comp", "storage"))))
		cancel()
	}
	if err != nil {
		a.notif.Fail(ctx, kit.ChatTarget{}, "storage reconfigure failed", err)
		return
	}
	a.log.Info("storage reopened", logx.String("driver", sc.Driver))
}

// validateReload rejects a snapshot whose new storage settings cannot be
// opened, so the committed config never points at an unreachable backend.
func (a *App) validateReload(ctx context.Context, next *config.Config) error {
	if !config.StorageChanged(a.cfgm.Get(), next) {
		return nil
	}
	sc, err := storageConfig(next)
	if err != nil {
		return err
	}
	b, err := storage.Open(ctx, sc, logx.Nop())
	if err != nil {
		return fmt.Errorf("new storage settings: %w", err)
	}
	return b.Close()
}
