// Package ingest appends operator uploads to the catalog and reports them in
// batches: one summary per operator after the uploads go quiet for the
// cooldown window.
package ingest

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
	"reelbot/pkg/tgui"
)

const DefaultCooldown = time.Minute

var ErrStopped = errors.New("ingest batcher stopped")

type Store interface {
	Append(ctx context.Context, ref string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// Upload is one media message from a chat.
type Upload struct {
	Operator     int64
	OperatorName string
	Chat         kit.ChatTarget
	MediaRef     string
}

type Options struct {
	Store      Store
	Sender     kit.TextSender
	IsOperator func(userID int64) bool
	Cooldown   func() time.Duration
	// Controls are attached to every summary message.
	Controls [][]kit.Control
	Clock    timers.Clock
	Log      logx.Logger
}

type batch struct {
	operator int64
	name     string
	chat     kit.ChatTarget // first chat of the batch receives the summary
	count    int
	token    uint64
	opened   time.Time
}

// BatchInfo is a read-only view of an open batch.
type BatchInfo struct {
	Operator int64
	ChatID   int64
	Count    int
	Opened   time.Time
}

type Batcher struct {
	store    Store
	send     kit.TextSender
	isOp     func(int64) bool
	cooldown func() time.Duration
	controls [][]kit.Control
	log      logx.Logger

	timers *timers.Registry[int64]
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	batches map[int64]*batch
	stopped bool
	wg      sync.WaitGroup
}

func New(opt Options) *Batcher {
	isOp := opt.IsOperator
	if isOp == nil {
		isOp = func(int64) bool { return false }
	}
	cooldown := opt.Cooldown
	if cooldown == nil {
		cooldown = func() time.Duration { return DefaultCooldown }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		store:    opt.Store,
		send:     opt.Sender,
		isOp:     isOp,
		cooldown: cooldown,
		controls: opt.Controls,
		log:      opt.Log.With(logx.String("comp", "ingest")),
		timers:   timers.New[int64](opt.Clock),
		ctx:      ctx,
		cancel:   cancel,
		batches:  map[int64]*batch{},
	}
}

// RecordUpload stores the media reference and extends the operator's batch.
// Uploads from non-operators are ignored and report accepted=false with no
// error. Duplicates are stored as-is.
func (b *Batcher) RecordUpload(ctx context.Context, up Upload) (accepted bool, err error) {
	if !b.isOp(up.Operator) {
		return false, nil
	}
	if up.MediaRef == "" {
		return false, errors.New("empty media reference")
	}
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return false, ErrStopped
	}

	id, err := b.store.Append(ctx, up.MediaRef)
	if err != nil {
		return true, fmt.Errorf("append media: %w", err)
	}
	b.log.Info("media catalogued",
		logx.Int64("operator", up.Operator),
		logx.Int64("item_id", id),
		logx.String("media_ref", up.MediaRef),
	)

	d := b.cooldown()
	if d <= 0 {
		d = DefaultCooldown
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return true, nil
	}
	bt := b.batches[up.Operator]
	if bt == nil {
		bt = &batch{operator: up.Operator, name: up.OperatorName, chat: up.Chat, opened: time.Now()}
		b.batches[up.Operator] = bt
	}
	bt.count++
	bt.token = b.timers.Arm(up.Operator, d, func(tok uint64) { b.fire(up.Operator, tok) })
	return true, nil
}

func (b *Batcher) fire(operator int64, tok uint64) {
	b.mu.Lock()
	bt := b.batches[operator]
	if b.stopped || bt == nil || bt.token != tok {
		b.mu.Unlock()
		return
	}
	delete(b.batches, operator)
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	b.summarize(b.ctx, bt)
}

func (b *Batcher) summarize(ctx context.Context, bt *batch) {
	log := b.log.With(logx.Int64("operator", bt.operator), logx.Int("batch", bt.count))
	total, err := b.store.Count(ctx)
	if err != nil {
		log.Error("catalog count failed, dropping summary", logx.Err(err))
		return
	}
	opt := &kit.SendOptions{ParseMode: "HTML", Controls: b.controls}
	if _, err := b.send.SendText(ctx, bt.chat, SummaryText(bt.operator, bt.name, bt.count, total), opt); err != nil {
		log.Warn("upload summary failed", logx.Err(err))
		return
	}
	log.Info("upload summary sent", logx.Int("total", total))
}

// SummaryText renders the batch summary in Telegram HTML.
func SummaryText(operator int64, name string, count, total int) string {
	who := tgui.Code(fmt.Sprint(operator))
	if name != "" {
		who = tgui.Mention(name, operator)
	}
	return tgui.JoinH("\n",
		tgui.JoinH(" ", "[operator", who+"]", tgui.Esc(fmt.Sprintf("catalogued %d item(s) in this batch", count))),
		tgui.JoinH(" ", tgui.Esc("Catalog total:"), tgui.B(fmt.Sprint(total))),
	).String()
}

// Pending returns the open batches ordered by operator.
func (b *Batcher) Pending() []BatchInfo {
	b.mu.Lock()
	out := make([]BatchInfo, 0, len(b.batches))
	for _, bt := range b.batches {
		out = append(out, BatchInfo{Operator: bt.operator, ChatID: bt.chat.ChatID, Count: bt.count, Opened: bt.opened})
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Operator < out[j].Operator })
	return out
}

// Stop drops open batches without summaries and waits for summaries being
// sent, bounded by ctx.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	dropped := len(b.batches)
	b.batches = map[int64]*batch{}
	b.mu.Unlock()

	b.timers.Stop()
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if dropped > 0 {
		b.log.Info("open batches dropped on stop", logx.Int("batches", dropped))
	}
	return nil
}
