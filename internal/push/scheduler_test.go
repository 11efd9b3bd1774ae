package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reelbot/internal/storage"
	"reelbot/internal/timers"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
)

const interval = time.Minute

type sent struct {
	chat    int64
	media   string
	text    string
	caption string
	rows    int
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sent
	failRef map[string]bool
	gate    *gate
}

// gate blocks the next SendMedia until released.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

// holdNext makes the next SendMedia block until the returned gate's release
// channel is closed.
func (f *fakeSender) holdNext() *gate {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gate = g
	f.mu.Unlock()
	return g
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, to kit.ChatTarget, ref string, opt *kit.MediaOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	if g := f.gate; g != nil {
		f.gate = nil
		f.mu.Unlock()
		close(g.entered)
		<-g.release
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	if f.failRef[ref] {
		return kit.MessageRef{}, errors.New("Bad Request: wrong file identifier")
	}
	s := sent{chat: to.ChatID, media: ref}
	if opt != nil {
		s.caption = opt.Caption
		s.rows = len(opt.Controls)
	}
	f.sent = append(f.sent, s)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fixture struct {
	clock *timers.ManualClock
	store *storage.Memory
	send  *fakeSender
	s     *Scheduler
}

// failingProgress rejects every progress write.
type failingProgress struct {
	*storage.Memory
}

func (failingProgress) SetOffset(context.Context, int64, int) error {
	return errors.New("database is locked")
}

func newFixture(t *testing.T, refs ...string) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, refs...)
}

// newFixtureWith builds a fixture whose scheduler sees wrap(memory store)
// when wrap is set.
func newFixtureWith(t *testing.T, wrap func(*storage.Memory) Store, refs ...string) *fixture {
	t.Helper()
	f := &fixture{
		clock: timers.NewManualClock(),
		store: storage.NewMemory(),
		send:  &fakeSender{failRef: map[string]bool{}},
	}
	for _, r := range refs {
		if _, err := f.store.Append(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	var store Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	f.s = New(Options{
		Store:  store,
		Sender: f.send,
		Settings: func() Settings {
			return Settings{
				Interval:        interval,
				ExhaustedText:   "no more videos",
				PausedText:      "paused",
				Caption:         "enjoy",
				OperatorCaption: "enjoy (operator)",
			}
		},
		IsOperator:   func(id int64) bool { return id == 7 },
		OperatorRows: [][]kit.Control{{{Text: "Dedup", Data: "admin:dedup"}}},
		Clock:        f.clock,
		Log:          logx.Nop(),
	})
	t.Cleanup(func() { _ = f.s.Stop(context.Background()) })
	return f
}

func (f *fixture) offset(t *testing.T, chat int64) int {
	t.Helper()
	off, ok, err := f.store.Offset(context.Background(), chat)
	if err != nil || !ok {
		t.Fatalf("offset for %d: ok=%v err=%v", chat, ok, err)
	}
	return off
}

func expectMedia(t *testing.T, got []sent, want ...string) {
	t.Helper()
	var media []string
	for _, s := range got {
		if s.media != "" {
			media = append(media, s.media)
		}
	}
	if len(media) != len(want) {
		t.Fatalf("media = %v, want %v", media, want)
	}
	for i := range want {
		if media[i] != want[i] {
			t.Fatalf("media = %v, want %v", media, want)
		}
	}
}

func TestScenarioStartSkipTimerExhaust(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	chat := kit.ChatTarget{ChatID: 100}

	res, err := f.s.Start(ctx, chat)
	if err != nil || res != Started {
		t.Fatalf("Start = %v, %v", res, err)
	}
	expectMedia(t, f.send.take(), "A")
	if off := f.offset(t, 100); off != 1 {
		t.Fatalf("after A offset = %d, want 1", off)
	}

	ok, err := f.s.Skip(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("Skip = %v, %v", ok, err)
	}
	expectMedia(t, f.send.take(), "B")
	if off := f.offset(t, 100); off != 2 {
		t.Fatalf("after B offset = %d, want 2", off)
	}

	f.clock.Advance(interval)
	expectMedia(t, f.send.take(), "C")
	if off := f.offset(t, 100); off != 3 {
		t.Fatalf("after C offset = %d, want 3", off)
	}

	f.clock.Advance(interval)
	got := f.send.take()
	if len(got) != 1 || got[0].text != "no more videos" {
		t.Fatalf("want exhaustion notice, got %+v", got)
	}
	if off := f.offset(t, 100); off != 0 {
		t.Fatalf("after exhaustion offset = %d, want 0", off)
	}
	if f.s.Active(100) {
		t.Fatal("session should end on exhaustion")
	}
	if f.clock.Pending() != 0 {
		t.Fatalf("pending timers after exhaustion: %d", f.clock.Pending())
	}
}

func TestStartAlreadyActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	chat := kit.ChatTarget{ChatID: 5}

	if _, err := f.s.Start(ctx, chat); err != nil {
		t.Fatal(err)
	}
	res, err := f.s.Start(ctx, chat)
	if err != nil || res != AlreadyActive {
		t.Fatalf("second Start = %v, %v", res, err)
	}
	expectMedia(t, f.send.take(), "A")
}

func TestStartResumesStoredOffset(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	if err := f.store.SetOffset(ctx, 9, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 9}); err != nil {
		t.Fatal(err)
	}
	expectMedia(t, f.send.take(), "C")
}

func TestExhaustedAtStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A")
	ctx := context.Background()
	if err := f.store.SetOffset(ctx, 3, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 3}); err != nil {
		t.Fatal(err)
	}
	got := f.send.take()
	if len(got) != 1 || got[0].text != "no more videos" {
		t.Fatalf("got %+v", got)
	}
	if off := f.offset(t, 3); off != 0 {
		t.Fatalf("offset = %d, want 0", off)
	}
}

func TestFailedDeliveryCountsAsSkip(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "bad", "B")
	f.send.failRef["bad"] = true
	ctx := context.Background()

	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 1}); err != nil {
		t.Fatal(err)
	}
	expectMedia(t, f.send.take())
	if off := f.offset(t, 1); off != 1 {
		t.Fatalf("offset = %d, want 1", off)
	}
	if !f.s.Active(1) {
		t.Fatal("a failed send must not end the session")
	}
	f.clock.Advance(interval)
	expectMedia(t, f.send.take(), "B")
}

func TestPauseStopsTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 2}); err != nil {
		t.Fatal(err)
	}
	f.send.take()

	if !f.s.Pause(ctx, 2, true) {
		t.Fatal("Pause should report an active session")
	}
	if f.s.Pause(ctx, 2, true) {
		t.Fatal("second Pause should be a no-op")
	}
	got := f.send.take()
	if len(got) != 1 || got[0].text != "paused" {
		t.Fatalf("want one pause notice, got %+v", got)
	}
	f.clock.Advance(10 * interval)
	if got := f.send.take(); len(got) != 0 {
		t.Fatalf("paused session delivered %+v", got)
	}
	if ok, _ := f.s.Skip(ctx, 2); ok {
		t.Fatal("Skip on a paused chat should report no session")
	}
}

func TestSingleTimerPerRecipient(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B", "C", "D", "E", "F")
	ctx := context.Background()
	chat := kit.ChatTarget{ChatID: 11}

	steps := []func(){
		func() { _, _ = f.s.Start(ctx, chat) },
		func() { _, _ = f.s.Skip(ctx, 11) },
		func() { _, _ = f.s.Start(ctx, chat) },
		func() { _, _ = f.s.Skip(ctx, 11) },
		func() { f.s.Pause(ctx, 11, false) },
		func() { _, _ = f.s.Start(ctx, chat) },
		func() { f.clock.Advance(interval) },
		func() { _, _ = f.s.Skip(ctx, 11) },
	}
	for i, step := range steps {
		step()
		if n := f.clock.Pending(); n > 1 {
			t.Fatalf("step %d: %d pending timers", i, n)
		}
	}
}

func TestOperatorVariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A")
	ctx := context.Background()

	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 7}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 8}); err != nil {
		t.Fatal(err)
	}
	got := f.send.take()
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	op, std := got[0], got[1]
	if op.caption != "enjoy (operator)" || op.rows != 2 {
		t.Fatalf("operator delivery = %+v", op)
	}
	if std.caption != "enjoy" || std.rows != 1 {
		t.Fatalf("standard delivery = %+v", std)
	}
}

func TestRecipientsIndependent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	_, _ = f.s.Start(ctx, kit.ChatTarget{ChatID: 1})
	_, _ = f.s.Start(ctx, kit.ChatTarget{ChatID: 2})
	_, _ = f.s.Skip(ctx, 1)
	f.send.take()

	if a, b := f.offset(t, 1), f.offset(t, 2); a != 2 || b != 1 {
		t.Fatalf("offsets = %d, %d; want 2, 1", a, b)
	}
	if n := len(f.s.Sessions()); n != 2 {
		t.Fatalf("sessions = %d", n)
	}
}

func TestStopDropsSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	_, _ = f.s.Start(ctx, kit.ChatTarget{ChatID: 1})
	if err := f.s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if f.clock.Pending() != 0 || f.s.Active(1) {
		t.Fatal("Stop should cancel timers and sessions")
	}
	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop err = %v", err)
	}
}

func TestPauseDuringDeliveryStaysPaused(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	g := f.send.holdNext()

	done := make(chan error, 1)
	go func() {
		_, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 1})
		done <- err
	}()
	<-g.entered
	if !f.s.Pause(ctx, 1, false) {
		t.Fatal("Pause should see the session")
	}
	close(g.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if f.s.Active(1) || f.clock.Pending() != 0 {
		t.Fatalf("paused session resumed: active=%v pending=%d", f.s.Active(1), f.clock.Pending())
	}
	f.clock.Advance(10 * interval)
	expectMedia(t, f.send.take(), "A")
}

func TestLateDeliveryKeepsNewerProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	chat := kit.ChatTarget{ChatID: 1}
	g := f.send.holdNext()

	done := make(chan error, 1)
	go func() {
		_, err := f.s.Start(ctx, chat)
		done <- err
	}()
	<-g.entered
	f.s.Pause(ctx, 1, false)

	if _, err := f.s.Start(ctx, chat); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(interval)
	if off := f.offset(t, 1); off != 2 {
		t.Fatalf("offset before old delivery finished = %d, want 2", off)
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if off := f.offset(t, 1); off != 2 {
		t.Fatalf("old delivery rewound progress to %d, want 2", off)
	}
	if !f.s.Active(1) || f.clock.Pending() != 1 {
		t.Fatalf("new session disturbed: active=%v pending=%d", f.s.Active(1), f.clock.Pending())
	}
}

func TestProgressWriteFailureKeepsDelivering(t *testing.T) {
	t.Parallel()
	f := newFixtureWith(t, func(m *storage.Memory) Store { return failingProgress{m} }, "A", "B", "C")
	ctx := context.Background()

	if _, err := f.s.Start(ctx, kit.ChatTarget{ChatID: 4}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(interval)
	f.clock.Advance(interval)
	expectMedia(t, f.send.take(), "A", "B", "C")
	if !f.s.Active(4) {
		t.Fatal("session ended on a progress write failure")
	}
}
