package router

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"reelbot/internal/config"
	"reelbot/internal/ingest"
	"reelbot/internal/maintenance"
	"reelbot/internal/push"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
)

const operatorID = 1

type fakeAdapter struct {
	mu       sync.Mutex
	texts    map[int64][]string
	answered []string
	roles    map[int64]kit.Role // by user
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.texts == nil {
		f.texts = map[int64][]string{}
	}
	f.texts[to.ChatID] = append(f.texts[to.ChatID], text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendMedia(context.Context, kit.ChatTarget, string, *kit.MediaOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) SendDocument(context.Context, kit.ChatTarget, string, kit.DocumentMeta) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (f *fakeAdapter) SendAction(context.Context, kit.ChatTarget, kit.ChatAction) error { return nil }

func (f *fakeAdapter) MemberRole(_ context.Context, _ int64, userID int64) (kit.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.roles[userID]; ok {
		return r, nil
	}
	return kit.RoleMember, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, _ string) error {
	f.mu.Lock()
	f.answered = append(f.answered, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) sent(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[chatID]...)
}

// fakeServices records calls in arrival order.
type fakeServices struct {
	mu       sync.Mutex
	calls    []string
	active   map[int64]bool
	uploads  []ingest.Upload
	failures []string
	reports  []string
	failWith error
	opErr    error
}

func (s *fakeServices) record(c string) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
}

func (s *fakeServices) Start(_ context.Context, chat kit.ChatTarget) (push.StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "start")
	if s.active == nil {
		s.active = map[int64]bool{}
	}
	if s.active[chat.ChatID] {
		return push.AlreadyActive, nil
	}
	s.active[chat.ChatID] = true
	return push.Started, nil
}

func (s *fakeServices) Skip(_ context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "skip")
	return s.active[chatID], nil
}

func (s *fakeServices) Pause(_ context.Context, chatID int64, _ bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "pause")
	was := s.active[chatID]
	delete(s.active, chatID)
	return was
}

func (s *fakeServices) Sessions() []push.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []push.SessionInfo
	for id := range s.active {
		out = append(out, push.SessionInfo{ChatID: id, Armed: true})
	}
	return out
}

func (s *fakeServices) RecordUpload(_ context.Context, up ingest.Upload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, up)
	return true, s.failWith
}

func (s *fakeServices) Pending() []ingest.BatchInfo { return nil }

func (s *fakeServices) DeduplicateFor(context.Context, kit.ChatTarget) (maintenance.Report, error) {
	s.record("dedup")
	return maintenance.Report{}, nil
}

func (s *fakeServices) Export(context.Context, kit.ChatTarget) error {
	s.record("export")
	return s.opErr
}

func (s *fakeServices) Count(context.Context) (int, error) { return 42, nil }

func (s *fakeServices) Fail(_ context.Context, _ kit.ChatTarget, summary string, _ error) {
	s.mu.Lock()
	s.failures = append(s.failures, summary)
	s.mu.Unlock()
}

func (s *fakeServices) Report(_ context.Context, _ kit.ChatTarget, summary string, _ error) {
	s.mu.Lock()
	s.reports = append(s.reports, summary)
	s.mu.Unlock()
}

func (s *fakeServices) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestRouter(svc *fakeServices, ad *fakeAdapter) *Router {
	cfg := &config.Config{Telegram: config.TelegramConfig{OperatorIDs: []int64{operatorID}}}
	r := New(Options{Adapter: ad, Config: func() *config.Config { return cfg }, Log: logx.Nop(), Workers: 4})
	cmds, cbs, media := Registry(Services{
		Push: svc, Ingest: svc, Maintenance: svc, Catalog: svc, Failures: svc,
	})
	r.SetRegistry(cmds, cbs, media)
	return r
}

// run dispatches updates and returns once every job has finished.
func run(t *testing.T, r *Router, ups ...kit.Update) {
	t.Helper()
	ch := make(chan kit.Update, len(ups))
	for _, u := range ups {
		ch <- u
	}
	close(ch)
	if err := r.Dispatch(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
}

func text(chatID, from int64, private bool, s string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: from, IsPrivate: private, Text: s}}
}

func callback(chatID, from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb-" + data, ChatID: chatID, FromID: from, Data: data}}
}

func TestBeginAccess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		up        kit.Update
		roles     map[int64]kit.Role
		wantStart bool
	}{
		{"private chat", text(10, 5, true, "/kc"), nil, true},
		{"group member", text(-20, 5, false, "/kc"), nil, false},
		{"group admin with bot suffix", text(-20, 5, false, "/kc@reel_bot"), map[int64]kit.Role{5: kit.RoleAdministrator}, true},
		{"group creator alias", text(-20, 5, false, "/begin"), map[int64]kit.Role{5: kit.RoleCreator}, true},
		{"operator is not a chat admin", text(-20, operatorID, false, "/kc"), nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &fakeServices{}
			ad := &fakeAdapter{roles: tt.roles}
			run(t, newTestRouter(svc, ad), tt.up)
			got := slices.Contains(svc.snapshot(), "start")
			if got != tt.wantStart {
				t.Fatalf("start called = %v, want %v", got, tt.wantStart)
			}
			if !tt.wantStart && len(ad.sent(tt.up.ChatID())) != 0 {
				t.Fatal("denied command should be silent")
			}
		})
	}
}

func TestBeginTwiceReportsAlreadyActive(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{}
	ad := &fakeAdapter{}
	run(t, newTestRouter(svc, ad), text(10, 5, true, "/kc"), text(10, 5, true, "/kc"))
	if got := ad.sent(10); !slices.Equal(got, []string{AlreadyActiveText}) {
		t.Fatalf("replies = %q", got)
	}
}

func TestNextWithoutSession(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{}
	ad := &fakeAdapter{}
	run(t, newTestRouter(svc, ad), callback(-20, 5, "push:next"))
	if got := ad.sent(-20); len(got) != 1 || got[0] != config.DefaultStartFirstText {
		t.Fatalf("replies = %q", got)
	}
	if len(ad.answered) != 1 {
		t.Fatal("callback not answered")
	}
}

func TestPauseControl(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{active: map[int64]bool{-20: true}}
	ad := &fakeAdapter{}
	r := newTestRouter(svc, ad)

	run(t, r, callback(-20, 5, "push:pause"))
	if got := ad.sent(-20); !slices.Equal(got, []string{PauseDeniedText}) {
		t.Fatalf("member replies = %q", got)
	}
	if slices.Contains(svc.snapshot(), "pause") {
		t.Fatal("member paused delivery")
	}

	run(t, r, callback(-20, operatorID, "push:pause"))
	if !slices.Contains(svc.snapshot(), "pause") {
		t.Fatal("operator could not pause")
	}
}

func TestOperatorControlsAreSilentForOthers(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{}
	ad := &fakeAdapter{roles: map[int64]kit.Role{5: kit.RoleCreator}}
	r := newTestRouter(svc, ad)

	run(t, r, callback(-20, 5, "admin:dedup"), callback(-20, 5, "admin:export"), text(-20, 5, false, "/status"))
	if calls := svc.snapshot(); len(calls) != 0 {
		t.Fatalf("calls = %v", calls)
	}
	if got := ad.sent(-20); len(got) != 0 {
		t.Fatalf("replies = %q", got)
	}

	run(t, r, callback(-20, operatorID, "admin:dedup"), callback(-20, operatorID, "admin:export"))
	if calls := svc.snapshot(); !slices.Equal(calls, []string{"dedup", "export"}) {
		t.Fatalf("calls = %v", calls)
	}
}

func TestExportFailureReportsToInvoker(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{opErr: errors.New("zip: disk full")}
	run(t, newTestRouter(svc, &fakeAdapter{}), callback(operatorID, operatorID, "admin:export"))

	if !slices.Equal(svc.reports, []string{"export failed"}) {
		t.Fatalf("reports = %v", svc.reports)
	}
	if len(svc.failures) != 0 {
		t.Fatalf("export failure also broadcast: %v", svc.failures)
	}
}

func TestUploadRouting(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{failWith: errors.New("disk full")}
	ad := &fakeAdapter{}
	up := kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: 10, FromID: operatorID, FromName: "Op", IsPrivate: true,
		Media: &kit.Media{Kind: kit.MediaVideo, Ref: "file-1"},
	}}
	run(t, newTestRouter(svc, ad), up)

	if len(svc.uploads) != 1 || svc.uploads[0].MediaRef != "file-1" || svc.uploads[0].OperatorName != "Op" {
		t.Fatalf("uploads = %+v", svc.uploads)
	}
	if !slices.Equal(svc.failures, []string{"catalog write failed"}) {
		t.Fatalf("failures = %v", svc.failures)
	}
}

func TestSameChatStaysOrdered(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{active: map[int64]bool{10: true}}
	ad := &fakeAdapter{}
	var ups []kit.Update
	var want []string
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			ups = append(ups, callback(10, 5, "push:next"))
			want = append(want, "skip")
		} else {
			ups = append(ups, text(10, 5, true, "/kc"))
			want = append(want, "start")
		}
	}
	run(t, newTestRouter(svc, ad), ups...)
	if got := svc.snapshot(); !slices.Equal(got, want) {
		t.Fatalf("order = %v", got)
	}
}

func TestStatusForOperator(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{active: map[int64]bool{77: true}}
	ad := &fakeAdapter{}
	run(t, newTestRouter(svc, ad), text(operatorID, operatorID, true, "/status"))
	got := ad.sent(operatorID)
	if len(got) != 1 || !strings.Contains(got[0], "Catalog size: 42") || !strings.Contains(got[0], "77") {
		t.Fatalf("status = %q", got)
	}
}

func TestHelpHidesOperatorCommands(t *testing.T) {
	t.Parallel()
	svc := &fakeServices{}
	ad := &fakeAdapter{}
	run(t, newTestRouter(svc, ad), text(10, 5, true, "/help"), text(operatorID, operatorID, true, "/help"))
	if got := ad.sent(10); len(got) != 1 || strings.Contains(got[0], "/status") || !strings.Contains(got[0], "/kc") {
		t.Fatalf("user help = %q", got)
	}
	if got := ad.sent(operatorID); len(got) != 1 || !strings.Contains(got[0], "/status") {
		t.Fatalf("operator help = %q", got)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/kc", "kc", true},
		{"/KC@Reel_Bot now", "kc", true},
		{"  /zt\n", "zt", true},
		{"hello /kc", "", false},
		{"/", "", false},
		{"/@bot", "", false},
	}
	for _, tt := range tests {
		name, ok := parseCommand(tt.in)
		if ok != tt.ok || name != tt.want {
			t.Errorf("parseCommand(%q) = %q %v", tt.in, name, ok)
		}
	}
}

func TestBuildMenuSkipsOperatorCommands(t *testing.T) {
	t.Parallel()
	cmds, _, _ := Registry(Services{})
	for _, c := range buildMenu(cmds) {
		if c.Command == "status" {
			t.Fatal("operator command in public menu")
		}
	}
}
