package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reelbot/internal/config"
	kit "reelbot/internal/transport"
	logx "reelbot/pkg/logx"
)

type nopAdapter struct{}

func (nopAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (nopAdapter) Stop(context.Context) error                     { return nil }
func (nopAdapter) SendMedia(context.Context, kit.ChatTarget, string, *kit.MediaOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopAdapter) SendDocument(context.Context, kit.ChatTarget, string, kit.DocumentMeta) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopAdapter) SendAction(context.Context, kit.ChatTarget, kit.ChatAction) error { return nil }
func (nopAdapter) MemberRole(context.Context, int64, int64) (kit.Role, error) {
	return kit.RoleMember, nil
}
func (nopAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func TestMappings(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{OperatorIDs: []int64{7}},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true},
		},
		Push:     config.PushConfig{Interval: "30s", Caption: "c"},
		Storage:  config.StorageConfig{Driver: "postgres", DSN: "postgres://x", BusyTimeout: "3s", MaxConns: 4},
		Notifier: &config.NotifierConfig{Workers: 3, RetryBase: "200ms", DedupWindow: "1m"},
	}

	sc, err := storageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "postgres" || sc.BusyTimeout != 3*time.Second || sc.MaxConns != 4 {
		t.Fatalf("storage = %+v", sc)
	}

	if lc := loggingConfig(cfg); lc.Telegram.Enabled {
		t.Fatal("telegram log sink enabled without a group_log target")
	}
	cfg.Telegram.GroupLog = "-100"
	if lc := loggingConfig(cfg); !lc.Telegram.Enabled || lc.Level != "debug" {
		t.Fatalf("logging = %+v", lc)
	}

	nc := notifierConfig(cfg)
	if nc.Workers != 3 || nc.RetryBase != 200*time.Millisecond || nc.DedupWindow != time.Minute || len(nc.Operators) != 1 {
		t.Fatalf("notifier = %+v", nc)
	}

	ps := pushSettings(cfg)
	if ps.Interval != 30*time.Second || ps.Caption != "c" || ps.ExhaustedText != config.DefaultExhaustedText {
		t.Fatalf("push = %+v", ps)
	}
}

func TestStorageReopenOnReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"telegram":{"token":"x"},"storage":{"driver":"sqlite","path":"` + filepath.ToSlash(filepath.Join(dir, "a.db")) + `"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewConfigManager(path)
	cfgm.SetOverrides(func() (config.Overrides, error) { return config.Overrides{}, nil })
	prev, err := cfgm.Load()
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := build(ctx, cfgm, nopAdapter{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = a.push.Stop(ctx)
		_ = a.ingest.Stop(ctx)
		_ = a.store.Close()
	})
	if _, err := a.store.Append(ctx, "file-1"); err != nil {
		t.Fatal(err)
	}

	next := *prev
	next.Storage.Path = filepath.Join(dir, "b.db")
	a.applyConfig(ctx, prev, &next)

	if a.store.Rebuilds() != 1 {
		t.Fatalf("rebuilds = %d, want 1", a.store.Rebuilds())
	}
	if n, err := a.store.Count(ctx); err != nil || n != 0 {
		t.Fatalf("count on new db = %d, %v", n, err)
	}

	bad := next
	bad.Storage.Driver = "postgres"
	bad.Storage.DSN = "postgres://127.0.0.1:1/none?connect_timeout=1"
	a.applyConfig(ctx, &next, &bad)
	if a.store.Rebuilds() != 1 {
		t.Fatal("failed reopen replaced the backend")
	}
}

func TestValidateReloadRejectsUnreachableStorage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"telegram":{"token":"x"},"storage":{"driver":"sqlite","path":"` + filepath.ToSlash(filepath.Join(dir, "a.db")) + `"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgm := config.NewConfigManager(path)
	cfgm.SetOverrides(func() (config.Overrides, error) { return config.Overrides{}, nil })
	cur, err := cfgm.Load()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a, err := build(ctx, cfgm, nopAdapter{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = a.push.Stop(ctx)
		_ = a.ingest.Stop(ctx)
		_ = a.store.Close()
	})

	same := *cur
	same.Push.Interval = "1m"
	if err := a.validateReload(ctx, &same); err != nil {
		t.Fatalf("non-storage change rejected: %v", err)
	}

	moved := *cur
	moved.Storage.Path = filepath.Join(dir, "b.db")
	if err := a.validateReload(ctx, &moved); err != nil {
		t.Fatalf("reachable storage rejected: %v", err)
	}

	bad := *cur
	bad.Storage.Driver = "postgres"
	bad.Storage.DSN = "postgres://127.0.0.1:1/none?connect_timeout=1"
	if err := a.validateReload(ctx, &bad); err == nil {
		t.Fatal("unreachable storage accepted")
	}
	if a.store.Rebuilds() != 0 {
		t.Fatal("validation touched the live backend")
	}
}
