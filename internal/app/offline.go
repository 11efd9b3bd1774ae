package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"reelbot/internal/config"
	"reelbot/internal/maintenance"
	"reelbot/internal/storage"
	logx "reelbot/pkg/logx"
)

// Offline gives command-line maintenance access to the catalog without
// connecting to Telegram.
type Offline struct {
	cfg   *config.Config
	store *storage.Handle
	maint *maintenance.Service
	log   logx.Logger
}

func OpenOffline(ctx context.Context, cfgPath string) (*Offline, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewHandle(ctx, storage.Opener(sc, log), log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return &Offline{
		cfg:   cfg,
		store: store,
		maint: maintenance.New(maintenance.Options{
			Store:   store,
			TempDir: func() string { return cfg.Export.TempDir },
			Log:     log,
		}),
		log: log,
	}, nil
}

func (o *Offline) Deduplicate(ctx context.Context) (maintenance.Report, error) {
	return o.maint.Deduplicate(ctx)
}

// ExportTo writes the zip archive to path, replacing it only on success.
func (o *Offline) ExportTo(ctx context.Context, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".reelbot-export-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := o.maint.WriteArchive(ctx, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	o.log.Info("archive written", logx.String("path", path))
	return nil
}

func (o *Offline) Close() error { return o.store.Close() }
