package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 200 * time.Millisecond

// Watch blocks until ctx is done, reloading the config file whenever it
// changes and passing each successfully loaded config to onChange. Invalid
// edits are logged and ignored so the running config stays in effect.
//
// The parent directory is watched rather than the file because editors
// commonly replace files through a rename.
func Watch(ctx context.Context, configPath, dataDir string, log zerolog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	log.Debug().Str("path", target).Msg("watching config")

	var (
		debounce *time.Timer
		fire     <-chan time.Time
	)
	stop := func() {
		if debounce != nil {
			debounce.Stop()
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if name, _ := filepath.Abs(ev.Name); name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			stop()
			debounce = time.NewTimer(watchDebounce)
			fire = debounce.C

		case <-fire:
			fire = nil
			cfg, err := Load(configPath, dataDir)
			if err != nil {
				log.Warn().Err(err).Msg("config reload failed, keeping previous config")
				continue
			}
			log.Info().Str("path", target).Msg("config reloaded")
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}
