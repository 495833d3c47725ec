package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the global configuration whenever the settings file changes.
// It blocks until ctx is cancelled; callers run it in a goroutine.
func Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save.
	if err := watcher.Add(DataDir()); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(SettingsPath()) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Settings watcher error")
		case <-reload:
			cfg, err := Load()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to reload settings")
				continue
			}
			Replace(cfg)
			log.Info().Msg("Settings reloaded")
		}
	}
}
