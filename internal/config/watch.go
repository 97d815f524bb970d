package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the season and async-photo settings from path whenever it
// changes on disk, without requiring a process restart. Only the fields
// the source implementation re-reads live (the whole season block:
// current season, cutoff and end dates; and the async-photo flag) are
// applied; credentials stay env-sourced and are
// re-applied on every reload so a changed file never clobbers a secret.
func Watch(path string, target *Config) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					slog.Warn("config: reload failed, keeping previous values", "path", path, "error", err)
					continue
				}
				target.mu.Lock()
				target.Season = reloaded.Season
				target.Photo.UseAsync = reloaded.Photo.UseAsync
				target.mu.Unlock()
				target.ApplyEnvOverrides()
				slog.Info("config: reloaded season/photo settings", "path", path, "season", reloaded.Season.Current)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watch error", "error", err)
			}
		}
	}()

	return watcher, nil
}
