package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/pkg/security"
)

// Watcher re-applies the security policy section when the config file
// changes on disk. Other sections require a restart.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	security *security.Manager
	logger   zerolog.Logger
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewWatcher starts watching the loader's config file.
func NewWatcher(loader *Loader, sec *security.Manager, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		loader:   loader,
		security: sec,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	if err := fw.Add(loader.GetConfigPath()); err != nil {
		fw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Editors often replace the file, which shows up as Create
			// or Rename rather than Write.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("Config change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces bursts of file events into one reload.
func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload config; keeping current policy")
		return
	}

	if err := w.security.UpdatePolicy(cfg.Security); err != nil {
		w.logger.Error().Err(err).Msg("Rejected reloaded security policy; keeping current policy")
		return
	}

	observability.RecordPolicyReloadAudit(context.Background(), w.loader.GetConfigPath())
	w.logger.Info().Msg("Security policy reloaded")
}
