package config

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// settle is how long after the first event of a save the file is reloaded.
// Events arriving in between fold into that reload.
const settle = 100 * time.Millisecond

// Watch monitors path and calls onChange with the newly loaded Config each
// time the file changes. It runs until ctx is cancelled.
//
// A reload that fails to parse or validate is logged and dropped; onChange
// is not called and the previous rules, policies and channels stay active.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves replace the inode; keep watching the new file.
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Add(path)
			}
			if !pending && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				pending = true
				timer.Reset(settle)
			}

		case <-timer.C:
			pending = false
			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload rejected, keeping previous rules", rejectAttrs(path, err)...)
				continue
			}
			slog.Info("config: reloaded", "path", path,
				"workspaces", len(cfg.Workspaces), "rules", cfg.ruleCount(), "channels", len(cfg.Channels))
			onChange(cfg)
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// rejectAttrs names the workspace, rule and field a rejected reload points
// at, when the error carries them.
func rejectAttrs(path string, err error) []any {
	attrs := []any{"path", path}
	var re *RuleError
	if errors.As(err, &re) {
		attrs = append(attrs, "workspace", re.Workspace, "rule", re.Rule)
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		attrs = append(attrs, "field", ve.Field, "reason", ve.Reason)
	}
	return append(attrs, "err", err)
}

func (c *Config) ruleCount() int {
	n := 0
	for _, ws := range c.Workspaces {
		n += len(ws.Rules)
	}
	return n
}
