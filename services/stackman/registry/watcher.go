// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events (a connector checkout
// touches many paths) into a single rescan notification.
const watchDebounce = 500 * time.Millisecond

// Watch observes the core and connectors directories and invokes onChange
// after the layout changes (directories or manifests created, removed, or
// renamed). It blocks until ctx is cancelled.
//
// onChange is called from the watch goroutine; callers that rebroadcast
// must do their own fan-out. Watch failures degrade to no notifications,
// never to an error loop: viewers can still trigger discovery on request.
func (r *Registry) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range []string{r.coreDir, r.connectorsDir} {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("failed to watch stack directory", "dir", dir, "error", err)
		}
	}

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	fire := make(chan struct{}, 1)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if pending == nil {
				pending = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(watchDebounce)
			}

		case <-fire:
			pending = nil
			slog.Debug("stack layout changed, notifying")
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("stack directory watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
