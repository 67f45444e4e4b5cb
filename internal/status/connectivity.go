package status

import (
	"context"
	"log/slog"
	"time"
)

// Prober checks whether the backend is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Watcher polls the backend and records connectivity transitions in the
// status store.
type Watcher struct {
	prober   Prober
	store    *Store
	interval time.Duration

	// OnOnline, if set, runs whenever connectivity transitions from
	// offline to online. The engine hooks this to trigger a sync cycle.
	OnOnline func()
}

// NewWatcher creates a watcher probing at the given interval.
func NewWatcher(prober Prober, store *Store, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{prober: prober, store: store, interval: interval}
}

// Run probes until the context is canceled. The first probe happens
// immediately so callers learn the initial state without waiting a full
// interval.
func (w *Watcher) Run(ctx context.Context) {
	w.probe(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

// Probe runs a single reachability check and returns the result.
func (w *Watcher) Probe(ctx context.Context) bool {
	return w.probe(ctx)
}

func (w *Watcher) probe(ctx context.Context) bool {
	err := w.prober.Health(ctx)
	online := err == nil

	was := w.store.Current().Online
	if online != was {
		if online {
			slog.Info("connectivity restored")
		} else {
			slog.Info("connectivity lost", "error", err)
		}
		w.store.SetOnline(online)
		if online && w.OnOnline != nil {
			w.OnOnline()
		}
	}
	return online
}
