// Package connectivity turns periodic reachability probes of the review
// server into a "connectivity restored" signal.
package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vbonduro/reviewsync/internal/domain"
)

// Requester receives a replay request per channel when the server becomes
// reachable again.
type Requester interface {
	Request(ch domain.Channel)
}

type Watcher struct {
	probeURL string
	client   *http.Client
	interval time.Duration
	target   Requester
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	probed bool
}

// NewWatcher probes serverURL's venue listing every interval. client must
// not go through the response cache, or a stored copy would mask an outage.
func NewWatcher(serverURL string, client *http.Client, interval time.Duration, target Requester, logger *slog.Logger) *Watcher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		probeURL: strings.TrimRight(serverURL, "/") + "/restaurants",
		client:   client,
		interval: interval,
		target:   target,
		logger:   logger,
	}
}

// Online reports the result of the latest probe.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run probes immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check probes once and signals every channel on a transition to online.
// The first successful probe counts as a transition so that mutations left
// pending by a previous run are replayed.
func (w *Watcher) Check(ctx context.Context) bool {
	up := w.probe(ctx)

	w.mu.Lock()
	restored := up && (!w.online || !w.probed)
	changed := up != w.online || !w.probed
	w.online = up
	w.probed = true
	w.mu.Unlock()

	if changed {
		w.logger.Info("connectivity changed", "online", up)
	}
	if restored {
		for _, ch := range domain.Channels {
			w.target.Request(ch)
		}
	}
	return up
}

func (w *Watcher) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.probeURL, nil)
	if err != nil {
		w.logger.Warn("failed to build probe request", "error", err)
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug("probe failed", "url", w.probeURL, "error", err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
