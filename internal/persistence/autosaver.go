package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/mangaforge/internal/ledger"
)

const (
	retryMin = time.Second
	retryMax = time.Minute
)

type Saver interface {
	Save(ctx context.Context, l ledger.Ledger) error
}

// AutoSaver writes ledger snapshots in the background. Notify never blocks; snapshots that
// arrive while a write is in flight are coalesced so only the newest one is written next.
// A failed write is retried with backoff even if nothing else changes.
type AutoSaver struct {
	saver    Saver
	log      *slog.Logger
	retryMin time.Duration
	retryMax time.Duration

	mu      sync.Mutex
	pending *ledger.Ledger

	writeMu sync.Mutex
	wake    chan struct{}
}

func NewAutoSaver(saver Saver, log *slog.Logger) *AutoSaver {
	if log == nil {
		log = slog.Default()
	}
	return &AutoSaver{
		saver:    saver,
		log:      log,
		retryMin: retryMin,
		retryMax: retryMax,
		wake:     make(chan struct{}, 1),
	}
}

// Notify schedules l to be written.
func (a *AutoSaver) Notify(l ledger.Ledger) {
	a.mu.Lock()
	a.pending = &l
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run writes scheduled snapshots until ctx is done.
func (a *AutoSaver) Run(ctx context.Context) error {
	var (
		retry   <-chan time.Time
		backoff = a.retryMin
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.wake:
		case <-retry:
		}

		if a.write(ctx) {
			retry = nil
			backoff = a.retryMin
			continue
		}
		a.log.Warn("autosave retry scheduled", "in", backoff)
		retry = time.After(backoff)
		backoff = min(backoff*2, a.retryMax)
	}
}

// Flush synchronously writes the newest unsaved snapshot, if any.
func (a *AutoSaver) Flush(ctx context.Context) {
	a.write(ctx)
}

// write reports false when a snapshot is still waiting after the attempt failed.
func (a *AutoSaver) write(ctx context.Context) bool {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	l := a.pending
	a.pending = nil
	a.mu.Unlock()

	if l == nil {
		return true
	}
	if err := a.saver.Save(ctx, *l); err != nil {
		a.log.Error("autosave ledger", "error", err)
		// keep it for the next write unless something newer arrived meanwhile
		a.mu.Lock()
		if a.pending == nil {
			a.pending = l
		}
		a.mu.Unlock()
		return false
	}
	return true
}
