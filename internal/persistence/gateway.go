// Package persistence stores the account ledger across restarts over a remote tier and a local
// fallback tier, and writes changes in the background.
package persistence

import (
	"context"
	"log/slog"

	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/models"
	"github.com/digkill/mangaforge/internal/observability"
)

// RecordStore is one storage tier. Load returns nil, nil when the account has no record.
type RecordStore interface {
	Load(ctx context.Context, accountID string) (*models.AccountRecord, error)
	Save(ctx context.Context, rec models.AccountRecord) error
	Name() string
}

// Gateway reads and writes the ledger remote-first. Failures are logged and fall through to the
// local tier; they are never returned to callers.
type Gateway struct {
	remote    RecordStore
	local     RecordStore
	catalog   *ledger.Catalog
	accountID string
	log       *slog.Logger
	metrics   *observability.Metrics
}

// NewGateway builds a gateway. remote may be nil when no remote store is configured.
func NewGateway(remote, local RecordStore, catalog *ledger.Catalog, accountID string, log *slog.Logger, metrics *observability.Metrics) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		remote:    remote,
		local:     local,
		catalog:   catalog,
		accountID: accountID,
		log:       log,
		metrics:   metrics,
	}
}

// Load returns the saved ledger, or nil when neither tier has one.
// The only error returned is the context's.
func (g *Gateway) Load(ctx context.Context) (*ledger.Ledger, error) {
	for _, store := range g.tiers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l, ok := g.loadFrom(ctx, store)
		if ok {
			return l, nil
		}
	}
	return nil, nil
}

func (g *Gateway) loadFrom(ctx context.Context, store RecordStore) (*ledger.Ledger, bool) {
	rec, err := store.Load(ctx, g.accountID)
	g.metrics.ObservePersistence(store.Name(), "load", err)
	if err != nil {
		g.log.Warn("load ledger failed", "tier", store.Name(), "error", err)
		return nil, false
	}
	if rec == nil {
		return nil, false
	}
	l, err := FromRecord(*rec, g.catalog)
	if err != nil {
		g.log.Warn("stored ledger rejected", "tier", store.Name(), "error", err)
		return nil, false
	}
	g.log.Info("ledger loaded", "tier", store.Name(), "plan", l.Plan.Code, "diamonds", l.Diamonds.String())
	return &l, true
}

// Save writes to the remote tier, or to the local tier when there is no remote or the remote
// write fails. The returned error is non-nil only when no tier accepted the write.
func (g *Gateway) Save(ctx context.Context, l ledger.Ledger) error {
	rec := ToRecord(g.accountID, l)
	var lastErr error
	for _, store := range g.tiers() {
		err := store.Save(ctx, rec)
		g.metrics.ObservePersistence(store.Name(), "save", err)
		if err == nil {
			return nil
		}
		g.log.Warn("save ledger failed", "tier", store.Name(), "error", err)
		lastErr = err
	}
	return lastErr
}

func (g *Gateway) tiers() []RecordStore {
	tiers := make([]RecordStore, 0, 2)
	if g.remote != nil {
		tiers = append(tiers, g.remote)
	}
	if g.local != nil {
		tiers = append(tiers, g.local)
	}
	return tiers
}
