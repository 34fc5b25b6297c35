package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/mangaforge/internal/ledger"
	"github.com/digkill/mangaforge/internal/observability"
)

func TestAccountService_LoadStartsOnDefaultPlan(t *testing.T) {
	accounts := NewAccountService(ledger.DefaultCatalog(), &fakeLoader{}, discardLogger(), nil)

	l, err := accounts.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultPlanID, l.Plan.ID)
	assert.Equal(t, ledger.Finite(30), l.Diamonds)
}

func TestAccountService_LoadError(t *testing.T) {
	accounts := NewAccountService(ledger.DefaultCatalog(), &fakeLoader{err: context.Canceled}, discardLogger(), nil)

	_, err := accounts.Load(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = accounts.Snapshot()
	assert.ErrorIs(t, err, ErrAccountNotLoaded)
}

func TestAccountService_LoadDoesNotFireHook(t *testing.T) {
	saved := ledger.New(ledger.DefaultCatalog().Default())
	saved.Diamonds = ledger.Finite(75)
	accounts := NewAccountService(ledger.DefaultCatalog(), &fakeLoader{saved: &saved}, discardLogger(), nil)

	fired := 0
	accounts.OnChange(func(ledger.Ledger) { fired++ })

	l, err := accounts.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.Finite(75), l.Diamonds)
	assert.Zero(t, fired, "restoring the saved ledger is not a change")

	require.NoError(t, accounts.Admit(ledger.ActionScript))
	assert.Equal(t, 1, fired)
}

func TestAccountService_RejectsMutationsBeforeLoad(t *testing.T) {
	accounts := NewAccountService(ledger.DefaultCatalog(), nil, discardLogger(), nil)

	assert.ErrorIs(t, accounts.Admit(ledger.ActionScript), ErrAccountNotLoaded)
	_, err := accounts.Upgrade(3)
	assert.ErrorIs(t, err, ErrAccountNotLoaded)
}

func TestAccountService_Admit(t *testing.T) {
	accounts := newLoadedAccounts(t, ledger.Finite(40), nil)

	require.NoError(t, accounts.Admit(ledger.ActionPanel))
	l, _ := accounts.Snapshot()
	assert.Equal(t, ledger.Finite(10), l.Diamonds)

	err := accounts.Admit(ledger.ActionCharacter)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	l, _ = accounts.Snapshot()
	assert.Equal(t, ledger.Finite(10), l.Diamonds, "rejected debit leaves the balance alone")

	require.NoError(t, accounts.Admit(ledger.ActionScript))
	l, _ = accounts.Snapshot()
	assert.Equal(t, ledger.Finite(0), l.Diamonds)
}

func TestAccountService_UnknownActionIsInvalid(t *testing.T) {
	accounts := newLoadedAccounts(t, ledger.Finite(100), nil)

	err := accounts.Admit(ledger.Action("teleport"))
	assert.ErrorIs(t, err, ErrInvalidCost)
	l, _ := accounts.Snapshot()
	assert.Equal(t, ledger.Finite(100), l.Diamonds)
}

func TestAccountService_UnlimitedNeverRuns(t *testing.T) {
	accounts := newLoadedAccounts(t, ledger.Unlimited, nil)

	for i := 0; i < 100; i++ {
		require.NoError(t, accounts.Admit(ledger.ActionStory))
	}
	l, _ := accounts.Snapshot()
	assert.True(t, l.Diamonds.IsUnlimited())
}

func TestAccountService_ConcurrentAdmitsNeverOverspend(t *testing.T) {
	accounts := newLoadedAccounts(t, ledger.Finite(95), nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := accounts.Admit(ledger.ActionScript); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, admitted)
	l, _ := accounts.Snapshot()
	assert.Equal(t, ledger.Finite(5), l.Diamonds)
}

func TestAccountService_UpgradeAddsGrants(t *testing.T) {
	accounts := newLoadedAccounts(t, ledger.Finite(12), nil)

	l, err := accounts.Upgrade(3)
	require.NoError(t, err)
	assert.Equal(t, "CONGTU", l.Plan.Code)
	assert.Equal(t, ledger.Finite(212), l.Diamonds)
	assert.Equal(t, ledger.Finite(10), l.Rubies)

	l, err = accounts.Upgrade(16)
	require.NoError(t, err)
	assert.True(t, l.Diamonds.IsUnlimited())

	l, err = accounts.Upgrade(3)
	require.NoError(t, err)
	assert.True(t, l.Diamonds.IsUnlimited(), "unlimited survives a later finite plan")

	_, err = accounts.Upgrade(42)
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestAccountService_OnChangeSeesEveryMutation(t *testing.T) {
	accounts := newLoadedAccounts(t, ledger.Finite(30), nil)

	var seen []ledger.Ledger
	accounts.OnChange(func(l ledger.Ledger) { seen = append(seen, l) })

	require.NoError(t, accounts.Admit(ledger.ActionScript))
	require.Error(t, accounts.Admit(ledger.ActionStory))
	_, err := accounts.Upgrade(1)
	require.NoError(t, err)

	require.Len(t, seen, 2, "rejected debits do not fire the hook")
	assert.Equal(t, ledger.Finite(20), seen[0].Diamonds)
	assert.Equal(t, ledger.Finite(70), seen[1].Diamonds)
	assert.Equal(t, "MEMBER", seen[1].Plan.Code)
}

func TestAccountService_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	accounts := newLoadedAccounts(t, ledger.Finite(30), metrics)

	require.NoError(t, accounts.Admit(ledger.ActionPanel))
	require.Error(t, accounts.Admit(ledger.ActionPanel))
	_, err := accounts.Upgrade(5)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DebitsTotal.WithLabelValues("panel", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DebitsTotal.WithLabelValues("panel", "insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UpgradesTotal.WithLabelValues("DAIGIA")))
	assert.Equal(t, 800.0, testutil.ToFloat64(metrics.DiamondsBalance))
}
