package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
)

// Refresher renews an account's platform credentials. Successful renewals
// reach the store through the RenewalListener. *upstream.Client implements
// it.
type Refresher interface {
	Refresh(ctx context.Context, a domain.Account) error
}

// KeeperObserver counts keeper refreshes.
type KeeperObserver interface {
	RecordKeeperRefresh(result string)
}

// CredentialKeeper periodically refreshes credentials of accounts nobody
// has used for a while, so their refresh tokens do not lapse.
type CredentialKeeper struct {
	Store      store.Store
	Upstream   Refresher
	Logger     *slog.Logger
	Observer   KeeperObserver
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCredentialKeeper creates a keeper. If interval is 0 or negative,
// defaults to 24 hours; staleAfter defaults to 30 days.
func NewCredentialKeeper(
	st store.Store,
	up Refresher,
	logger *slog.Logger,
	interval, staleAfter time.Duration,
) *CredentialKeeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if staleAfter <= 0 {
		staleAfter = 30 * 24 * time.Hour
	}

	return &CredentialKeeper{
		Store:      st,
		Upstream:   up,
		Logger:     logger,
		Interval:   interval,
		StaleAfter: staleAfter,
		BatchSize:  100,
		Now:        time.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop() to shut it down.
func (k *CredentialKeeper) Start() {
	go k.run()
	k.Logger.Info("credential keeper started", "interval", k.Interval, "stale_after", k.StaleAfter)
}

// Stop blocks until an in-progress sweep has finished.
func (k *CredentialKeeper) Stop() {
	close(k.stopCh)
	<-k.doneCh
	k.Logger.Info("credential keeper stopped")
}

func (k *CredentialKeeper) run() {
	defer close(k.doneCh)

	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-k.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	k.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			k.Sweep(ctx)
		case <-k.stopCh:
			return
		}
	}
}

// Sweep refreshes every stale account, BatchSize rows at a time. Each
// refresh is independent; failures are logged and counted. Pages follow a
// cursor, so accounts that keep failing cannot hold back the rest.
func (k *CredentialKeeper) Sweep(ctx context.Context) (refreshed, failed int) {
	cutoff := k.Now().Add(-k.StaleAfter).UnixMilli()

	var cursor store.StaleCursor
	for ctx.Err() == nil {
		accounts, err := k.Store.Accounts().ListStaleAccounts(ctx, cutoff, cursor, k.BatchSize)
		if err != nil {
			k.Logger.Error("failed to list stale accounts", "error", err)
			break
		}
		if len(accounts) == 0 {
			break
		}

		for _, a := range accounts {
			if ctx.Err() != nil {
				break
			}

			log := k.Logger.With("account_id", a.ID, "domain", a.DomainURL)
			if err := k.Upstream.Refresh(slogx.WithContext(ctx, log), a); err != nil {
				log.Warn("failed to refresh idle credentials", "error", err)
				k.observe("failed")
				failed++
				continue
			}
			k.observe("ok")
			refreshed++
		}

		if len(accounts) < k.BatchSize {
			break
		}
		cursor = store.After(accounts[len(accounts)-1])
	}

	if refreshed+failed > 0 {
		k.Logger.Info("credential sweep completed", "refreshed", refreshed, "failed", failed)
	}
	return refreshed, failed
}

func (k *CredentialKeeper) observe(result string) {
	if k.Observer != nil {
		k.Observer.RecordKeeperRefresh(result)
	}
}
