package service

import (
	"context"
	"log/slog"
	"errors"
	"fmt"
	"sync"

	"github.com/aussiebroadwan/b24gate/internal/gateway/domain"
	"github.com/aussiebroadwan/b24gate/internal/gateway/store"
	"github.com/aussiebroadwan/b24gate/internal/gateway/upstream"
	"github.com/aussiebroadwan/b24gate/pkg/b24"
	"github.com/aussiebroadwan/b24gate/pkg/slogx"
)

// Renewal results reported to RenewalObserver.
const (
	RenewalApplied = "applied"
	RenewalStale   = "stale"
	RenewalFailed  = "failed"
)

// RenewalObserver counts listener results.
type RenewalObserver interface {
	RecordRenewal(result string)
}

type renewal struct {
	ctx context.Context
	ev  b24.RenewalEvent
}

// RenewalListener persists credential pairs the platform client renews
// during ordinary calls. Delivery never blocks the caller: events are
// queued for one worker goroutine and, when the queue is full, handled on
// a goroutine of their own.
type RenewalListener struct {
	Store    store.Store
	Observer RenewalObserver

	events chan renewal
	spill  sync.WaitGroup
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRenewalListener creates a listener with room for buffer queued
// events. If buffer is 0 or negative, defaults to 256.
func NewRenewalListener(st store.Store, buffer int) *RenewalListener {
	if buffer <= 0 {
		buffer = 256
	}

	return &RenewalListener{
		Store:  st,
		events: make(chan renewal, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Attach subscribes the listener to c. Call it once at startup.
func (l *RenewalListener) Attach(c *b24.Client) {
	c.Subscribe(l.Enqueue)
}

// Enqueue hands ev to the worker. Events without an owner belong to
// sessions that have no account yet; the install path persists those
// credentials itself.
func (l *RenewalListener) Enqueue(ctx context.Context, ev b24.RenewalEvent) {
	if ev.Owner == "" {
		return
	}

	// The event usually outlives the request that triggered it.
	r := renewal{ctx: context.WithoutCancel(ctx), ev: ev}

	select {
	case l.events <- r:
	default:
		l.spill.Go(func() { _ = l.Handle(r.ctx, r.ev) })
	}
}

// Start begins the worker.
func (l *RenewalListener) Start() {
	go l.run()
}

// Stop waits for queued and spilled events to be persisted. Enqueue must
// not be called after Stop.
func (l *RenewalListener) Stop() {
	close(l.stopCh)
	<-l.doneCh
	l.spill.Wait()
}

func (l *RenewalListener) run() {
	defer close(l.doneCh)

	for {
		select {
		case r := <-l.events:
			_ = l.Handle(r.ctx, r.ev)
		case <-l.stopCh:
			for {
				select {
				case r := <-l.events:
					_ = l.Handle(r.ctx, r.ev)
				default:
					return
				}
			}
		}
	}
}

// Handle persists one renewal synchronously. Failures are logged through
// the logger on ctx and returned wrapped in ErrRenewalPersist for callers
// that want them; the worker discards them.
func (l *RenewalListener) Handle(ctx context.Context, ev b24.RenewalEvent) error {
	log := slogx.FromContext(ctx).With("account_id", ev.Owner)

	if ev.PreviousDomain != "" {
		return l.handleDomainChange(ctx, log, ev)
	}

	applied, err := l.Store.Accounts().RecordCredentialRenewal(ctx, ev.Owner, upstream.FromRenewal(ev))
	if err != nil {
		log.Error("failed to persist renewed credentials", "error", err)
		l.observe(RenewalFailed)
		return fmt.Errorf("%w: %w", ErrRenewalPersist, err)
	}

	return l.finish(log, ev, applied)
}

// handleDomainChange stores the renewed pair and the new domain in one
// transaction, so the account never pairs credentials with a portal that
// did not issue them. If the move fails the pair is still stored on its
// own: the platform has already invalidated the previous refresh token.
func (l *RenewalListener) handleDomainChange(ctx context.Context, log *slog.Logger, ev b24.RenewalEvent) error {
	var applied bool
	moveErr := l.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		applied, err = tx.Accounts().RecordCredentialRenewal(ctx, ev.Owner, upstream.FromRenewal(ev))
		if err != nil {
			return err
		}
		return moveDomain(ctx, tx.Accounts(), ev)
	})
	if moveErr == nil {
		log.Info("portal domain changed", "previous_domain", ev.PreviousDomain, "domain", ev.Domain)
		return l.finish(log, ev, applied)
	}

	log.Error("failed to follow portal domain change",
		"previous_domain", ev.PreviousDomain,
		"domain", ev.Domain,
		"error", moveErr,
	)
	l.observe(RenewalFailed)

	if _, err := l.Store.Accounts().RecordCredentialRenewal(ctx, ev.Owner, upstream.FromRenewal(ev)); err != nil {
		log.Error("failed to persist renewed credentials", "error", err)
		return fmt.Errorf("%w: %w", ErrRenewalPersist, errors.Join(moveErr, err))
	}
	return fmt.Errorf("%w: %w", ErrRenewalPersist, moveErr)
}

func (l *RenewalListener) finish(log *slog.Logger, ev b24.RenewalEvent, applied bool) error {
	if !applied {
		// A fresher pair is already stored, or the account is gone.
		log.Debug("renewal ignored")
		l.observe(RenewalStale)
		return nil
	}

	log.Debug("renewed credentials persisted", "expires", ev.Credentials.Expires)
	l.observe(RenewalApplied)
	return nil
}

func moveDomain(ctx context.Context, accounts store.Accounts, ev b24.RenewalEvent) error {
	d, err := domain.NormalizeDomain(ev.Domain)
	if err != nil {
		return err
	}

	err = accounts.UpdateDomain(ctx, ev.Owner, d)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (l *RenewalListener) observe(result string) {
	if l.Observer != nil {
		l.Observer.RecordRenewal(result)
	}
}
