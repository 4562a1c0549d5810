package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/peertrade/internal/traces"
)

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunTimeoutSweep expires every non-terminal trade past its deadline.
// Stateless and idempotent: each trade is claimed with a short status
// compare-and-swap, so losing the claim to a concurrent sweep or a user
// action just skips the trade. Per-trade failures are logged, counted and
// do not abort the rest of the pass.
func (s *Service) RunTimeoutSweep(ctx context.Context) (*SweepResult, error) {
	ctx, span := traces.StartSpan(ctx, "trade.RunTimeoutSweep")
	var err error
	defer func() { traces.End(span, err) }()

	res := &SweepResult{}
	expired, err := s.store.ListExpired(ctx, time.Now(), 500)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired trades: %w", err)
	}
	res.Scanned = len(expired)

	for _, t := range expired {
		switch s.expireOne(ctx, t) {
		case sweepExpired:
			res.Expired++
		case sweepSkipped:
			res.Skipped++
		case sweepFailed:
			res.Failed++
		}
	}

	TradesSwept.Add(float64(res.Expired))
	if res.Expired > 0 || res.Failed > 0 {
		s.logger.Info("timeout sweep finished",
			"scanned", res.Scanned, "expired", res.Expired,
			"skipped", res.Skipped, "failed", res.Failed)
	}
	return res, nil
}

type sweepOutcome int

const (
	sweepExpired sweepOutcome = iota
	sweepSkipped
	sweepFailed
)

// expireOne claims a single trade's expiry. The CAS from the scanned
// status guards against the trade having moved since the scan; an escrow
// hold established before expiry flows back to the seller.
func (s *Service) expireOne(ctx context.Context, t *Trade) (out sweepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic expiring trade", "tradeId", t.ID, "panic", fmt.Sprint(r))
			out = sweepFailed
		}
	}()

	scanned := t.Status
	if err := s.transition(ctx, t, StatusExpired); err != nil {
		// The trade moved under us; another sweep or a user action won.
		s.logger.Debug("skipping trade during sweep", "tradeId", t.ID, "error", err)
		return sweepSkipped
	}

	switch scanned {
	case StatusActive:
		// No escrow hold existed yet; only the offer pool owes the amount.
		if err := s.restoreCapacityOrRelease(ctx, t); err != nil {
			// Put the claim back so the next sweep retries the fund path.
			s.revert(ctx, t, StatusExpired, scanned)
			s.logger.Error("failed to restore capacity on expiry",
				"tradeId", t.ID, "error", err)
			return sweepFailed
		}
	case StatusEscrow, StatusPaymentSent:
		if err := s.returnEscrowToSeller(ctx, t); err != nil {
			// Put the claim back so the next sweep retries the fund path.
			s.revert(ctx, t, StatusExpired, scanned)
			s.logger.Error("failed to return escrow on expiry",
				"tradeId", t.ID, "error", err)
			return sweepFailed
		}
	}

	s.publish("trade.expired", t)
	return sweepExpired
}

// Timer drives the timeout sweep at a fixed interval.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a sweep timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			if _, err := t.service.RunTimeoutSweep(ctx); err != nil {
				t.logger.Warn("timeout sweep failed", "error", err)
			}
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}
