package trade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/peertrade/internal/audit"
	"github.com/mbd888/peertrade/internal/auth"
	"github.com/mbd888/peertrade/internal/ledger"
	"github.com/mbd888/peertrade/internal/offer"
)

type fixture struct {
	trades *Service
	offers *offer.Service
	store  *MemoryStore
	ledger *ledger.Ledger
	trail  *audit.MemoryTrail
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lg := ledger.New(ledger.NewMemoryStore())
	trail := audit.NewMemoryTrail()
	offerStore := offer.NewMemoryStore()
	offers := offer.NewService(offerStore, lg, trail)
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trades := NewService(store, offerStore, lg, trail, Config{
		PaymentWindow: 30 * time.Minute,
		TradeTTL:      2 * time.Hour,
	}, logger)
	offers.WithTradeCounter(trades)
	return &fixture{trades: trades, offers: offers, store: store, ledger: lg, trail: trail}
}

func (f *fixture) deposit(t *testing.T, user, asset, amount string) {
	t.Helper()
	require.NoError(t, f.ledger.Deposit(context.Background(), user, asset, amount, "dep_"+user+asset))
}

func (f *fixture) sellOffer(t *testing.T, owner, total string) *offer.Offer {
	t.Helper()
	o, err := f.offers.Create(context.Background(), offer.CreateRequest{
		OwnerID:      owner,
		Direction:    "sell",
		Asset:        "USDT",
		CounterAsset: "EUR",
		Price:        "0.9",
		Total:        total,
		MinPerTrade:  "1",
		MaxPerTrade:  total,
	})
	require.NoError(t, err)
	return o
}

// backdate rewrites a trade's deadlines so the sweeper sees it as overdue.
func (f *fixture) backdate(t *testing.T, tr *Trade) {
	t.Helper()
	past := time.Now().Add(-time.Hour)
	tr.PaymentDeadline = past
	tr.ExpiresAt = past
	require.NoError(t, f.store.CreateTrade(context.Background(), tr))
}

func (f *fixture) available(t *testing.T, user string) string {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), user, "USDT")
	require.NoError(t, err)
	return bal.Available
}

func (f *fixture) reserved(t *testing.T, user string) string {
	t.Helper()
	bal, err := f.ledger.GetBalance(context.Background(), user, "USDT")
	require.NoError(t, err)
	return bal.Reserved
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusActive},
		{StatusPending, StatusCancelled},
		{StatusActive, StatusEscrow},
		{StatusActive, StatusCancelled},
		{StatusActive, StatusExpired},
		{StatusEscrow, StatusPaymentSent},
		{StatusEscrow, StatusDisputed},
		{StatusEscrow, StatusExpired},
		{StatusPaymentSent, StatusEscrowReleased},
		{StatusPaymentSent, StatusDisputed},
		{StatusPaymentSent, StatusExpired},
		{StatusEscrowReleased, StatusCompleted},
		{StatusDisputed, StatusEscrowReleased},
		{StatusDisputed, StatusCancelled},
	}
	allowedSet := make(map[[2]Status]bool)
	for _, e := range allowed {
		allowedSet[[2]Status{e.from, e.to}] = true
		assert.True(t, CanTransition(e.from, e.to), "%s -> %s should be allowed", e.from, e.to)
	}

	all := []Status{StatusPending, StatusActive, StatusEscrow, StatusPaymentSent,
		StatusEscrowReleased, StatusCompleted, StatusCancelled, StatusExpired, StatusDisputed}
	for _, from := range all {
		for _, to := range all {
			if !allowedSet[[2]Status{from, to}] {
				assert.False(t, CanTransition(from, to), "%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "1000")

	o := f.sellOffer(t, "seller", "1000")
	assert.Equal(t, "1000.00000000", f.reserved(t, "seller"))

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "200")
	require.NoError(t, err)
	assert.Equal(t, StatusEscrow, tr.Status)
	assert.Equal(t, "seller", tr.SellerID)
	assert.Equal(t, "buyer", tr.BuyerID)
	assert.Equal(t, "180.00000000", tr.Total) // 200 * 0.9

	got, err := f.offers.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "800.00000000", got.Available)

	tr, err = f.trades.MarkPaymentSent(ctx, tr.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentSent, tr.Status)
	assert.NotNil(t, tr.PaymentSentAt)

	tr, err = f.trades.ConfirmReceiptAndRelease(ctx, tr.ID, "seller", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tr.Status)

	assert.Equal(t, "800.00000000", f.reserved(t, "seller"))
	assert.Equal(t, "200.00000000", f.available(t, "buyer"))
}

func TestAuditPathNeverSkipsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)

	entries, err := f.trail.Query(ctx, audit.EntityTrade, tr.ID, 10)
	require.NoError(t, err)

	// Query returns newest first; reverse into chronological order.
	var actions []string
	for i := len(entries) - 1; i >= 0; i-- {
		actions = append(actions, entries[i].Action)
	}
	assert.Equal(t, []string{"trade_created", "trade_active", "trade_escrow"}, actions)
}

func TestCreateRejectsOwnOffer(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	_, err := f.trades.Create(context.Background(), o.ID, "seller", "10")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCreateOutOfBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o, err := f.offers.Create(ctx, offer.CreateRequest{
		OwnerID: "seller", Direction: "sell", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "10", MaxPerTrade: "50",
	})
	require.NoError(t, err)

	_, err = f.trades.Create(ctx, o.ID, "buyer", "5")
	assert.ErrorIs(t, err, offer.ErrInvalidBounds)

	_, err = f.trades.Create(ctx, o.ID, "buyer", "60")
	assert.ErrorIs(t, err, offer.ErrInvalidBounds)
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	const attempts = 2
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.trades.Create(ctx, o.ID, "buyer", "100")
		}(i)
	}
	wg.Wait()

	var ok, capacity int
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, offer.ErrInsufficientCapacity)
			capacity++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, capacity)
}

func TestCancelBeforeEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A BUY offer whose taker (the seller) has no funds leaves the trade
	// active with no escrow hold.
	o, err := f.offers.Create(ctx, offer.CreateRequest{
		OwnerID: "buyer", Direction: "buy", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "1", MaxPerTrade: "100",
	})
	require.NoError(t, err)

	tr, err := f.trades.Create(ctx, o.ID, "brokeseller", "40")
	require.ErrorIs(t, err, ErrEscrowHoldFailed)
	require.NotNil(t, tr)
	assert.Equal(t, StatusActive, tr.Status)

	got, _ := f.offers.Get(ctx, o.ID)
	assert.Equal(t, "60.00000000", got.Available)

	cancelled, err := f.trades.Cancel(ctx, tr.ID, "brokeseller", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	got, _ = f.offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", got.Available)
}

func TestCancelRejectedFromEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)

	_, err = f.trades.Cancel(ctx, tr.ID, "buyer", false)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusEscrow, te.Current)
	assert.Equal(t, StatusCancelled, te.Requested)
}

func TestMarkPaymentSentBuyerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)

	_, err = f.trades.MarkPaymentSent(ctx, tr.ID, "seller")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestReleaseSellerOrAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)
	_, err = f.trades.MarkPaymentSent(ctx, tr.ID, "buyer")
	require.NoError(t, err)

	_, err = f.trades.ConfirmReceiptAndRelease(ctx, tr.ID, "buyer", false)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.trades.ConfirmReceiptAndRelease(ctx, tr.ID, "ops", true)
	require.NoError(t, err)
}

func TestSweepExpiresActiveTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.offers.Create(ctx, offer.CreateRequest{
		OwnerID: "buyer", Direction: "buy", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "1", MaxPerTrade: "100",
	})
	require.NoError(t, err)

	tr, err := f.trades.Create(ctx, o.ID, "brokeseller", "40")
	require.ErrorIs(t, err, ErrEscrowHoldFailed)
	f.backdate(t, tr)

	res, err := f.trades.RunTimeoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, err := f.trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	// Capacity back in the pool, seller ledger untouched.
	ofr, _ := f.offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", ofr.Available)
	assert.Equal(t, "0", f.reserved(t, "brokeseller"))
}

func TestSweepExpiresEscrowTradeAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)
	f.backdate(t, tr)

	res, err := f.trades.RunTimeoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	ofr, _ := f.offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", ofr.Available)
	assert.Equal(t, "100.00000000", f.reserved(t, "seller"))

	// A second pass over the same data must change nothing.
	res, err = f.trades.RunTimeoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)

	ofr, _ = f.offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", ofr.Available)
	assert.Equal(t, "100.00000000", f.reserved(t, "seller"))
}

func TestSweepFrozenWhileDisputed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)
	_, err = f.trades.RaiseDispute(ctx, tr.ID, "buyer", "no goods delivered")
	require.NoError(t, err)

	got, _ := f.trades.Get(ctx, tr.ID)
	f.backdate(t, got)

	res, err := f.trades.RunTimeoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)

	got, _ = f.trades.Get(ctx, tr.ID)
	assert.Equal(t, StatusDisputed, got.Status)
}

func TestDisputeReturnedToSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)

	d, err := f.trades.RaiseDispute(ctx, tr.ID, "buyer", "payment never arrived")
	require.NoError(t, err)
	assert.Equal(t, DisputeOpen, d.Status)

	got, _ := f.trades.Get(ctx, tr.ID)
	assert.Equal(t, StatusDisputed, got.Status)
	assert.Equal(t, d.ID, got.DisputeID)

	admin := auth.Actor{ID: "ops", Role: auth.RoleAdmin}
	resolved, err := f.trades.ResolveDispute(ctx, d.ID, ResolutionReturnedToSeller, admin, auth.RoleAuthorizer{})
	require.NoError(t, err)
	assert.Equal(t, DisputeResolved, resolved.Status)
	assert.Equal(t, ResolutionReturnedToSeller, resolved.Resolution)
	assert.Equal(t, "ops", resolved.ResolvedBy)

	got, _ = f.trades.Get(ctx, tr.ID)
	assert.Equal(t, StatusCancelled, got.Status)

	ofr, _ := f.offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", ofr.Available)

	// Second resolve attempt must fail without touching funds.
	_, err = f.trades.ResolveDispute(ctx, d.ID, ResolutionReleasedToBuyer, admin, auth.RoleAuthorizer{})
	assert.ErrorIs(t, err, ErrDisputeAlreadyResolved)
	assert.Equal(t, "0", f.available(t, "buyer"))
}

func TestDisputeReleasedToBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)
	_, err = f.trades.MarkPaymentSent(ctx, tr.ID, "buyer")
	require.NoError(t, err)

	d, err := f.trades.RaiseDispute(ctx, tr.ID, "buyer", "paid but seller silent")
	require.NoError(t, err)

	admin := auth.Actor{ID: "ops", Role: auth.RoleAdmin}
	_, err = f.trades.ResolveDispute(ctx, d.ID, ResolutionReleasedToBuyer, admin, auth.RoleAuthorizer{})
	require.NoError(t, err)

	got, _ := f.trades.Get(ctx, tr.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "50.00000000", f.available(t, "buyer"))
	assert.Equal(t, "50.00000000", f.reserved(t, "seller"))
}

// flakyFunds fails a set number of transfers before behaving normally.
type flakyFunds struct {
	Funds
	failTransfers int
}

func (f *flakyFunds) Transfer(ctx context.Context, from, to, asset, amount, reference string) error {
	if f.failTransfers > 0 {
		f.failTransfers--
		return errors.New("ledger unavailable")
	}
	return f.Funds.Transfer(ctx, from, to, asset, amount, reference)
}

// failRestoreOffers fails a set number of capacity restores.
type failRestoreOffers struct {
	Offers
	failures int
}

func (o *failRestoreOffers) RestoreCapacity(ctx context.Context, id, amount string) (bool, error) {
	if o.failures > 0 {
		o.failures--
		return false, errors.New("offer store unavailable")
	}
	return o.Offers.RestoreCapacity(ctx, id, amount)
}

func TestResolveDisputeRetriesAfterLedgerFailure(t *testing.T) {
	lg := ledger.New(ledger.NewMemoryStore())
	trail := audit.NewMemoryTrail()
	offerStore := offer.NewMemoryStore()
	offers := offer.NewService(offerStore, lg, trail)
	funds := &flakyFunds{Funds: lg, failTransfers: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trades := NewService(NewMemoryStore(), offerStore, funds, trail, Config{}, logger)

	ctx := context.Background()
	require.NoError(t, lg.Deposit(ctx, "seller", "USDT", "100", "dep_seller"))
	o, err := offers.Create(ctx, offer.CreateRequest{
		OwnerID: "seller", Direction: "sell", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "1", MaxPerTrade: "100",
	})
	require.NoError(t, err)

	tr, err := trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)
	_, err = trades.MarkPaymentSent(ctx, tr.ID, "buyer")
	require.NoError(t, err)
	d, err := trades.RaiseDispute(ctx, tr.ID, "buyer", "paid but seller silent")
	require.NoError(t, err)

	admin := auth.Actor{ID: "ops", Role: auth.RoleAdmin}
	_, err = trades.ResolveDispute(ctx, d.ID, ResolutionReleasedToBuyer, admin, auth.RoleAuthorizer{})
	require.Error(t, err)

	// The failed payout leaves both the trade and the dispute open.
	got, err := trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, got.Status)
	dgot, err := trades.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DisputeOpen, dgot.Status)
	bal, err := lg.GetBalance(ctx, "buyer", "USDT")
	require.NoError(t, err)
	assert.Equal(t, "0", bal.Available)

	// A retry settles cleanly.
	resolved, err := trades.ResolveDispute(ctx, d.ID, ResolutionReleasedToBuyer, admin, auth.RoleAuthorizer{})
	require.NoError(t, err)
	assert.Equal(t, DisputeResolved, resolved.Status)
	got, _ = trades.Get(ctx, tr.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	bal, _ = lg.GetBalance(ctx, "buyer", "USDT")
	assert.Equal(t, "50.00000000", bal.Available)
}

func TestCancelRetriesAfterRestoreFailure(t *testing.T) {
	lg := ledger.New(ledger.NewMemoryStore())
	trail := audit.NewMemoryTrail()
	offerStore := offer.NewMemoryStore()
	offers := offer.NewService(offerStore, lg, trail)
	flaky := &failRestoreOffers{Offers: offerStore, failures: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trades := NewService(NewMemoryStore(), flaky, lg, trail, Config{}, logger)

	ctx := context.Background()
	o, err := offers.Create(ctx, offer.CreateRequest{
		OwnerID: "buyer", Direction: "buy", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "1", MaxPerTrade: "100",
	})
	require.NoError(t, err)

	tr, err := trades.Create(ctx, o.ID, "brokeseller", "40")
	require.ErrorIs(t, err, ErrEscrowHoldFailed)

	_, err = trades.Cancel(ctx, tr.ID, "brokeseller", false)
	require.Error(t, err)

	// The claim is rolled back so a retry can restore the capacity.
	got, err := trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	cancelled, err := trades.Cancel(ctx, tr.ID, "brokeseller", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	ofr, _ := offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", ofr.Available)
}

func TestSweepRetriesActiveTradeAfterRestoreFailure(t *testing.T) {
	lg := ledger.New(ledger.NewMemoryStore())
	trail := audit.NewMemoryTrail()
	offerStore := offer.NewMemoryStore()
	offers := offer.NewService(offerStore, lg, trail)
	flaky := &failRestoreOffers{Offers: offerStore, failures: 1}
	store := NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trades := NewService(store, flaky, lg, trail, Config{}, logger)

	ctx := context.Background()
	o, err := offers.Create(ctx, offer.CreateRequest{
		OwnerID: "buyer", Direction: "buy", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "1", MaxPerTrade: "100",
	})
	require.NoError(t, err)

	tr, err := trades.Create(ctx, o.ID, "brokeseller", "40")
	require.ErrorIs(t, err, ErrEscrowHoldFailed)
	past := time.Now().Add(-time.Hour)
	tr.PaymentDeadline = past
	tr.ExpiresAt = past
	require.NoError(t, store.CreateTrade(ctx, tr))

	res, err := trades.RunTimeoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Expired)

	got, err := trades.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	// The next sweep finds the trade still overdue and finishes the job.
	res, err = trades.RunTimeoutSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	ofr, _ := offers.Get(ctx, o.ID)
	assert.Equal(t, "100.00000000", ofr.Available)
}

func TestResolveRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)
	d, err := f.trades.RaiseDispute(ctx, tr.ID, "buyer", "reason")
	require.NoError(t, err)

	user := auth.Actor{ID: "buyer", Role: auth.RoleUser}
	_, err = f.trades.ResolveDispute(ctx, d.ID, ResolutionReleasedToBuyer, user, auth.RoleAuthorizer{})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestDisputeOnlyFromEscrowStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.offers.Create(ctx, offer.CreateRequest{
		OwnerID: "buyer", Direction: "buy", Asset: "USDT", CounterAsset: "EUR",
		Price: "1", Total: "100", MinPerTrade: "1", MaxPerTrade: "100",
	})
	require.NoError(t, err)

	tr, err := f.trades.Create(ctx, o.ID, "brokeseller", "40")
	require.ErrorIs(t, err, ErrEscrowHoldFailed)

	_, err = f.trades.RaiseDispute(ctx, tr.ID, "buyer", "reason")
	assert.ErrorIs(t, err, ErrDisputeNotAllowed)
}

func TestDisputeParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "seller", "USDT", "100")
	o := f.sellOffer(t, "seller", "100")

	tr, err := f.trades.Create(ctx, o.ID, "buyer", "50")
	require.NoError(t, err)

	_, err = f.trades.RaiseDispute(ctx, tr.ID, "mallory", "not mine")
	assert.ErrorIs(t, err, ErrNotParticipant)
}
