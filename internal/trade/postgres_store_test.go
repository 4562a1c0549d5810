package trade_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mbd888/peertrade/internal/testutil"
	"github.com/mbd888/peertrade/internal/trade"
)

// Postgres-backed store tests. Skipped when neither POSTGRES_URL nor Docker
// is available.

func newPGTradeStore(t *testing.T) *trade.PostgresStore {
	t.Helper()
	db := testutil.StartPostgres(t)
	store := trade.NewPostgresStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	testutil.TruncateTables(t, db, "disputes", "trades")
	return store
}

func pgTrade(id string, status trade.Status) *trade.Trade {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &trade.Trade{
		ID:              id,
		OfferID:         "ofr-pg-1",
		BuyerID:         "buyer",
		SellerID:        "seller",
		Asset:           "USDT",
		CounterAsset:    "EUR",
		Amount:          "100",
		Price:           "0.9",
		Total:           "90",
		Status:          status,
		EscrowAmount:    "100",
		PaymentDeadline: now.Add(30 * time.Minute),
		ExpiresAt:       now.Add(2 * time.Hour),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestPostgresUpdateStatusCAS(t *testing.T) {
	store := newPGTradeStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTrade(ctx, pgTrade("trd-pg-1", trade.StatusActive)))

	// Winning claim
	require.NoError(t, store.UpdateStatus(ctx, "trd-pg-1", trade.StatusActive, trade.StatusEscrow))

	// Losing claim against a stale expected status
	err := store.UpdateStatus(ctx, "trd-pg-1", trade.StatusActive, trade.StatusCancelled)
	require.ErrorIs(t, err, trade.ErrConcurrentModification)

	// Unknown trade
	err = store.UpdateStatus(ctx, "trd-missing", trade.StatusActive, trade.StatusEscrow)
	require.ErrorIs(t, err, trade.ErrTradeNotFound)

	got, err := store.GetTrade(ctx, "trd-pg-1")
	require.NoError(t, err)
	require.Equal(t, trade.StatusEscrow, got.Status)
}

func TestPostgresListExpired(t *testing.T) {
	store := newPGTradeStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)

	overdue := pgTrade("trd-pg-2", trade.StatusEscrow)
	overdue.PaymentDeadline = past
	require.NoError(t, store.CreateTrade(ctx, overdue))

	fresh := pgTrade("trd-pg-3", trade.StatusEscrow)
	require.NoError(t, store.CreateTrade(ctx, fresh))

	frozen := pgTrade("trd-pg-4", trade.StatusDisputed)
	frozen.PaymentDeadline = past
	frozen.ExpiresAt = past
	require.NoError(t, store.CreateTrade(ctx, frozen))

	expired, err := store.ListExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.ID)
	}
	require.Contains(t, ids, "trd-pg-2")
	require.NotContains(t, ids, "trd-pg-3")
	require.NotContains(t, ids, "trd-pg-4", "disputed trades are frozen")
}

func TestPostgresResolveDisputeCAS(t *testing.T) {
	store := newPGTradeStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTrade(ctx, pgTrade("trd-pg-5", trade.StatusDisputed)))
	require.NoError(t, store.CreateDispute(ctx, &trade.Dispute{
		ID:        "dsp-pg-1",
		TradeID:   "trd-pg-5",
		RaisedBy:  "buyer",
		Reason:    "payment never arrived",
		Status:    trade.DisputeOpen,
		CreatedAt: time.Now().UTC(),
	}))

	now := time.Now().UTC()
	require.NoError(t, store.ResolveDispute(ctx, "dsp-pg-1", trade.ResolutionReturnedToSeller, "admin", now))

	// Second resolution loses the CAS
	err := store.ResolveDispute(ctx, "dsp-pg-1", trade.ResolutionReleasedToBuyer, "admin", now)
	require.ErrorIs(t, err, trade.ErrDisputeAlreadyResolved)

	d, err := store.GetDispute(ctx, "dsp-pg-1")
	require.NoError(t, err)
	require.Equal(t, trade.DisputeResolved, d.Status)
	require.Equal(t, trade.ResolutionReturnedToSeller, d.Resolution)
	require.Equal(t, "admin", d.ResolvedBy)

	err = store.ResolveDispute(ctx, "dsp-missing", trade.ResolutionReleasedToBuyer, "admin", now)
	if !errors.Is(err, trade.ErrDisputeNotFound) {
		t.Fatalf("expected ErrDisputeNotFound, got %v", err)
	}
}
