package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/engine"
	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/reconcile"
	"github.com/roach88/stockline/internal/testutil"
)

const (
	itemX int64 = 7
	whA   int64 = 1
	whB   int64 = 2
)

type fixture struct {
	loop   *engine.Engine
	store  *inventory.Store
	server *testutil.FakeServer
	ledger *reconcile.Ledger
	xfer   *Engine
}

// newFixture views warehouse A holding X qty 20 min 5.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	loop := engine.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(cancel)

	server := testutil.NewFakeServer()
	server.AddWarehouse(whA, "Main kitchen")
	server.AddWarehouse(whB, "Bar")
	server.AddItem(api.Item{ID: itemX, Name: "Tomatoes"})
	server.SetStock(itemX, whA, 20, 5)

	store := inventory.NewStore()
	ledger := reconcile.NewLedger(time.Minute)
	f := &fixture{
		loop:   loop,
		store:  store,
		server: server,
		ledger: ledger,
		xfer:   New(loop, store, ledger, server, WithRequestIDs(testutil.NewSequenceGenerator("fake-transfer"))),
	}

	require.NoError(t, loop.Do(context.Background(), "view", func(context.Context, int64) error {
		store.SetActiveWarehouse(whA)
		return nil
	}))
	require.NoError(t, f.xfer.Resyncer().Active(context.Background()))
	return f
}

func (f *fixture) qty(t *testing.T, wh int64) int {
	t.Helper()
	r, ok := f.store.Snapshot().Get(itemX, wh)
	require.True(t, ok, "no record for warehouse %d", wh)
	return r.Quantity
}

func TestTransfer_Scenario_OptimisticThenConfirmed(t *testing.T) {
	f := newFixture(t)

	optimistic := -1
	f.server.Before(testutil.OpTransfer, func() {
		optimistic = f.qty(t, whA)
	})

	res, err := f.xfer.Transfer(context.Background(), inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	require.NoError(t, err)

	assert.Equal(t, 12, optimistic, "source debited before the request")
	assert.Equal(t, 12, f.qty(t, whA))
	assert.Equal(t, 8, f.qty(t, whB), "destination record created from the breakdown")

	require.NotNil(t, res.Source)
	require.NotNil(t, res.Destination)
	assert.Equal(t, 12, res.Source.Quantity)
	assert.Equal(t, 5, res.Source.MinQuantity)
	assert.Equal(t, 8, res.Destination.Quantity)
	assert.False(t, res.Resynced)
	assert.Equal(t, "fake-transfer-0001", res.RequestID)

	serverA, _ := f.server.Stock(itemX, whA)
	assert.Equal(t, 12, serverA.Quantity)
}

func TestTransfer_ConservesSum(t *testing.T) {
	f := newFixture(t)
	f.server.SetStock(itemX, whB, 5, 0)
	require.NoError(t, f.xfer.Resyncer().Item(context.Background(), itemX, whA, whB))
	before := f.qty(t, whA) + f.qty(t, whB)

	var optimisticSum int
	f.server.Before(testutil.OpTransfer, func() {
		optimisticSum = f.qty(t, whA) + f.qty(t, whB)
	})

	_, err := f.xfer.Transfer(context.Background(), inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	require.NoError(t, err)

	assert.Equal(t, before, optimisticSum)
	assert.Equal(t, before, f.qty(t, whA)+f.qty(t, whB))
	assert.Equal(t, 13, f.qty(t, whB))
}

func TestTransfer_ValidationRejectsWithoutCall(t *testing.T) {
	tests := []struct {
		name   string
		intent inventory.Intent
	}{
		{"exceeds known quantity", inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 25}},
		{"zero quantity", inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 0}},
		{"negative quantity", inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: -3}},
		{"same warehouse", inventory.Intent{ItemID: itemX, From: whA, To: whA, Quantity: 1}},
		{"unknown source record", inventory.Intent{ItemID: 99, From: whA, To: whB, Quantity: 1}},
		{"missing destination", inventory.Intent{ItemID: itemX, From: whA, Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.store.Snapshot()

			_, err := f.xfer.Transfer(context.Background(), tt.intent)
			require.Error(t, err)
			assert.True(t, inventory.IsValidation(err), "got %v", err)

			assert.Equal(t, 0, f.server.Calls(testutil.OpTransfer))
			assert.Same(t, before, f.store.Snapshot(), "store untouched")
			assert.Equal(t, 0, f.ledger.Len())
		})
	}
}

func TestTransfer_ServerRejectionResyncs(t *testing.T) {
	f := newFixture(t)
	f.server.FailNext(testutil.OpTransfer, inventory.NewServerError(testutil.OpTransfer, 409, "insufficient stock"))

	_, err := f.xfer.Transfer(context.Background(), inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	require.Error(t, err)
	assert.True(t, inventory.IsServerRejection(err))

	assert.Equal(t, 20, f.qty(t, whA), "optimistic debit discarded")
	assert.Equal(t, 0, f.ledger.Len(), "rejected transfer will not echo")
	assert.Equal(t, 2, f.server.Calls(testutil.OpListItems), "initial load plus failure resync")
}

func TestTransfer_LostResponseKeepsEchoExpectation(t *testing.T) {
	f := newFixture(t)
	f.server.FailNextAfterApply(testutil.OpTransfer, inventory.NewNetworkError(testutil.OpTransfer, testutil.ErrConnectionReset))

	_, err := f.xfer.Transfer(context.Background(), inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	require.Error(t, err)
	assert.True(t, inventory.IsNetwork(err))

	assert.Equal(t, 12, f.qty(t, whA), "resync reflects the applied transfer")
	assert.Equal(t, 1, f.ledger.Len(), "the echo may still arrive")
}

func TestTransfer_DetailFailureFallsBackToWarehouseResync(t *testing.T) {
	f := newFixture(t)
	f.server.FailNext(testutil.OpGetItem, inventory.NewNetworkError(testutil.OpGetItem, testutil.ErrConnectionReset))

	res, err := f.xfer.Transfer(context.Background(), inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	require.NoError(t, err)
	assert.True(t, res.Resynced)
	assert.Equal(t, 12, f.qty(t, whA))
}

func TestTransfer_CancelledBeforeIssueSendsNothing(t *testing.T) {
	f := newFixture(t)
	before := f.store.Snapshot()

	release := make(chan struct{})
	f.loop.Enqueue("block", func(context.Context, int64) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.xfer.Transfer(ctx, inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	close(release)

	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, f.loop.Sync(context.Background()))
	assert.Equal(t, 0, f.server.Calls(testutil.OpTransfer))
	assert.Same(t, before, f.store.Snapshot())
}

func TestTransfer_EchoSkippedAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	r := reconcile.New(f.store, f.ledger)

	var echo reconcile.Envelope
	f.server.SetSink(func(env reconcile.Envelope) { echo = env })

	_, err := f.xfer.Transfer(context.Background(), inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8})
	require.NoError(t, err)
	require.Equal(t, reconcile.StockTransferred, echo.Event)

	var out reconcile.Outcome
	require.NoError(t, f.loop.Do(context.Background(), "echo", func(ctx context.Context, seq int64) error {
		var err error
		out, err = r.Apply(ctx, seq, echo)
		return err
	}))

	assert.Equal(t, reconcile.Echo, out)
	assert.Equal(t, 12, f.qty(t, whA), "not debited twice")
}

func TestTransfer_UnsentRequestDoesNotSwallowOtherClients(t *testing.T) {
	f := newFixture(t)
	r := reconcile.New(f.store, f.ledger)
	f.server.FailNext(testutil.OpTransfer, inventory.NewNetworkError(testutil.OpTransfer, testutil.ErrConnectionReset))

	intent := inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8}
	_, err := f.xfer.Transfer(context.Background(), intent)
	require.True(t, inventory.IsNetwork(err))
	require.Equal(t, 20, f.qty(t, whA), "the request never reached the server")
	require.Equal(t, 1, f.ledger.Len())

	var event reconcile.Envelope
	f.server.SetSink(func(env reconcile.Envelope) { event = env })
	req := api.NewTransferRequest(intent)
	req.RequestID = "other-client-1"
	require.NoError(t, f.server.ExternalTransfer(req))

	var out reconcile.Outcome
	require.NoError(t, f.loop.Do(context.Background(), "reconcile", func(ctx context.Context, seq int64) error {
		var err error
		out, err = r.Apply(ctx, seq, event)
		return err
	}))

	assert.Equal(t, reconcile.Applied, out)
	assert.Equal(t, 12, f.qty(t, whA))
	assert.Equal(t, 1, f.ledger.Len(), "own expectation untouched")
}

func TestTransfer_StaleDestinationOutsideViewIsReconfirmed(t *testing.T) {
	f := newFixture(t)
	intent := inventory.Intent{ItemID: itemX, From: whA, To: whB, Quantity: 8}
	_, err := f.xfer.Transfer(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, 8, f.qty(t, whB))

	// Changed behind the client's back; B is outside the view.
	f.server.SetStock(itemX, whB, 30, 0)
	require.Equal(t, 8, f.qty(t, whB))

	intent.Quantity = 2
	res, err := f.xfer.Transfer(context.Background(), intent)
	require.NoError(t, err)

	require.NotNil(t, res.Destination)
	assert.Equal(t, 32, res.Destination.Quantity, "confirmation replaces the stale base")
	assert.Equal(t, 32, f.qty(t, whB))
	assert.Equal(t, 10, f.qty(t, whA))
}
