package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/stockline/internal/api"
	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/inventory"
	"github.com/roach88/stockline/internal/journal"
	"github.com/roach88/stockline/internal/session"
	"github.com/roach88/stockline/internal/testutil"
)

// reconnectTimeout bounds the wait for the resync a reconnect triggers.
const reconnectTimeout = 5 * time.Second

// Harness executes one scenario's steps against a live session.
type Harness struct {
	server   *testutil.FakeServer
	feed     *testutil.Feed
	session  *session.Session
	clock    *testutil.ManualClock
	resynced chan error
	logger   *slog.Logger
}

// Run executes a scenario and returns its result.
//
// Each run gets a fresh fake server, feed and in-memory journal. A non-nil
// error means the scenario could not be executed at all; step and
// assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with step progress logged to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	server, err := seed(scenario.Seed)
	if err != nil {
		return nil, err
	}
	feed := testutil.NewFeed()
	server.SetSink(feed.Deliver)
	feed.Set(channel.StateConnected)

	h := &Harness{
		server:   server,
		feed:     feed,
		clock:    testutil.NewManualClock(time.Time{}),
		resynced: make(chan error, 1),
		logger:   logger,
	}

	s, err := session.Open(ctx, server, scenario.Warehouse, session.Options{
		Journal:  j,
		Feed:     feed,
		Now:      h.clock.Now,
		OnResync: func(err error) {
			select {
			case h.resynced <- err:
			default:
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer s.Close()
	h.session = s

	result := NewResult()
	for i, step := range scenario.Steps {
		err := h.execute(ctx, step)
		outcome := outcomeOf(err)

		sr := StepResult{Action: step.Action, Outcome: outcome}
		if err != nil {
			sr.Error = err.Error()
		}
		result.Steps = append(result.Steps, sr)

		want := step.Expect
		if want == "" {
			want = OutcomeOK
		}
		if outcome != want {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %s: %s", i, step.Action, want, outcome, sr.Error))
		}

		if err := s.Sync(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		checkInvariants(i, s.Snapshot(), result)

		h.logger.Info("step completed", "step", i, "action", step.Action, "outcome", outcome)
	}

	entries, err := j.ReadAll(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	for _, e := range entries {
		result.Events = append(result.Events, EventTrace{
			Event:     string(e.Event),
			ID:        e.EventID,
			Warehouse: e.WarehouseID,
			Outcome:   string(e.Outcome),
		})
	}

	snap := s.Snapshot()
	result.view = snap
	result.Records = snap.AllRecords()
	result.Ledger = s.Ledger().Len()

	actx := &AssertionContext{Server: server, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func seed(sd Seed) (*testutil.FakeServer, error) {
	server := testutil.NewFakeServer()
	for _, w := range sd.Warehouses {
		server.AddWarehouse(w.ID, w.Name)
	}
	for _, it := range sd.Items {
		cost := decimal.Zero
		if it.UnitCost != "" {
			var err error
			if cost, err = decimal.NewFromString(it.UnitCost); err != nil {
				return nil, fmt.Errorf("seed item %d: %w", it.ID, err)
			}
		}
		server.AddItem(api.Item{ID: it.ID, Name: it.Name, UnitCost: cost})
	}
	for _, st := range sd.Stock {
		server.SetStock(st.Item, st.Warehouse, st.Qty, st.Min)
	}
	return server, nil
}

// execute runs one step and returns its error.
func (h *Harness) execute(ctx context.Context, st Step) error {
	s := h.session
	switch st.Action {
	case ActionTransfer:
		_, err := s.Transfer(ctx, inventory.Intent{ItemID: st.Item, From: st.From, To: st.To, Quantity: st.Qty})
		return err
	case ActionAdd:
		_, err := s.AddToWarehouse(ctx, stepRecord(st))
		return err
	case ActionUpdate:
		_, err := s.UpdateInventory(ctx, stepRecord(st))
		return err
	case ActionRemove:
		return s.RemoveFromWarehouse(ctx, st.Item, st.Warehouse)
	case ActionSwitch:
		return s.SwitchWarehouse(ctx, st.Warehouse)
	case ActionResync:
		return s.Resync(ctx)
	case ActionRefreshAlerts:
		return s.RefreshAlerts(ctx)
	case ActionExternalUpdate:
		h.server.ExternalUpdate(st.Item, st.Warehouse, st.Qty, st.Min)
		return nil
	case ActionExternalTransfer:
		return h.server.ExternalTransfer(api.TransferRequest{
			ItemID:          st.Item,
			FromWarehouseID: st.From,
			ToWarehouseID:   st.To,
			Quantity:        st.Qty,
		})
	case ActionDisconnect:
		h.feed.Set(channel.StateDisconnected)
		return nil
	case ActionReconnect:
		return h.reconnect()
	case ActionFailNext:
		h.failNext(st)
		return nil
	case ActionAdvance:
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)
		return nil
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
}

// reconnect restores the feed and, after an outage, waits for the
// session's resync.
func (h *Harness) reconnect() error {
	if h.feed.Connected() {
		return nil
	}
	h.feed.Set(channel.StateConnected)

	select {
	case err := <-h.resynced:
		return err
	case <-time.After(reconnectTimeout):
		return fmt.Errorf("no resync within %s of reconnecting", reconnectTimeout)
	}
}

func (h *Harness) failNext(st Step) {
	var err error
	if st.Error == OutcomeNetwork {
		err = inventory.NewNetworkError(st.Op, testutil.ErrConnectionReset)
	} else {
		err = inventory.NewServerError(st.Op, http.StatusConflict, "rejected by scenario")
	}
	if st.AfterApply {
		h.server.FailNextAfterApply(st.Op, err)
	} else {
		h.server.FailNext(st.Op, err)
	}
}

func stepRecord(st Step) inventory.Record {
	return inventory.Record{
		ItemID:      st.Item,
		WarehouseID: st.Warehouse,
		Quantity:    st.Qty,
		MinQuantity: st.Min,
		Position:    st.Position,
	}
}

// outcomeOf names the error's category.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	switch inventory.CodeOf(err) {
	case inventory.ErrCodeValidation:
		return OutcomeValidation
	case inventory.ErrCodeNetwork:
		return OutcomeNetwork
	case inventory.ErrCodeServerRejected:
		return OutcomeServerRejected
	case inventory.ErrCodeNotFound:
		return OutcomeNotFound
	case inventory.ErrCodeChannel:
		return OutcomeChannel
	default:
		return OutcomeError
	}
}

// checkInvariants reports records that broke non-negativity after step i.
func checkInvariants(i int, snap *inventory.Snapshot, result *Result) {
	for _, r := range snap.AllRecords() {
		if r.Quantity < 0 || r.MinQuantity < 0 {
			result.AddError(fmt.Sprintf("steps[%d]: invariant broken: %s has qty=%d min=%d", i, r.Key(), r.Quantity, r.MinQuantity))
		}
	}
}
