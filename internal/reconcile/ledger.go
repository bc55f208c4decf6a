package reconcile

import (
	"sync"
	"time"

	"github.com/roach88/stockline/internal/inventory"
)

// DefaultEchoWindow is how long an own transfer's echo is expected.
const DefaultEchoWindow = 30 * time.Second

// Ledger tracks the client's own transfers whose stock:transferred echo
// has not arrived yet.
//
// Each own transfer registers one expectation. A matching event consumes
// one expectation and is not applied: the optimistic delta or the
// post-transfer resync already reflects it.
//
// An expectation is in flight from Expect until Settle. In-flight
// expectations never expire and survive Reset: the server may still apply
// the transfer and broadcast it after a reconnect resync. Settled ones
// expire after the echo window and are dropped by Reset.
//
// Thread-safety: safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	next    uint64
	pending map[inventory.Intent][]expectation
}

type expectation struct {
	token     uint64
	requestID string
	inFlight  bool
	expires  time.Time // zero while in flight
}

func (e expectation) live(now time.Time) bool {
	return e.inFlight || now.Before(e.expires)
}

// Token identifies one expectation.
type Token uint64

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithNow replaces the ledger's time source.
func WithNow(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a ledger. A non-positive window uses DefaultEchoWindow.
func NewLedger(window time.Duration, opts ...LedgerOption) *Ledger {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	l := &Ledger{
		window:  window,
		now:     time.Now,
		pending: make(map[inventory.Intent][]expectation),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Expect registers an in-flight expectation for intent. Call it before
// the request is sent.
func (l *Ledger) Expect(intent inventory.Intent) Token {
	return l.ExpectRequest(intent, "")
}

// ExpectRequest is Expect for a request sent with X-Request-ID
// requestID. An echo carrying a request id only matches the expectation
// registered under that id.
func (l *Ledger) ExpectRequest(intent inventory.Intent, requestID string) Token {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	l.pending[intent] = append(l.pending[intent], expectation{
		token:     l.next,
		requestID: requestID,
		inFlight:  true,
	})
	return Token(l.next)
}

// Settle marks the expectation under tok as no longer in flight; its echo
// window starts now. Returns false if it was already consumed or cancelled.
func (l *Ledger) Settle(intent inventory.Intent, tok Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.pending[intent] {
		if e.token == uint64(tok) {
			if e.inFlight {
				e.inFlight = false
				e.expires = l.now().Add(l.window)
				l.pending[intent][i] = e
			}
			return true
		}
	}
	return false
}

// Cancel drops the expectation registered under tok.
// Returns false if it was already consumed or expired.
func (l *Ledger) Cancel(intent inventory.Intent, tok Token) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.pending[intent]
	for i, e := range list {
		if e.token == uint64(tok) {
			l.set(intent, append(list[:i:i], list[i+1:]...))
			return true
		}
	}
	return false
}

// Consume removes the oldest live expectation matching intent.
// Returns true if one existed, meaning the event is an own echo.
func (l *Ledger) Consume(intent inventory.Intent) bool {
	return l.ConsumeRequest(intent, "")
}

// ConsumeRequest is Consume for an event that names its originating
// request. With a non-empty requestID only the expectation registered
// under it matches, so an identical transfer by another client is never
// mistaken for an own echo.
func (l *Ledger) ConsumeRequest(intent inventory.Intent, requestID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	list := l.pending[intent]
	kept := list[:0:0]
	found := false
	for _, e := range list {
		switch {
		case !e.live(now):
		case !found && (requestID == "" || e.requestID == requestID):
			found = true
		default:
			kept = append(kept, e)
		}
	}
	l.set(intent, kept)
	return found
}

// Reset drops every settled expectation. A reconnect resync installs the
// server's figures, so echoes of completed transfers that were missed
// while disconnected will never arrive.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for intent, list := range l.pending {
		kept := list[:0:0]
		for _, e := range list {
			if e.inFlight {
				kept = append(kept, e)
			}
		}
		l.set(intent, kept)
	}
}

// Len returns the number of live expectations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for _, list := range l.pending {
		for _, e := range list {
			if e.live(now) {
				n++
			}
		}
	}
	return n
}

func (l *Ledger) set(intent inventory.Intent, list []expectation) {
	if len(list) == 0 {
		delete(l.pending, intent)
		return
	}
	l.pending[intent] = list
}
