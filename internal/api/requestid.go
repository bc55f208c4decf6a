package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RequestIDGenerator supplies the X-Request-ID of each outgoing request.
type RequestIDGenerator interface {
	Generate() string
}

type requestIDKey struct{}

// withRequestID makes the next request sent with ctx carry id instead of
// a generated one.
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// UUIDv7Generator issues UUIDv7 ids. Their leading timestamp bits make
// server logs sort in the order the client sent requests.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator replays a fixed list of ids, for tests that assert on
// request headers. It panics when the list runs out.
type FixedGenerator struct {
	mu   sync.Mutex
	ids  []string
	next int
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == len(g.ids) {
		panic(fmt.Sprintf("api: FixedGenerator has no id left after %d requests", len(g.ids)))
	}
	id := g.ids[g.next]
	g.next++
	return id
}
