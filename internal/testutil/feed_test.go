package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/stockline/internal/channel"
	"github.com/roach88/stockline/internal/reconcile"
)

func TestFeed_DeliversOnlyWhenConnected(t *testing.T) {
	f := NewFeed()
	var got []string
	f.SubscribeAll(func(env reconcile.Envelope) { got = append(got, env.ID) })

	var states []channel.State
	f.OnState(func(sc channel.StateChange) { states = append(states, sc.State) })

	f.Deliver(reconcile.Envelope{Event: reconcile.ItemDeleted, ID: "lost"})
	f.Set(channel.StateConnected)
	f.Deliver(reconcile.Envelope{Event: reconcile.ItemDeleted, ID: "kept"})
	f.Set(channel.StateDisconnected)
	f.Deliver(reconcile.Envelope{Event: reconcile.ItemDeleted, ID: "lost again"})

	assert.Equal(t, []string{"kept"}, got)
	assert.Equal(t, 2, f.Dropped())
	assert.Equal(t, []channel.State{channel.StateConnected, channel.StateDisconnected}, states)
	assert.False(t, f.Connected())
}

func TestFeed_Unsubscribe(t *testing.T) {
	f := NewFeed()
	f.Set(channel.StateConnected)

	n := 0
	cancel := f.SubscribeAll(func(reconcile.Envelope) { n++ })
	f.Deliver(reconcile.Envelope{Event: reconcile.ItemDeleted})
	cancel()
	f.Deliver(reconcile.Envelope{Event: reconcile.ItemDeleted})

	assert.Equal(t, 1, n)
}
