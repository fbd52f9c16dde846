package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seal-network/gseal/core/types"
)

func TestEventFeedFanOut(t *testing.T) {
	feed := newEventFeed()
	a := make(chan ChainEvent, 1)
	b := make(chan ChainEvent, 1)
	feed.subscribe(a)
	sub := feed.subscribe(b)

	block := &types.Block{Number: 1}
	feed.post(ChainEvent{Block: block})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, block, (<-a).Block)
	<-b

	sub.Unsubscribe()
	feed.post(ChainEvent{Block: block, Replaced: true})
	assert.Len(t, a, 1)
	assert.Len(t, b, 0, "unsubscribed channel receives nothing")

	ev := <-a
	assert.True(t, ev.Replaced)
}

func TestEventFeedNonBlocking(t *testing.T) {
	feed := newEventFeed()
	full := make(chan ChainEvent) // no buffer, no reader
	feed.subscribe(full)

	// A stalled subscriber must never block the writer; a blocking post
	// would hang the test here.
	feed.post(ChainEvent{Block: &types.Block{Number: 1}})
	assert.Len(t, full, 0)
}
