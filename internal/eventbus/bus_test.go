package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishPreservesSubscriptionOrder(t *testing.T) {
	b := New(nil)

	var order []int
	b.Subscribe("satop.startup", func(msg any) { order = append(order, 1) })
	b.Subscribe("satop.startup", func(msg any) { order = append(order, 2) })
	b.Subscribe("satop.startup", func(msg any) { order = append(order, 3) })

	b.Publish("satop.startup", nil)

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil)
	id := b.Subscribe("t", func(msg any) {})

	b.Unsubscribe("t", id)
	require.NotPanics(t, func() { b.Unsubscribe("t", id) })

	_, subs := b.Stats()
	require.Equal(t, 0, subs)
}

func TestPublishSurvivesCallbackPanic(t *testing.T) {
	b := New(nil)

	var secondRan bool
	b.Subscribe("t", func(msg any) { panic("boom") })
	b.Subscribe("t", func(msg any) { secondRan = true })

	require.NotPanics(t, func() { b.Publish("t", nil) })
	require.True(t, secondRan)
}

func TestPublishUnknownTopicIsNoop(t *testing.T) {
	b := New(nil)
	require.NotPanics(t, func() { b.Publish("nobody.listens", "msg") })
}

func TestStatsCountsTopicsAndSubscribers(t *testing.T) {
	b := New(nil)
	b.Subscribe("a", func(msg any) {})
	b.Subscribe("a", func(msg any) {})
	b.Subscribe("b", func(msg any) {})

	topics, subs := b.Stats()
	require.Equal(t, 2, topics)
	require.Equal(t, 3, subs)
}
