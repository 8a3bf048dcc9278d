// SPDX-License-Identifier: Apache-2.0

package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noormdev/noorm/pkg/eventbus"
)

func TestEmitInvokesSubscribersInOrder(t *testing.T) {
	b := eventbus.New()
	var order []int

	b.Subscribe("change:start", func(e eventbus.Event) { order = append(order, 1) })
	b.Subscribe("change:start", func(e eventbus.Event) { order = append(order, 2) })

	b.Emit("change:start", "widgets")
	assert.Equal(t, []int{1, 2}, order)
}

func TestEmitOnlyReachesMatchingSubscribers(t *testing.T) {
	b := eventbus.New()
	var changeCalls, lockCalls int

	b.Subscribe("change:start", func(e eventbus.Event) { changeCalls++ })
	b.Subscribe("lock:acquired", func(e eventbus.Event) { lockCalls++ })

	b.Emit("change:start", nil)
	assert.Equal(t, 1, changeCalls)
	assert.Equal(t, 0, lockCalls)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := eventbus.New()
	calls := 0

	unsubscribe := b.Subscribe("change:start", func(e eventbus.Event) { calls++ })
	b.Emit("change:start", nil)
	unsubscribe()
	b.Emit("change:start", nil)

	assert.Equal(t, 1, calls)
}

func TestEmitPassesDataThrough(t *testing.T) {
	b := eventbus.New()
	var got any

	b.Subscribe("change:complete", func(e eventbus.Event) { got = e.Data })
	b.Emit("change:complete", map[string]string{"name": "2026-01-01-add-users"})

	assert.Equal(t, map[string]string{"name": "2026-01-01-add-users"}, got)
}
