package syncengine

import "testing"

func TestEventBusInvokesListenersInRegistrationOrder(t *testing.T) {
	bus := NewEventBus(nil)
	var order []int
	bus.On("x", func(payload any) { order = append(order, 1) })
	bus.On("x", func(payload any) { order = append(order, 2) })
	bus.On("x", func(payload any) { order = append(order, 3) })

	bus.Emit("x", nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected listeners invoked in registration order, got %v", order)
	}
}

func TestEventBusIsolatesPanickingListener(t *testing.T) {
	bus := NewEventBus(nil)
	var secondRan bool
	bus.On("x", func(payload any) { panic("boom") })
	bus.On("x", func(payload any) { secondRan = true })

	bus.Emit("x", nil)

	if !secondRan {
		t.Fatalf("expected second listener to run despite first panicking")
	}
}

func TestEventBusUnsubscribeIsIdempotent(t *testing.T) {
	bus := NewEventBus(nil)
	var calls int
	sub := bus.On("x", func(payload any) { calls++ })

	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Emit("x", nil)

	if calls != 0 {
		t.Fatalf("expected unsubscribed listener not to run, got %d calls", calls)
	}
}

func TestEventBusRemoveAllListenersStopsAllEmission(t *testing.T) {
	bus := NewEventBus(nil)
	var calls int
	bus.On("x", func(payload any) { calls++ })
	bus.On("y", func(payload any) { calls++ })

	bus.RemoveAllListeners("")
	bus.Emit("x", nil)
	bus.Emit("y", nil)

	if calls != 0 {
		t.Fatalf("expected zero listener invocations after RemoveAllListeners, got %d", calls)
	}
}

func TestEventBusOffRemovesOnlyThatSubscription(t *testing.T) {
	bus := NewEventBus(nil)
	var firstCalls, secondCalls int
	first := bus.On("x", func(payload any) { firstCalls++ })
	bus.On("x", func(payload any) { secondCalls++ })

	bus.Off(first)
	bus.Emit("x", nil)

	if firstCalls != 0 {
		t.Fatalf("expected first listener removed")
	}
	if secondCalls != 1 {
		t.Fatalf("expected second listener still active")
	}
}
