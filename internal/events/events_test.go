package events

import (
	"testing"
)

func TestBus_EmitOrder(t *testing.T) {
	bus := NewBus(16, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	types := []Type{TypeReady, TypeMarketData, TypeMarketData, TypeSubscriptionCreated}
	for _, typ := range types {
		bus.Emit(Event{Type: typ})
	}

	for i, want := range types {
		got := <-ch
		if got.Type != want {
			t.Errorf("event %d: got %s, want %s", i, got.Type, want)
		}
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(16, nil)
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Emit(Event{Type: TypeReady})

	if ev := <-ch1; ev.Type != TypeReady {
		t.Errorf("subscriber 1 got %s", ev.Type)
	}
	if ev := <-ch2; ev.Type != TypeReady {
		t.Errorf("subscriber 2 got %s", ev.Type)
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	bus := NewBus(16, nil)
	ch, cancel := bus.Subscribe()

	bus.Emit(Event{Type: TypeReady})
	cancel()
	bus.Emit(Event{Type: TypeMarketData})

	var got []Type
	for ev := range ch {
		got = append(got, ev.Type)
	}
	if len(got) != 1 || got[0] != TypeReady {
		t.Errorf("got %v, want [ready]", got)
	}
}

func TestBus_DropWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Emit(Event{Type: TypeReady})
	bus.Emit(Event{Type: TypeMarketData}) // dropped, buffer full

	if ev := <-ch; ev.Type != TypeReady {
		t.Errorf("got %s, want ready", ev.Type)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected second event %s", ev.Type)
	default:
	}
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := NewBus(16, nil)
	ch, _ := bus.Subscribe()

	bus.Close()
	bus.Emit(Event{Type: TypeReady}) // no-op after close

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}

	// Subscribe after close yields an already-closed channel.
	late, cancel := bus.Subscribe()
	defer cancel()
	if _, ok := <-late; ok {
		t.Error("expected closed channel for late subscriber")
	}
}

func TestBus_DoubleCancel(t *testing.T) {
	bus := NewBus(16, nil)
	_, cancel := bus.Subscribe()
	cancel()
	cancel() // must not panic
}
