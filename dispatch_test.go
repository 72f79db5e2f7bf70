package zulip

import (
	"context"
	"slices"
	"sync"
	"testing"
)

func TestDispatcher_RoutesByType(t *testing.T) {
	d := NewDispatcher()
	var got []string
	d.Subscribe("message", func(e Event) { got = append(got, "message") })
	d.Subscribe(AllEvents, func(e Event) { got = append(got, "all:"+e.Type) })
	d.Subscribe("reaction", func(e Event) { got = append(got, "reaction") })

	if n := d.Dispatch(Event{ID: 1, Type: "message"}); n != 2 {
		t.Errorf("Dispatch() = %d, want 2", n)
	}
	if n := d.Dispatch(Event{ID: 2, Type: "presence"}); n != 1 {
		t.Errorf("Dispatch() = %d, want 1", n)
	}

	want := []string{"message", "all:message", "all:presence"}
	if !slices.Equal(got, want) {
		t.Errorf("callbacks = %v, want %v", got, want)
	}
}

func TestDispatcher_RegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var got []int
	for i := range 5 {
		d.Subscribe("message", func(Event) { got = append(got, i) })
	}
	d.Dispatch(Event{Type: "message"})
	if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("order = %v", got)
	}
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	unsubscribe := d.Subscribe("message", func(Event) { calls++ })
	other := 0
	d.Subscribe("message", func(Event) { other++ })

	d.Dispatch(Event{Type: "message"})
	unsubscribe()
	unsubscribe() // safe to call twice
	d.Dispatch(Event{Type: "message"})

	if calls != 1 {
		t.Errorf("unsubscribed callback called %d times, want 1", calls)
	}
	if other != 2 {
		t.Errorf("remaining callback called %d times, want 2", other)
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

func TestDispatcher_UnsubscribeDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	var second func()
	secondCalls := 0
	d.Subscribe("message", func(Event) { second() })
	second = d.Subscribe("message", func(Event) { secondCalls++ })

	d.Dispatch(Event{Type: "message"})
	if secondCalls != 0 {
		t.Errorf("callback ran after its unsubscribe returned")
	}
}

func TestDispatcher_UnsubscribeSelf(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	var unsubscribe func()
	unsubscribe = d.Subscribe(AllEvents, func(Event) {
		calls++
		unsubscribe()
	})

	for range 3 {
		d.Dispatch(Event{Type: "presence"})
	}
	if calls != 1 {
		t.Errorf("self-unsubscribing callback called %d times, want 1", calls)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
}

func TestDispatcher_Clear(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	d.Subscribe("message", func(Event) { calls++ })
	d.Subscribe(AllEvents, func(Event) { calls++ })
	d.Clear()

	if n := d.Dispatch(Event{Type: "message"}); n != 0 || calls != 0 {
		t.Errorf("Dispatch() after Clear = %d, calls = %d", n, calls)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
}

func TestDispatcher_Concurrent(t *testing.T) {
	d := NewDispatcher()
	var mu sync.Mutex
	calls := 0
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := d.Subscribe("message", func(Event) {
				mu.Lock()
				calls++
				mu.Unlock()
			})
			d.Dispatch(Event{Type: "message"})
			unsubscribe()
		}()
	}
	wg.Wait()
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
	if calls == 0 {
		t.Error("no callbacks invoked")
	}
}

func TestDispatcher_Handler(t *testing.T) {
	d := NewDispatcher()
	var got int64
	d.Subscribe("message", func(e Event) { got = e.ID })

	if err := d.Handler()(context.Background(), Event{ID: 9, Type: "message"}); err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	if got != 9 {
		t.Errorf("got id %d, want 9", got)
	}
}
