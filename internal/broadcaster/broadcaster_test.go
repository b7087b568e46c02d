package broadcaster

import (
	"testing"
	"time"

	"github.com/fleetwatch/sentinel/internal/types"
)

func statusChangedEvent(serviceID string) types.Event {
	return types.Event{
		Kind: types.EventStatusChanged, At: time.Now(),
		StatusChanged: &types.StatusChangedPayload{ServiceID: serviceID, From: types.StatusUnknown, To: types.StatusHealthy},
	}
}

func TestBroadcaster_SubscribeReceivesEvents(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(nil)
	defer sub.Close()

	b.Publish(statusChangedEvent("api"))

	select {
	case ev := <-sub.Events():
		if ev.StatusChanged.ServiceID != "api" {
			t.Fatalf("expected event for api, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_FilterByEventKind(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(&Filter{EventKinds: map[types.EventKind]bool{types.EventHighLatency: true}})
	defer sub.Close()

	b.Publish(statusChangedEvent("api"))

	select {
	case ev := <-sub.Events():
		t.Fatalf("expected no event to match filter, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_FilterByServiceID(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(&Filter{ServiceIDs: map[string]bool{"worker": true}})
	defer sub.Close()

	b.Publish(statusChangedEvent("api"))
	b.Publish(statusChangedEvent("worker"))

	select {
	case ev := <-sub.Events():
		if ev.StatusChanged.ServiceID != "worker" {
			t.Fatalf("expected worker event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching event")
	}
}

func TestBroadcaster_SetFilterReplacesWholesale(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(&Filter{ServiceIDs: map[string]bool{"api": true}})
	defer sub.Close()

	sub.SetFilter(&Filter{ServiceIDs: map[string]bool{"worker": true}})

	b.Publish(statusChangedEvent("api"))
	select {
	case ev := <-sub.Events():
		t.Fatalf("expected api event to be filtered out after SetFilter, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	b.Publish(statusChangedEvent("worker"))
	select {
	case ev := <-sub.Events():
		if ev.StatusChanged.ServiceID != "worker" {
			t.Fatalf("expected worker event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker event after SetFilter")
	}
}

type fakeDropCounter struct{ drops int }

func (f *fakeDropCounter) IncBroadcastDropped(subscriberID string) { f.drops++ }

func TestBroadcaster_DropsOldestWhenQueueFull(t *testing.T) {
	counter := &fakeDropCounter{}
	b := &Broadcaster{subs: make(map[string]*Subscription), queueDepth: 2, dropCounter: counter}

	sub := b.Subscribe(nil)
	defer sub.Close()

	b.Publish(statusChangedEvent("1"))
	b.Publish(statusChangedEvent("2"))
	b.Publish(statusChangedEvent("3")) // queue full, should drop oldest ("1")

	if counter.drops == 0 {
		t.Fatal("expected at least one drop to be counted")
	}

	first := <-sub.Events()
	if first.StatusChanged.ServiceID != "2" {
		t.Fatalf("expected oldest event to be dropped, first remaining is %+v", first)
	}
}

func TestBroadcaster_CloseStopsDelivery(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe(nil)
	sub.Close()

	_, ok := <-sub.Events()
	if ok {
		t.Fatal("expected channel to be closed after Close")
	}
}
