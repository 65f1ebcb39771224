package events

import (
	"testing"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}

	h.Publish(ExperimentPhase, ExperimentPhaseEvent{RunID: "r1", From: "Idle", To: "Homing", Ts: 1})

	ev := <-ch
	if ev.Name != ExperimentPhase {
		t.Fatalf("unexpected event name %q", ev.Name)
	}
	payload, err := DecodeAs[ExperimentPhaseEvent](ev)
	if err != nil {
		t.Fatalf("DecodeAs failed: %v", err)
	}
	if payload.From != "Idle" || payload.To != "Homing" || payload.RunID != "r1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	// Unsubscribing twice is a no-op.
	h.Unsubscribe(ch)
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		h.Publish(ExperimentWell, ExperimentWellEvent{Index: i})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected buffered channel to be full, got %d/%d", len(ch), cap(ch))
	}
}

func TestNilHub(t *testing.T) {
	var h *EventHub
	h.Publish(ExperimentAction, ActionEvent{Action: "Pause"})
	if h.Subscribers() != 0 {
		t.Fatalf("nil hub has no subscribers")
	}
}

func TestDecodeAsEmpty(t *testing.T) {
	v, err := DecodeAs[ActionEvent](Event{Name: ScheduleAction})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Action != "" {
		t.Fatalf("expected zero value, got %+v", v)
	}
}
