package observe_test

import (
	"testing"

	"github.com/hookline/triage/observe"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := observe.NewBus(nil)

	var got []observe.Observation
	bus.Subscribe(observe.KindIssueAssigned, func(o observe.Observation) {
		got = append(got, o)
	})

	bus.Emit(observe.KindIssueAssigned, map[string]any{"issue_id": "I1"})
	bus.Emit(observe.KindEventFailed, map[string]any{"job_id": "j1"})

	if len(got) != 1 {
		t.Fatalf("got %d observations, want 1", len(got))
	}
	if got[0].Fields["issue_id"] != "I1" {
		t.Errorf("fields = %v", got[0].Fields)
	}
	if got[0].Time.IsZero() {
		t.Error("observation time not stamped")
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := observe.NewBus(nil)

	var kinds []observe.Kind
	bus.SubscribeAll(func(o observe.Observation) {
		kinds = append(kinds, o.Kind)
	})

	bus.Emit(observe.KindEventReceived, nil)
	bus.Emit(observe.KindRuleAdded, nil)

	if len(kinds) != 2 {
		t.Fatalf("got %d observations, want 2", len(kinds))
	}
}

func TestPanickingSubscriberIsolated(t *testing.T) {
	bus := observe.NewBus(nil)

	bus.Subscribe(observe.KindEventProcessed, func(observe.Observation) {
		panic("bad subscriber")
	})

	var fired bool
	bus.Subscribe(observe.KindEventProcessed, func(observe.Observation) {
		fired = true
	})

	bus.Emit(observe.KindEventProcessed, nil)

	if !fired {
		t.Error("second subscriber did not run after first panicked")
	}
}
