package pipeline

import (
	"errors"
	"testing"
)

func TestApplyFollowsEdges(t *testing.T) {
	r := NewRun()
	steps := []State{Planning, Discovering, AwaitingSelection, Analyzing, Reporting, Complete}
	for _, s := range steps {
		next, err := Apply(r, Patch{To: s})
		if err != nil {
			t.Fatalf("%s -> %s: %v", r.State, s, err)
		}
		r = next
	}
	if r.State != Complete {
		t.Fatalf("state = %s", r.State)
	}
}

func TestApplyRejectsBackwardAndSkippingEdges(t *testing.T) {
	bad := [][2]State{
		{Planning, Initialized},
		{Initialized, Reporting},
		{Discovering, Complete},
		{Analyzing, AwaitingSelection},
		{Reporting, Analyzing},
		{AwaitingSelection, Planning},
	}
	for _, e := range bad {
		old := Run{State: e[0], RootPath: "/r"}
		got, err := Apply(old, Patch{To: e[1]})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: err = %v", e[0], e[1], err)
		}
		if got.State != e[0] {
			t.Fatalf("rejected patch must leave state unchanged, got %s", got.State)
		}
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	old := Run{State: Discovering, Discovered: []string{"a"}}
	next, err := Apply(old, Patch{To: AwaitingSelection, Discovered: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	next.Discovered[0] = "mutated"
	if old.Discovered[0] != "a" || len(old.Discovered) != 1 {
		t.Fatalf("input run changed: %v", old.Discovered)
	}
}

func TestRestartClearsSelectionKeepsMemo(t *testing.T) {
	old := Run{State: Complete, RootPath: "/r", Discovered: []string{"a"}, Selected: []string{"a"}}
	next, err := Apply(old, Patch{To: Initialized})
	if err != nil {
		t.Fatal(err)
	}
	if next.Selected != nil || next.RootPath != "/r" || len(next.Discovered) != 1 {
		t.Fatalf("unexpected run %+v", next)
	}
	if r := Reset(Run{State: Analyzing, RootPath: "/r", Selected: []string{"x"}}); r.State != Initialized || r.RootPath != "/r" || r.Selected != nil {
		t.Fatalf("reset = %+v", r)
	}
}

func TestDedupe(t *testing.T) {
	if Dedupe(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	got := Dedupe([]string{"b", "a", "", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v", got)
		}
	}
	if e := Dedupe([]string{}); e == nil || len(e) != 0 {
		t.Fatalf("empty selection must stay empty non-nil")
	}
}
