package machine

import (
	"errors"
	"reflect"
	"testing"
)

func neverDone(visited []State, e *Entity) bool {
	return false
}

func TestNewEntity_Validation(t *testing.T) {
	tests := []struct {
		name     string
		initial  State
		possible []State
		goal     GoalPredicate
	}{
		{"empty catalog", State("A"), []State{}, neverDone},
		{"nil catalog", State("A"), nil, neverDone},
		{"duplicate state", State("A"), []State{"A", "B", "A"}, neverDone},
		{"empty state name", State("A"), []State{"A", ""}, neverDone},
		{"initial not in catalog", State("Z"), []State{"A", "B"}, neverDone},
		{"nil goal", State("A"), []State{"A", "B"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntity(tt.initial, tt.possible, tt.goal)
			if err == nil {
				t.Fatal("NewEntity() should fail")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewEntity() error = %v, want %v", err, ErrInvalidConfig)
			}
		})
	}
}

func TestNewEntity_InitialStateIsVisited(t *testing.T) {
	e, err := NewEntity("A", []State{"A", "B", "C"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	if e.State() != "A" {
		t.Errorf("State() = %v, want %v", e.State(), State("A"))
	}
	if !e.HasVisited("A") {
		t.Error("HasVisited(A) = false, want true")
	}
	if got := e.VisitedStates(); !reflect.DeepEqual(got, []State{"A"}) {
		t.Errorf("VisitedStates() = %v, want %v", got, []State{"A"})
	}
	if e.TransitionCount() != 0 {
		t.Errorf("TransitionCount() = %v, want 0", e.TransitionCount())
	}
}

func TestEntity_TransitionTo(t *testing.T) {
	e, err := NewEntity("A", []State{"A", "B", "C"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	if err := e.TransitionTo("B"); err != nil {
		t.Fatalf("TransitionTo(B) failed: %v", err)
	}

	if e.State() != "B" {
		t.Errorf("State() = %v, want %v", e.State(), State("B"))
	}
	if got := e.VisitedStates(); !reflect.DeepEqual(got, []State{"A", "B"}) {
		t.Errorf("VisitedStates() = %v, want %v", got, []State{"A", "B"})
	}
	if e.TransitionCount() != 1 {
		t.Errorf("TransitionCount() = %v, want 1", e.TransitionCount())
	}
}

func TestEntity_TransitionTo_OutsideCatalog(t *testing.T) {
	e, err := NewEntity("A", []State{"A", "B"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	tests := []struct {
		name   string
		target State
	}{
		{"unknown state", State("Z")},
		{"empty state", State("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.TransitionTo(tt.target)
			if err == nil {
				t.Fatal("TransitionTo() should fail")
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("TransitionTo() error = %v, want %v", err, ErrInvalidTransition)
			}
			if e.State() != "A" {
				t.Errorf("State after failed TransitionTo() = %v, want %v", e.State(), State("A"))
			}
			if got := e.VisitedStates(); !reflect.DeepEqual(got, []State{"A"}) {
				t.Errorf("VisitedStates() = %v, want %v", got, []State{"A"})
			}
			if e.TransitionCount() != 0 {
				t.Errorf("TransitionCount() = %v, want 0", e.TransitionCount())
			}
		})
	}
}

func TestEntity_TransitionTo_RevisitDoesNotDuplicate(t *testing.T) {
	e, err := NewEntity("A", []State{"A", "B", "C"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	for _, target := range []State{"B", "A", "B", "B"} {
		if err := e.TransitionTo(target); err != nil {
			t.Fatalf("TransitionTo(%v) failed: %v", target, err)
		}
	}

	if got := e.VisitedStates(); !reflect.DeepEqual(got, []State{"A", "B"}) {
		t.Errorf("VisitedStates() = %v, want %v", got, []State{"A", "B"})
	}
	if e.TransitionCount() != 4 {
		t.Errorf("TransitionCount() = %v, want 4", e.TransitionCount())
	}
}

func TestEntity_VisitedContainsCurrent(t *testing.T) {
	e, err := NewEntity("A", []State{"A", "B", "C"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	for _, target := range []State{"B", "C", "A"} {
		if err := e.TransitionTo(target); err != nil {
			t.Fatalf("TransitionTo(%v) failed: %v", target, err)
		}
		if !e.HasVisited(e.State()) {
			t.Errorf("current state %v missing from visited set", e.State())
		}
	}
}

func TestEntity_GoalReached(t *testing.T) {
	goal := func(visited []State, e *Entity) bool {
		for _, s := range visited {
			if s == "C" {
				return true
			}
		}
		return false
	}

	e, err := NewEntity("A", []State{"A", "B", "C"}, goal)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	if e.GoalReached() {
		t.Error("GoalReached() = true before visiting C")
	}

	if err := e.TransitionTo("C"); err != nil {
		t.Fatalf("TransitionTo(C) failed: %v", err)
	}

	if !e.GoalReached() {
		t.Error("GoalReached() = false after visiting C")
	}
}

func TestEntity_GoalReceivesVisitedCopy(t *testing.T) {
	goal := func(visited []State, e *Entity) bool {
		// A misbehaving predicate must not corrupt the entity
		if len(visited) > 0 {
			visited[0] = "Z"
		}
		return false
	}

	e, err := NewEntity("A", []State{"A", "B"}, goal)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	e.GoalReached()

	if got := e.VisitedStates(); !reflect.DeepEqual(got, []State{"A"}) {
		t.Errorf("VisitedStates() = %v, want %v", got, []State{"A"})
	}
}

func TestEntity_Data(t *testing.T) {
	e, err := NewEntity("A", []State{"A"}, neverDone, WithData(map[string]any{"count": 2}))
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	e.SetData("name", "triage")
	e.SetData("ready", true)

	if v, ok := e.Data("count"); !ok || v != 2 {
		t.Errorf("Data(count) = %v, %v, want 2, true", v, ok)
	}
	if s, ok := e.StringData("name"); !ok || s != "triage" {
		t.Errorf("StringData(name) = %v, %v, want triage, true", s, ok)
	}
	if n, ok := e.IntData("count"); !ok || n != 2 {
		t.Errorf("IntData(count) = %v, %v, want 2, true", n, ok)
	}
	if b, ok := e.BoolData("ready"); !ok || !b {
		t.Errorf("BoolData(ready) = %v, %v, want true, true", b, ok)
	}
	if _, ok := e.StringData("count"); ok {
		t.Error("StringData(count) should report false for non-string value")
	}

	e.DeleteData("ready")
	if _, ok := e.Data("ready"); ok {
		t.Error("Data(ready) should report false after DeleteData")
	}

	if got := e.DataKeys(); !reflect.DeepEqual(got, []string{"count", "name"}) {
		t.Errorf("DataKeys() = %v, want %v", got, []string{"count", "name"})
	}
}

func TestEntity_RequireData(t *testing.T) {
	e, err := NewEntity("A", []State{"A"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	e.SetData("document", "/tmp/report.pdf")

	if v, err := e.RequireData("document"); err != nil || v != "/tmp/report.pdf" {
		t.Errorf("RequireData(document) = %v, %v, want /tmp/report.pdf, nil", v, err)
	}

	_, err = e.RequireData("missing")
	if err == nil {
		t.Fatal("RequireData(missing) should fail")
	}
	if !errors.Is(err, ErrMissingContextKey) {
		t.Errorf("RequireData() error = %v, want %v", err, ErrMissingContextKey)
	}
}

func TestEntity_DataSnapshotIsCopy(t *testing.T) {
	e, err := NewEntity("A", []State{"A"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	e.SetData("k", "v")

	snapshot := e.DataSnapshot()
	snapshot["k"] = "mutated"
	snapshot["extra"] = 1

	if v, _ := e.Data("k"); v != "v" {
		t.Errorf("Data(k) = %v, want v", v)
	}
	if _, ok := e.Data("extra"); ok {
		t.Error("snapshot mutation leaked into entity")
	}
}

func TestEntity_Observer(t *testing.T) {
	type hop struct {
		from State
		to   State
	}
	var hops []hop

	e, err := NewEntity("A", []State{"A", "B", "C"}, neverDone,
		WithObserver(func(from, to State) {
			hops = append(hops, hop{from, to})
		}))
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	if err := e.TransitionTo("B"); err != nil {
		t.Fatalf("TransitionTo(B) failed: %v", err)
	}
	if err := e.TransitionTo("C"); err != nil {
		t.Fatalf("TransitionTo(C) failed: %v", err)
	}

	want := []hop{{"A", "B"}, {"B", "C"}}
	if !reflect.DeepEqual(hops, want) {
		t.Errorf("observer hops = %v, want %v", hops, want)
	}
}

func TestEntity_PossibleStatesIsCopy(t *testing.T) {
	e, err := NewEntity("A", []State{"A", "B"}, neverDone)
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	possible := e.PossibleStates()
	possible[0] = "Z"

	if got := e.PossibleStates(); !reflect.DeepEqual(got, []State{"A", "B"}) {
		t.Errorf("PossibleStates() = %v, want %v", got, []State{"A", "B"})
	}
}
