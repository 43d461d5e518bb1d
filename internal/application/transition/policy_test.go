package transition

import (
	"reflect"
	"testing"

	"github.com/geoffsee/agent-mst/internal/domain/machine"
)

func TestTakeSnapshot(t *testing.T) {
	e, err := machine.NewEntity("A", []machine.State{"A", "B", "C"},
		func(visited []machine.State, e *machine.Entity) bool { return false },
		machine.WithContextPrompt("route the ticket"),
		machine.WithData(map[string]any{"ticket": "T-7"}))
	if err != nil {
		t.Fatalf("NewEntity() failed: %v", err)
	}

	instructions := machine.Instructions{
		{Description: "always on"},
		{Description: "inactive", Condition: func(e *machine.Entity) bool { return false }},
	}

	snap := TakeSnapshot(e, instructions)

	if snap.Current != "A" {
		t.Errorf("snapshot current = %v, want A", snap.Current)
	}
	if !reflect.DeepEqual(snap.Visited, []machine.State{"A"}) {
		t.Errorf("snapshot visited = %v, want [A]", snap.Visited)
	}
	if !reflect.DeepEqual(snap.Possible, []machine.State{"A", "B", "C"}) {
		t.Errorf("snapshot possible = %v, want [A B C]", snap.Possible)
	}
	if snap.ContextPrompt != "route the ticket" {
		t.Errorf("snapshot context prompt = %v, want route the ticket", snap.ContextPrompt)
	}
	if !reflect.DeepEqual(snap.Instructions, []string{"always on"}) {
		t.Errorf("snapshot instructions = %v, want only active descriptions", snap.Instructions)
	}
	if snap.Data["ticket"] != "T-7" {
		t.Errorf("snapshot data = %v, want ticket entry", snap.Data)
	}
}

func TestSnapshot_Prompt(t *testing.T) {
	snap := Snapshot{
		Current:       "B",
		Visited:       []machine.State{"A", "B"},
		Possible:      []machine.State{"A", "B", "C"},
		ContextPrompt: "You route support tickets.",
		Instructions:  []string{"label the ticket", "check the backlog"},
		Data:          map[string]any{"priority": "high", "attempts": 2},
	}

	want := "You route support tickets.\n\n" +
		"Current state: B\n" +
		"Visited states: A, B\n" +
		"Possible states: A, B, C\n" +
		"Active instructions:\n" +
		"label the ticket\n" +
		"check the backlog\n" +
		"Context:\n" +
		"attempts: 2\n" +
		"priority: high\n"

	if got := snap.Prompt(); got != want {
		t.Errorf("Prompt() = %q, want %q", got, want)
	}
}

func TestSnapshot_Prompt_MinimalSections(t *testing.T) {
	snap := Snapshot{
		Current:  "A",
		Visited:  []machine.State{"A"},
		Possible: []machine.State{"A", "B"},
	}

	want := "Current state: A\n" +
		"Visited states: A\n" +
		"Possible states: A, B\n"

	if got := snap.Prompt(); got != want {
		t.Errorf("Prompt() = %q, want %q", got, want)
	}
}

func TestSnapshot_Membership(t *testing.T) {
	snap := Snapshot{
		Current:  "B",
		Visited:  []machine.State{"A", "B"},
		Possible: []machine.State{"A", "B", "C"},
	}

	if !snap.HasVisited("A") {
		t.Error("HasVisited(A) = false, want true")
	}
	if snap.HasVisited("C") {
		t.Error("HasVisited(C) = true, want false")
	}
	if !snap.IsPossible("C") {
		t.Error("IsPossible(C) = false, want true")
	}
	if snap.IsPossible("Z") {
		t.Error("IsPossible(Z) = true, want false")
	}
}
