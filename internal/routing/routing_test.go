package routing

import (
	"reflect"
	"testing"
)

func TestDoneByStage(t *testing.T) {
	entries := []Entry{
		{Stage: "Cut", Quantity: 3},
		{Stage: "Cut", Quantity: 2},
		{Stage: "Drill", Quantity: 1},
	}
	done := DoneByStage(entries)
	if done["Cut"] != 5 {
		t.Errorf("Expected Cut=5, got %d", done["Cut"])
	}
	if done["Drill"] != 1 {
		t.Errorf("Expected Drill=1, got %d", done["Drill"])
	}
}

func TestResolveStatuses(t *testing.T) {
	route := []string{"Cut", "Drill", "Paint"}
	done := map[string]int{"Cut": 5, "Drill": 2}

	got := Resolve(route, done, 5)
	want := []StageProgress{
		{Name: "Cut", Status: StatusCompleted, QtyDone: 5},
		{Name: "Drill", Status: StatusInProgress, QtyDone: 2},
		{Name: "Paint", Status: StatusPending, QtyDone: 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve mismatch:\n got %+v\nwant %+v", got, want)
	}
}

// Matches the two-stage scenario: target 5, partial then full completion
// of the first stage moves the next actionable stage forward.
func TestNextStageProgression(t *testing.T) {
	route := []string{"Cut", "Drill"}
	target := 5

	done := map[string]int{"Cut": 3}
	next, ok := NextStage(route, done, target)
	if !ok || next != "Cut" {
		t.Errorf("Expected next=Cut, got %q (ok=%v)", next, ok)
	}

	done["Cut"] = 5
	next, ok = NextStage(route, done, target)
	if !ok || next != "Drill" {
		t.Errorf("Expected next=Drill, got %q (ok=%v)", next, ok)
	}

	done["Drill"] = 5
	if _, ok := NextStage(route, done, target); ok {
		t.Error("Expected no next stage when all stages complete")
	}
}

// History recorded under stages absent from the current route must not
// affect resolution.
func TestResolveIgnoresOffRouteHistory(t *testing.T) {
	done := DoneByStage([]Entry{
		{Stage: "Cut", Quantity: 2},
		{Stage: "OldStage", Quantity: 5},
	})
	next, ok := NextStage([]string{"Cut", "Drill"}, done, 5)
	if !ok || next != "Cut" {
		t.Errorf("Expected next=Cut, got %q (ok=%v)", next, ok)
	}
	resolved := Resolve([]string{"Cut", "Drill"}, done, 5)
	if len(resolved) != 2 {
		t.Fatalf("Expected 2 stages, got %d", len(resolved))
	}
	if resolved[0].QtyDone != 2 {
		t.Errorf("Expected Cut qty 2, got %d", resolved[0].QtyDone)
	}
}

func TestRemaining(t *testing.T) {
	done := map[string]int{"Cut": 3}
	if r := Remaining(done, "Cut", 5); r != 2 {
		t.Errorf("Expected remaining 2, got %d", r)
	}
	if r := Remaining(done, "Drill", 5); r != 5 {
		t.Errorf("Expected remaining 5, got %d", r)
	}
	done["Cut"] = 7
	if r := Remaining(done, "Cut", 5); r != 0 {
		t.Errorf("Expected remaining 0 when over target, got %d", r)
	}
}

func TestCanonicalName(t *testing.T) {
	if got := CanonicalName([]string{"Cut", "Drill"}); got != "Cut -> Drill" {
		t.Errorf("Expected %q, got %q", "Cut -> Drill", got)
	}
	if got := CanonicalName([]string{" Cut ", "", "Drill"}); got != "Cut -> Drill" {
		t.Errorf("Expected blanks dropped, got %q", got)
	}
	if got := CanonicalName(nil); got != "" {
		t.Errorf("Expected empty name, got %q", got)
	}
}

func TestSplitOperations(t *testing.T) {
	got := SplitOperations(" Cut , Drill ,, Paint ")
	want := []string{"Cut", "Drill", "Paint"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := SplitOperations(""); got != nil {
		t.Errorf("Expected nil for empty input, got %v", got)
	}
}
