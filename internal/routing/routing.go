// Package routing derives a part's per-stage completion state from its
// assigned route and its ledger of completion events.
//
// A part's progress is never stored as a single field: it is recomputed
// from the ordered stage list of the currently assigned route template and
// the sum of recorded quantities per stage name. History recorded under
// stage names that are not on the current route is ignored by resolution
// (but kept for display); changing a part's route never rewrites history.
package routing

import "strings"

// Stage derived statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Separator joins stage names into a route template's canonical name.
const Separator = " -> "

// Entry is the slice of a ledger row the engine needs.
type Entry struct {
	Stage    string
	Quantity int
}

// StageProgress is the derived state of one route stage for one part.
type StageProgress struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	QtyDone int    `json:"qty_done"`
}

// DoneByStage sums recorded quantities per stage name.
func DoneByStage(entries []Entry) map[string]int {
	done := make(map[string]int, len(entries))
	for _, e := range entries {
		done[e.Stage] += e.Quantity
	}
	return done
}

// Resolve computes the derived status of every stage on the route, in
// route order. A stage is completed once its recorded sum reaches the
// part's target quantity, in progress when partially recorded, pending
// otherwise.
func Resolve(routeStages []string, done map[string]int, target int) []StageProgress {
	out := make([]StageProgress, 0, len(routeStages))
	for _, name := range routeStages {
		qty := done[name]
		status := StatusPending
		switch {
		case qty >= target:
			status = StatusCompleted
		case qty > 0:
			status = StatusInProgress
		}
		out = append(out, StageProgress{Name: name, Status: status, QtyDone: qty})
	}
	return out
}

// NextStage returns the first stage in route order whose recorded sum is
// below the target, or ok=false when every stage is complete.
func NextStage(routeStages []string, done map[string]int, target int) (string, bool) {
	for _, name := range routeStages {
		if done[name] < target {
			return name, true
		}
	}
	return "", false
}

// Remaining returns how many units may still be recorded for a stage
// before it exceeds the target.
func Remaining(done map[string]int, stage string, target int) int {
	r := target - done[stage]
	if r < 0 {
		return 0
	}
	return r
}

// CanonicalName builds the route template name for an ordered list of
// stage names. Deterministic: the same sequence always yields the same
// name, which is how imports find an existing template.
func CanonicalName(stageNames []string) string {
	trimmed := make([]string, 0, len(stageNames))
	for _, s := range stageNames {
		s = strings.TrimSpace(s)
		if s != "" {
			trimmed = append(trimmed, s)
		}
	}
	return strings.Join(trimmed, Separator)
}

// SplitOperations parses a comma-separated operations cell from an import
// row into an ordered list of stage names, dropping empties.
func SplitOperations(ops string) []string {
	var names []string
	for _, op := range strings.Split(ops, ",") {
		op = strings.TrimSpace(op)
		if op != "" {
			names = append(names, op)
		}
	}
	return names
}
