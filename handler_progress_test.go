package main

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
)

func recordCompletion(t *testing.T, token, partID, stage string, qty int) *httptest.ResponseRecorder {
	t.Helper()
	req := authedJSONRequest("POST", "/api/v1/progress", map[string]interface{}{
		"part_id":       partID,
		"stage":         stage,
		"operator_name": "Smith",
		"quantity":      qty,
	}, token)
	w := httptest.NewRecorder()
	handleRecordCompletion(w, req)
	return w
}

func partField(t *testing.T, partID, column string) int {
	t.Helper()
	var v int
	if err := db.QueryRow("SELECT "+column+" FROM parts WHERE part_id = ?", partID).Scan(&v); err != nil {
		t.Fatalf("Failed to read %s: %v", column, err)
	}
	return v
}

// The two-stage progression: target 5, Cut then Drill.
func TestRecordCompletionProgression(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut -> Drill", "Cut", "Drill")
	createTestPart(t, db, "P-1", 5, &tpl)

	assertStatus(t, recordCompletion(t, token, "P-1", "Cut", 3), 200)

	req := authedRequest("GET", "/api/v1/parts/P-1/next-stage", nil, token)
	w := httptest.NewRecorder()
	handleNextStage(w, req, "P-1")
	assertStatus(t, w, 200)
	resp := decodeAPIResponse(t, w)
	data := resp.Data.(map[string]interface{})
	if data["next"] != "Cut" {
		t.Errorf("Expected next stage Cut, got %v", data["next"])
	}
	if data["remaining"].(float64) != 2 {
		t.Errorf("Expected remaining 2, got %v", data["remaining"])
	}

	assertStatus(t, recordCompletion(t, token, "P-1", "Cut", 2), 200)

	w = httptest.NewRecorder()
	handleNextStage(w, authedRequest("GET", "/api/v1/parts/P-1/next-stage", nil, token), "P-1")
	data = decodeAPIResponse(t, w).Data.(map[string]interface{})
	if data["next"] != "Drill" {
		t.Errorf("Expected next stage Drill, got %v", data["next"])
	}

	// Cut is at 5 of 5: one more unit must be rejected.
	w = recordCompletion(t, token, "P-1", "Cut", 1)
	assertStatus(t, w, 409)
	assertErrorCode(t, w, "OVER_COMPLETION")

	if got := partField(t, "P-1", "quantity_completed"); got != 5 {
		t.Errorf("Expected quantity_completed 5, got %d", got)
	}
}

func TestRecordCompletionValidation(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut", "Cut")
	createTestPart(t, db, "P-1", 5, &tpl)
	createTestPart(t, db, "P-NOROUTE", 5, nil)

	w := recordCompletion(t, token, "P-1", "Cut", 0)
	assertStatus(t, w, 400)
	assertErrorCode(t, w, "VALIDATION_FAILED")

	w = recordCompletion(t, token, "P-MISSING", "Cut", 1)
	assertStatus(t, w, 404)
	assertErrorCode(t, w, "NOT_FOUND")

	w = recordCompletion(t, token, "P-NOROUTE", "Cut", 1)
	assertStatus(t, w, 409)
	assertErrorCode(t, w, "NO_ROUTE_ASSIGNED")

	// A stage that exists but is not on this part's route.
	createTestRoute(t, db, "Paint", "Paint")
	w = recordCompletion(t, token, "P-1", "Paint", 1)
	assertStatus(t, w, 400)
	assertErrorCode(t, w, "VALIDATION_FAILED")
}

func TestRecordCompletionUpdatesStatus(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut -> Drill", "Cut", "Drill")
	createTestPart(t, db, "P-1", 5, &tpl)

	assertStatus(t, recordCompletion(t, token, "P-1", "Cut", 5), 200)
	assertStatus(t, recordCompletion(t, token, "P-1", "Drill", 2), 200)

	var status string
	db.QueryRow("SELECT current_status FROM parts WHERE part_id = 'P-1'").Scan(&status)
	if status != "Drill" {
		t.Errorf("Expected current_status Drill, got %s", status)
	}
	if got := partField(t, "P-1", "quantity_completed"); got != 7 {
		t.Errorf("Expected quantity_completed 7, got %d", got)
	}
}

func TestCancelEntry(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut -> Drill", "Cut", "Drill")
	createTestPart(t, db, "P-1", 5, &tpl)

	assertStatus(t, recordCompletion(t, token, "P-1", "Cut", 5), 200)
	w := recordCompletion(t, token, "P-1", "Drill", 2)
	assertStatus(t, w, 200)
	var entry LedgerEntry
	if err := json.Unmarshal(mustMarshal(t, decodeAPIResponse(t, w).Data), &entry); err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}

	cw := httptest.NewRecorder()
	handleCancelEntry(cw, authedRequest("DELETE", "/api/v1/progress/1", nil, token), fmt.Sprint(entry.ID))
	assertStatus(t, cw, 200)

	// Status falls back to the most recent remaining entry.
	var status string
	db.QueryRow("SELECT current_status FROM parts WHERE part_id = 'P-1'").Scan(&status)
	if status != "Cut" {
		t.Errorf("Expected current_status Cut after cancel, got %s", status)
	}
	if got := partField(t, "P-1", "quantity_completed"); got != 5 {
		t.Errorf("Expected quantity_completed 5 after cancel, got %d", got)
	}

	// Cancelling the same entry twice is NOT_FOUND.
	cw = httptest.NewRecorder()
	handleCancelEntry(cw, authedRequest("DELETE", "/api/v1/progress/1", nil, token), fmt.Sprint(entry.ID))
	assertStatus(t, cw, 404)
	assertErrorCode(t, cw, "NOT_FOUND")
}

func TestCancelLastEntryRestoresSentinel(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut", "Cut")
	createTestPart(t, db, "P-1", 5, &tpl)

	w := recordCompletion(t, token, "P-1", "Cut", 3)
	assertStatus(t, w, 200)
	var entry LedgerEntry
	json.Unmarshal(mustMarshal(t, decodeAPIResponse(t, w).Data), &entry)

	cw := httptest.NewRecorder()
	handleCancelEntry(cw, authedRequest("DELETE", "/api/v1/progress/1", nil, token), fmt.Sprint(entry.ID))
	assertStatus(t, cw, 200)

	var status string
	db.QueryRow("SELECT current_status FROM parts WHERE part_id = 'P-1'").Scan(&status)
	if status != "In stock" {
		t.Errorf("Expected current_status to fall back to In stock, got %s", status)
	}
	if got := partField(t, "P-1", "quantity_completed"); got != 0 {
		t.Errorf("Expected quantity_completed 0, got %d", got)
	}
}

// Concurrent confirmations must never jointly exceed the target.
func TestConcurrentCompletionsRespectTarget(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut", "Cut")
	createTestPart(t, db, "P-1", 5, &tpl)

	const workers = 4
	var wg sync.WaitGroup
	codes := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			codes[n] = recordCompletion(t, token, "P-1", "Cut", 3).Code
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, c := range codes {
		if c == 200 {
			succeeded++
		}
	}
	// Target 5, each write is 3: exactly one can land.
	if succeeded != 1 {
		t.Errorf("Expected exactly 1 successful completion, got %d (codes %v)", succeeded, codes)
	}

	var sum int
	db.QueryRow("SELECT COALESCE(SUM(quantity), 0) FROM status_history WHERE part_id = 'P-1'").Scan(&sum)
	if sum > 5 {
		t.Errorf("Recorded sum %d exceeds target 5", sum)
	}
}

func TestPartStagesResolution(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut -> Drill -> Paint", "Cut", "Drill", "Paint")
	createTestPart(t, db, "P-1", 5, &tpl)

	assertStatus(t, recordCompletion(t, token, "P-1", "Cut", 5), 200)
	assertStatus(t, recordCompletion(t, token, "P-1", "Drill", 2), 200)

	w := httptest.NewRecorder()
	handlePartStages(w, authedRequest("GET", "/api/v1/parts/P-1/stages", nil, token), "P-1")
	assertStatus(t, w, 200)

	var stages []map[string]interface{}
	json.Unmarshal(mustMarshal(t, decodeAPIResponse(t, w).Data), &stages)
	if len(stages) != 3 {
		t.Fatalf("Expected 3 stages, got %d", len(stages))
	}
	expect := []struct {
		name, status string
		qty          float64
	}{
		{"Cut", "completed", 5},
		{"Drill", "in_progress", 2},
		{"Paint", "pending", 0},
	}
	for i, e := range expect {
		if stages[i]["name"] != e.name || stages[i]["status"] != e.status ||
			stages[i]["qty_done"].(float64) != e.qty {
			t.Errorf("Stage %d: expected %+v, got %+v", i, e, stages[i])
		}
	}
}

func TestPartHistoryMergesSources(t *testing.T) {
	oldDB := db
	db = setupTestDB(t)
	defer func() { db.Close(); db = oldDB }()

	token := loginOperator(t, db, "op1")
	tpl := createTestRoute(t, db, "Cut", "Cut")
	createTestPart(t, db, "P-1", 5, &tpl)

	assertStatus(t, recordCompletion(t, token, "P-1", "Cut", 2), 200)

	w := httptest.NewRecorder()
	handlePartHistory(w, authedRequest("GET", "/api/v1/parts/P-1/history", nil, token), "P-1")
	assertStatus(t, w, 200)

	var events []HistoryEvent
	json.Unmarshal(mustMarshal(t, decodeAPIResponse(t, w).Data), &events)

	var haveStatus, haveAudit bool
	for _, e := range events {
		switch e.Type {
		case "status":
			haveStatus = true
		case "audit":
			haveAudit = true
		}
	}
	if !haveStatus || !haveAudit {
		t.Errorf("Expected both status and audit events, got %+v", events)
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return b
}
