package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banterlabs/troupe/internal/conductor"
	"github.com/banterlabs/troupe/internal/db"
	"github.com/banterlabs/troupe/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return gormDB
}

func seedActivity(t *testing.T, gormDB *gorm.DB) {
	t.Helper()
	turns := []models.TurnRecord{
		{TurnID: "t1", EventID: "e1", ChannelID: "c1", Response: "hi", Status: models.TurnCompleted},
		{TurnID: "t2", EventID: "e2", ChannelID: "c1", Status: models.TurnFailed},
	}
	for i := range turns {
		if err := gormDB.Create(&turns[i]).Error; err != nil {
			t.Fatalf("seed turn: %v", err)
		}
	}
	if err := gormDB.Create(&models.FollowUpRecord{EventID: "e1", Approved: true}).Error; err != nil {
		t.Fatalf("seed follow-up: %v", err)
	}
}

func get(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return rec.Code, body
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{DB: nil})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
	if !strings.Contains(err.Error(), "db is required") {
		t.Errorf("error = %q, want to contain db is required", err.Error())
	}
}

func TestHealthz(t *testing.T) {
	router := newRouter(testDB(t), nil)
	code, body := get(t, router, "/healthz")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestStatus_WithConductor(t *testing.T) {
	gormDB := testDB(t)
	seedActivity(t, gormDB)
	status := func() conductor.Status {
		return conductor.Status{State: conductor.StateRegistered, PendingFollowUps: 2}
	}
	router := newRouter(gormDB, status)

	code, body := get(t, router, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}

	cond, ok := body["conductor"].(map[string]any)
	if !ok {
		t.Fatalf("missing conductor block: %v", body)
	}
	if cond["state"] != "registered" {
		t.Errorf("state = %v, want registered", cond["state"])
	}
	if cond["pendingFollowUps"] != float64(2) {
		t.Errorf("pendingFollowUps = %v, want 2", cond["pendingFollowUps"])
	}

	act, ok := body["activity"].(map[string]any)
	if !ok {
		t.Fatalf("missing activity block: %v", body)
	}
	if act["turnsCompleted"] != float64(1) || act["turnsFailed"] != float64(1) {
		t.Errorf("activity = %v", act)
	}
	if act["followUpsApproved"] != float64(1) {
		t.Errorf("activity = %v", act)
	}
}

func TestStatus_WithoutConductor(t *testing.T) {
	router := newRouter(testDB(t), nil)
	code, body := get(t, router, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if _, present := body["conductor"]; present {
		t.Error("conductor block should be omitted when no status func is set")
	}
}

func TestTurns_ReturnsNewestFirst(t *testing.T) {
	gormDB := testDB(t)
	seedActivity(t, gormDB)
	router := newRouter(gormDB, nil)

	code, body := get(t, router, "/api/turns")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	turns, ok := body["turns"].([]any)
	if !ok || len(turns) != 2 {
		t.Fatalf("turns = %v, want 2 entries", body["turns"])
	}
	first := turns[0].(map[string]any)
	if first["TurnID"] != "t2" {
		t.Errorf("first turn = %v, want newest (t2)", first["TurnID"])
	}
}

func TestTurns_LimitParam(t *testing.T) {
	gormDB := testDB(t)
	seedActivity(t, gormDB)
	router := newRouter(gormDB, nil)

	code, body := get(t, router, "/api/turns?limit=1")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if turns := body["turns"].([]any); len(turns) != 1 {
		t.Errorf("turns = %d entries, want 1", len(turns))
	}

	// Bad limit falls back to the default.
	code, body = get(t, router, "/api/turns?limit=bogus")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if turns := body["turns"].([]any); len(turns) != 2 {
		t.Errorf("turns = %d entries, want 2", len(turns))
	}
}

func TestFollowUps(t *testing.T) {
	gormDB := testDB(t)
	seedActivity(t, gormDB)
	router := newRouter(gormDB, nil)

	code, body := get(t, router, "/api/follow_ups")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	followUps, ok := body["followUps"].([]any)
	if !ok || len(followUps) != 1 {
		t.Fatalf("followUps = %v, want 1 entry", body["followUps"])
	}
}
