package tracedb

import (
	"path/filepath"
	"testing"

	"github.com/focusfield/focusfield/internal/msg"
)

func openTest(t *testing.T) *TraceDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaApplies(t *testing.T) {
	db := openTest(t)
	for _, table := range []string{"log_events", "lock_transitions", "health_snapshots"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestInsertAndQueryLogEvent(t *testing.T) {
	db := openTest(t)
	err := db.InsertLogEvent(msg.LogEvent{
		TNs: 42, Seq: 1, Level: "warn", Module: "core.bus", Event: "drop",
		Fields: map[string]any{"topic": "audio.doa_heatmap", "count": 6},
	})
	if err != nil {
		t.Fatal(err)
	}

	var module, event, fields string
	err = db.QueryRow("SELECT module, event, fields_json FROM log_events WHERE t_ns = 42").
		Scan(&module, &event, &fields)
	if err != nil {
		t.Fatal(err)
	}
	if module != "core.bus" || event != "drop" {
		t.Errorf("got %s/%s", module, event)
	}
	if fields == "" {
		t.Error("fields_json empty")
	}
}

func TestInsertLockVariants(t *testing.T) {
	db := openTest(t)
	id := "talker-1"
	bearing := 92.5
	locked := msg.TargetLock{
		TNs: 100, Seq: 1, State: msg.StateLocked, Mode: msg.ModeAVLock,
		TargetID: &id, TargetBearingDeg: &bearing, Confidence: 0.9, Reason: "acquired: high AV agreement",
	}
	noLock := msg.TargetLock{
		TNs: 200, Seq: 2, State: msg.StateNoLock, Mode: msg.ModeNoLock, Reason: "dropped: silence timeout",
	}
	if err := db.InsertLock(locked); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertLock(noLock); err != nil {
		t.Fatal(err)
	}

	var gotID *string
	var gotBearing *float64
	err := db.QueryRow("SELECT target_id, bearing_deg FROM lock_transitions WHERE t_ns = 100").
		Scan(&gotID, &gotBearing)
	if err != nil {
		t.Fatal(err)
	}
	if gotID == nil || *gotID != id {
		t.Errorf("target_id = %v", gotID)
	}
	if gotBearing == nil || *gotBearing != bearing {
		t.Errorf("bearing = %v", gotBearing)
	}

	err = db.QueryRow("SELECT target_id FROM lock_transitions WHERE t_ns = 200").Scan(&gotID)
	if err != nil {
		t.Fatal(err)
	}
	if gotID != nil {
		t.Errorf("no-lock row target_id = %v, want NULL", *gotID)
	}
}

func TestInsertHealth(t *testing.T) {
	db := openTest(t)
	err := db.InsertHealth(msg.HealthSnapshot{
		TNs: 5, Seq: 1,
		Topics: map[string]msg.TopicHealthStatus{"audio.frames": {AgeMs: 12, Status: "green"}},
		Drops:  map[string]uint64{"audio.doa_heatmap": 6},
	})
	if err != nil {
		t.Fatal(err)
	}
	var blob string
	if err := db.QueryRow("SELECT snapshot_json FROM health_snapshots WHERE t_ns = 5").Scan(&blob); err != nil {
		t.Fatal(err)
	}
	if blob == "" {
		t.Error("snapshot_json empty")
	}
}
