package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHandleMessageAppendsLine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	ev := VisitEvent{
		Event:       EventCheckedIn,
		VisitID:     12,
		Code:        "004211337",
		Status:      "in_progress",
		VisitorID:   3,
		CenterID:    1,
		ActorID:     9,
		ScheduledAt: "2026-05-01T08:00:00Z",
		OccurredAt:  "2026-05-01T08:03:10Z",
	}
	body, _ := json.Marshal(ev)

	for i := 0; i < 2; i++ {
		if err := handleMessage(dir, body); err != nil {
			t.Fatalf("handleMessage: %v", err)
		}
	}

	raw, err := os.ReadFile(filepath.Join(dir, "visits.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	want := "[2026-05-01T08:03:10Z] visit.checked_in | visit_id=12 | codigo=004211337 | estado=in_progress"
	if !strings.HasPrefix(lines[0], want) {
		t.Fatalf("line = %q", lines[0])
	}
}

func TestHandleMessageRejectsBadPayload(t *testing.T) {
	dir := t.TempDir()
	for _, body := range []string{"not json", `{"event":""}`, `{"event":"visit.cancelled"}`} {
		if err := handleMessage(dir, []byte(body)); err == nil {
			t.Fatalf("payload %q accepted", body)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "visits.log")); !os.IsNotExist(err) {
		t.Fatalf("log file written for rejected payloads: %v", err)
	}
}
