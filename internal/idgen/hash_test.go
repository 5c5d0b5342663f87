package idgen

import (
	"testing"
	"time"
)

func TestGenerateObjectIDVectors(t *testing.T) {
	timestamp := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	prefix := "dst"
	name := "/data/db1/fts"
	detail := "txn-7"
	actor := ""

	tests := map[int]string{
		3: "dst-6tz",
		4: "dst-gl8t",
		5: "dst-5z2ov",
		6: "dst-o5z2ov",
		7: "dst-vuhf4wa",
		8: "dst-bvuhf4wa",
	}

	for length, expected := range tests {
		got := GenerateObjectID(prefix, name, detail, actor, timestamp, length, 0)
		if got != expected {
			t.Fatalf("length %d: got %s, want %s", length, got, expected)
		}
	}
}

func TestGenerateObjectIDNonceChangesResult(t *testing.T) {
	timestamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	first := GenerateObjectID("dst", "/data/area1", "txn-1", "", timestamp, 8, 0)
	second := GenerateObjectID("dst", "/data/area1", "txn-1", "", timestamp, 8, 1)
	if first == second {
		t.Error("expected different nonces to produce different IDs")
	}
}

func TestNewDestroyRecordIDHasPrefix(t *testing.T) {
	id := NewDestroyRecordID("txn-42", "/data/db1/area1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	if len(id) < 4 || id[:4] != "dst-" {
		t.Errorf("expected destroy record ID to have dst- prefix, got %q", id)
	}
}

func TestNewDriverHandleIDHasPrefix(t *testing.T) {
	id := NewDriverHandleID("libicu-regex.so", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	if len(id) < 4 || id[:4] != "drv-" {
		t.Errorf("expected driver handle ID to have drv- prefix, got %q", id)
	}
}
