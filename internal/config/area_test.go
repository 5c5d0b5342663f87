package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetAreaPathAppendsNewArea(t *testing.T) {
	path := filepath.Join(t.TempDir(), "areas.toml")

	if err := SetAreaPath(path, "area1", "/data/area1"); err != nil {
		t.Fatalf("SetAreaPath: %v", err)
	}

	areas, err := LoadAreaDefinitions(path)
	if err != nil {
		t.Fatalf("LoadAreaDefinitions: %v", err)
	}
	if len(areas) != 1 || areas[0].Name != "area1" || areas[0].Path != "/data/area1" {
		t.Fatalf("unexpected areas: %+v", areas)
	}
}

func TestSetAreaPathUpdatesExistingInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "areas.toml")
	initial := "[[area]]\nname = \"area1\"\npath = \"/data/old\"\n\n[[area]]\nname = \"area2\"\npath = \"/data/area2\"\n"
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SetAreaPath(path, "area1", "/data/new"); err != nil {
		t.Fatalf("SetAreaPath: %v", err)
	}

	areas, err := LoadAreaDefinitions(path)
	if err != nil {
		t.Fatalf("LoadAreaDefinitions: %v", err)
	}
	if len(areas) != 2 {
		t.Fatalf("expected 2 areas, got %d", len(areas))
	}
	byName := map[string]string{}
	for _, a := range areas {
		byName[a.Name] = a.Path
	}
	if byName["area1"] != "/data/new" {
		t.Errorf("area1 path = %q, want /data/new", byName["area1"])
	}
	if byName["area2"] != "/data/area2" {
		t.Errorf("area2 path = %q, want unchanged /data/area2", byName["area2"])
	}
}
