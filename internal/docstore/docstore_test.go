package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDocstore_PutGetDelete(t *testing.T) {
	d := New()
	d.Put(1, "Q1")
	d.Put(2, "Q2")
	d.Put(1, "Q1 again")

	if q, ok := d.Get(1); !ok || q != "Q1 again" {
		t.Errorf("Get(1) = %q, %v", q, ok)
	}
	if d.Len() != 2 {
		t.Errorf("Len=%d", d.Len())
	}
	if n := d.Delete(1, 3); n != 1 {
		t.Errorf("Delete returned %d", n)
	}
	if _, ok := d.Get(1); ok {
		t.Error("1 should be gone")
	}
}

func TestDocstore_Clone(t *testing.T) {
	d := New()
	d.Put(1, "Q1")
	c := d.Clone()
	c.Put(2, "Q2")
	c.Delete(1)
	if d.Len() != 1 {
		t.Errorf("original mutated via clone: %v", d.IDs())
	}
}

func TestDocstore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docstore.json")
	d := New()
	d.Put(4043951717419634526, "Q1")
	d.Put(5, "Q2")
	if err := d.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if q, _ := loaded.Get(4043951717419634526); q != "Q1" {
		t.Errorf("got %q", q)
	}
	ids := loaded.IDs()
	if len(ids) != 2 || ids[0] != 5 {
		t.Errorf("IDs = %v", ids)
	}
}

func TestLoad_errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing: got %v", err)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"array", "[]"},
		{"non-numeric key", `{"abc": "Q"}`},
		{"negative key", `{"-1": "Q"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}
