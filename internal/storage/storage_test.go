package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/neurobot/internal/kb"
)

func backends(t *testing.T) map[string]SessionRepository {
	t.Helper()
	sqlite, err := NewSQLiteSessionStore(filepath.Join(t.TempDir(), "db", "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]SessionRepository{
		"json":   NewJSONSessionStore(),
		"sqlite": sqlite,
	}
}

func newRecord(id string, at time.Time, msgs ...string) *Record {
	rec := &Record{
		SessionID: id,
		CreatedAt: Time{at},
		Metadata: Metadata{
			LastUpdated: Time{at},
			IPAddress:   "10.0.0.1",
			KBID:        "default",
			KBName:      "Main",
		},
	}
	for i, m := range msgs {
		rec.Messages = append(rec.Messages, Message{ID: id + "-m" + string(rune('0'+i)), Role: "user", Content: m, Timestamp: Time{at}})
	}
	return rec
}

func TestSessionRepository_Lifecycle(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

			if err := repo.Create(ctx, root, newRecord("s1", base, "hello")); err != nil {
				t.Fatal(err)
			}
			if err := repo.Create(ctx, root, newRecord("s1", base)); !errors.Is(err, kb.ErrConflict) {
				t.Errorf("duplicate create: got %v, want ErrConflict", err)
			}

			got, err := repo.Get(ctx, root, "s1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Metadata.TotalMessages != 1 || got.Messages[0].Content != "hello" {
				t.Errorf("get: %+v", got)
			}
			if got.Metadata.IPAddress != "10.0.0.1" || got.Metadata.KBID != "default" || got.Metadata.KBName != "Main" {
				t.Errorf("metadata: %+v", got.Metadata)
			}
			if !got.CreatedAt.Equal(base) {
				t.Errorf("created_at = %v, want %v", got.CreatedAt, base)
			}

			yes := true
			if _, err := repo.UpdateMetadata(ctx, root, "s1", Time{}, func(m *Metadata) { m.PotentialClient = &yes }); err != nil {
				t.Fatal(err)
			}
			got, _ = repo.Get(ctx, root, "s1")
			if got.Metadata.PotentialClient == nil || !*got.Metadata.PotentialClient {
				t.Errorf("potential_client not stored: %+v", got.Metadata)
			}

			rec, err := repo.Append(ctx, root, "s1",
				Message{ID: "a", Role: "user", Content: "second", Timestamp: Now()},
				Message{ID: "b", Role: "assistant", Content: "reply", Timestamp: Now()})
			if err != nil {
				t.Fatal(err)
			}
			if rec.Metadata.TotalMessages != 3 || !rec.Metadata.Unread || rec.Metadata.PotentialClient != nil {
				t.Errorf("after append: %+v", rec.Metadata)
			}
			if rec.Messages[2].Role != "assistant" || rec.Messages[2].Content != "reply" {
				t.Errorf("message order: %+v", rec.Messages)
			}
			if !rec.Metadata.LastUpdated.After(base) {
				t.Error("last_updated not bumped")
			}

			if _, err := repo.UpdateMetadata(ctx, root, "s1", Time{}, func(m *Metadata) { m.Unread = false }); err != nil {
				t.Fatal(err)
			}
			got, _ = repo.Get(ctx, root, "s1")
			if got.Metadata.Unread {
				t.Error("unread should be cleared")
			}

			if _, err := repo.Append(ctx, root, "missing", Message{ID: "x"}); !errors.Is(err, kb.ErrNotFound) {
				t.Errorf("append missing: got %v", err)
			}
			if _, err := repo.Get(ctx, root, "missing"); !errors.Is(err, kb.ErrNotFound) {
				t.Errorf("get missing: got %v", err)
			}

			if err := repo.Delete(ctx, root, "s1"); err != nil {
				t.Fatal(err)
			}
			if err := repo.Delete(ctx, root, "s1"); !errors.Is(err, kb.ErrNotFound) {
				t.Errorf("second delete: got %v", err)
			}
			list, err := repo.List(ctx, root)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 0 {
				t.Errorf("list after delete: %d", len(list))
			}
		})
	}
}

func TestSessionRepository_CallerTimestamps(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			base := time.Date(2031, 5, 1, 8, 0, 0, 0, time.UTC)
			if err := repo.Create(ctx, root, newRecord("s1", base, "hello")); err != nil {
				t.Fatal(err)
			}

			at := Time{base.Add(time.Hour)}
			rec, err := repo.Append(ctx, root, "s1", Message{ID: "m", Role: "user", Content: "later", Timestamp: at})
			if err != nil {
				t.Fatal(err)
			}
			if !rec.Metadata.LastUpdated.Equal(at.Time) {
				t.Errorf("append last_updated = %v, want %v", rec.Metadata.LastUpdated, at)
			}

			at = Time{base.Add(2 * time.Hour)}
			if _, err := repo.UpdateMetadata(ctx, root, "s1", at, func(m *Metadata) { m.Unread = false }); err != nil {
				t.Fatal(err)
			}
			got, err := repo.Get(ctx, root, "s1")
			if err != nil {
				t.Fatal(err)
			}
			if !got.Metadata.LastUpdated.Equal(at.Time) || got.Metadata.Unread {
				t.Errorf("after update: %+v", got.Metadata)
			}
		})
	}
}

func TestSessionRepository_ListOrderAndStats(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()
			base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

			must := func(err error) {
				t.Helper()
				if err != nil {
					t.Fatal(err)
				}
			}
			must(repo.Create(ctx, root, newRecord("old", base, "a")))
			must(repo.Create(ctx, root, newRecord("new", base.Add(time.Hour), "b", "c")))
			must(repo.Create(ctx, root, newRecord("tie-b", base, "d")))

			list, err := repo.List(ctx, root)
			must(err)
			if len(list) != 3 {
				t.Fatalf("list len %d", len(list))
			}
			order := []string{list[0].SessionID, list[1].SessionID, list[2].SessionID}
			want := []string{"new", "old", "tie-b"}
			for i := range want {
				if order[i] != want[i] {
					t.Fatalf("order = %v, want %v", order, want)
				}
			}

			st, err := repo.Stats(ctx, root)
			must(err)
			if st.TotalSessions != 3 || st.TotalMessages != 4 {
				t.Errorf("stats: %+v", st)
			}
			if st.SizeBytes <= 0 {
				t.Errorf("size should be positive: %d", st.SizeBytes)
			}

			other := t.TempDir()
			if list, _ := repo.List(ctx, other); len(list) != 0 {
				t.Errorf("tenant roots must be isolated, got %d sessions", len(list))
			}

			must(repo.Clear(ctx, root))
			st, err = repo.Stats(ctx, root)
			must(err)
			if st.TotalSessions != 0 || st.TotalMessages != 0 {
				t.Errorf("stats after clear: %+v", st)
			}
		})
	}
}

func TestJSONSessionStore_FileFormat(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewJSONSessionStore()
	if err := store.Create(ctx, root, newRecord("s1", time.Now().UTC(), "hi")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, DialoguesFile))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Metadata struct {
			TotalSessions int `json:"total_sessions"`
		} `json:"metadata"`
		Sessions map[string]struct {
			SessionID string `json:"session_id"`
			Metadata  struct {
				TotalMessages   int    `json:"total_messages"`
				PotentialClient *bool  `json:"potential_client"`
				IPAddress       string `json:"ip_address"`
			} `json:"metadata"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	s := doc.Sessions["s1"]
	if doc.Metadata.TotalSessions != 1 || s.SessionID != "s1" || s.Metadata.TotalMessages != 1 || s.Metadata.IPAddress != "10.0.0.1" {
		t.Errorf("file contents: %s", data)
	}
}

func TestJSONSessionStore_LegacyTimestamps(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	legacy := `{
  "metadata": {"created_at": "2024-05-01T09:30:00.123456", "last_updated": "2024-05-01T09:31:00", "total_sessions": 1},
  "sessions": {
    "abc": {
      "session_id": "abc",
      "created_at": "2024-05-01T09:30:00.123456",
      "messages": [{"id": "m1", "role": "user", "content": "Привет", "timestamp": "2024-05-01T09:30:01.5"}],
      "metadata": {"total_messages": 1, "last_updated": "2024-05-01T09:31:00", "unread": true, "potential_client": null}
    }
  }
}`
	if err := os.WriteFile(filepath.Join(root, DialoguesFile), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}
	rec, err := NewJSONSessionStore().Get(ctx, root, "abc")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 5, 1, 9, 30, 0, 123456000, time.UTC)
	if !rec.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", rec.CreatedAt, want)
	}
	if rec.Messages[0].Content != "Привет" || !rec.Metadata.Unread {
		t.Errorf("record: %+v", rec)
	}
}

func TestJSONSessionStore_Corrupt(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, DialoguesFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewJSONSessionStore().List(context.Background(), root)
	if !errors.Is(err, kb.ErrCorruptState) {
		t.Errorf("got %v, want ErrCorruptState", err)
	}
}

func TestSizeOf(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1.txt")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := SizeOf(f1, filepath.Join(dir, "missing"), "", dir)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("got %d bytes, want 5", got)
	}
}
