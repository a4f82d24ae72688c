package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func collect(t *testing.T, s *Store) map[string]string {
	t.Helper()
	got := make(map[string]string)
	for e, err := range s.List(context.Background()) {
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		got[e.Key] = string(e.Payload)
	}
	return got
}

func TestStore_StoreAndList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store-and-forward")
	s := New(dir)
	ctx := context.Background()

	if err := s.Store(ctx, Entry{Key: "solar_roof1_1700000000000", Payload: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Store(ctx, Entry{Key: "solar_shed_1700000000001", Payload: []byte(`{"b":2}`)}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got := collect(t, s)
	if len(got) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(got))
	}
	if got["solar_roof1_1700000000000"] != `{"a":1}` {
		t.Errorf("payload = %q", got["solar_roof1_1700000000000"])
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o007 != 0 {
		t.Errorf("directory mode = %v, want no world access", perm)
	}
}

func TestStore_SameKeyTwiceKeepsOneEntry(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	key := "solar_roof1_1700000000000"

	for _, p := range []string{"first", "second"} {
		if err := s.Store(ctx, Entry{Key: key, Payload: []byte(p)}); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	got := collect(t, s)
	if len(got) != 1 || got[key] != "second" {
		t.Errorf("List() = %v, want single entry with latest payload", got)
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	key := "solar_roof1_1700000000000"

	if err := s.Store(ctx, Entry{Key: key, Payload: []byte("x")}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, key); err != nil {
			t.Fatalf("Remove() call %d error = %v", i+1, err)
		}
	}

	if n, err := s.Len(ctx); err != nil || n != 0 {
		t.Errorf("Len() = %d, %v, want 0, nil", n, err)
	}
}

func TestStore_RemoveNeverStored(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	if err := s.Remove(context.Background(), "solar_roof1_1"); err != nil {
		t.Errorf("Remove() on missing directory error = %v", err)
	}
}

func TestStore_ListMissingDirectory(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	if got := collect(t, s); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
	if n, err := s.Len(context.Background()); err != nil || n != 0 {
		t.Errorf("Len() = %d, %v, want 0, nil", n, err)
	}
}

func TestStore_ListSkipsTempFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := os.WriteFile(filepath.Join(dir, ".tmp-solar_roof1_1-999"), []byte("partial"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := s.Store(context.Background(), Entry{Key: "solar_roof1_2", Payload: []byte("ok")}); err != nil {
		t.Fatal(err)
	}

	got := collect(t, s)
	if len(got) != 1 || got["solar_roof1_2"] != "ok" {
		t.Errorf("List() = %v, want only solar_roof1_2", got)
	}
}

func TestStore_ListIsSnapshot(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, k := range []string{"solar_a_1", "solar_b_2", "solar_c_3"} {
		if err := s.Store(ctx, Entry{Key: k, Payload: []byte(k)}); err != nil {
			t.Fatal(err)
		}
	}

	var seen []string
	for e, err := range s.List(ctx) {
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		seen = append(seen, e.Key)
		if len(seen) == 1 {
			// Entries added during iteration are not visited; removed ones vanish.
			if err := s.Store(ctx, Entry{Key: "solar_z_9", Payload: []byte("late")}); err != nil {
				t.Fatal(err)
			}
			if err := s.Remove(ctx, "solar_c_3"); err != nil {
				t.Fatal(err)
			}
		}
	}

	sort.Strings(seen)
	want := []string{"solar_a_1", "solar_b_2"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("visited %v, want %v", seen, want)
	}
}

func TestStore_ListStopsWhenConsumerBreaks(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	for _, k := range []string{"solar_a_1", "solar_b_2"} {
		if err := s.Store(ctx, Entry{Key: k, Payload: []byte(k)}); err != nil {
			t.Fatal(err)
		}
	}

	n := 0
	for range s.List(ctx) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("iterations = %d, want 1", n)
	}
}

func TestStore_ListCancelled(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Store(context.Background(), Entry{Key: "solar_a_1", Payload: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range s.List(ctx) {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("List() error = %v, want context.Canceled", err)
		}
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"", ".", "..", "../escape", "a/b", `a\b`, ".hidden"} {
		if err := s.Store(ctx, Entry{Key: key, Payload: []byte("x")}); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Store(%q) error = %v, want ErrInvalidKey", key, err)
		}
		if err := s.Remove(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Remove(%q) error = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestStore_StorageFault(t *testing.T) {
	// A regular file where the directory should be makes every write fail.
	parent := t.TempDir()
	blocker := filepath.Join(parent, "store-and-forward")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(blocker)
	err := s.Store(context.Background(), Entry{Key: "solar_roof1_1", Payload: []byte("x")})
	if !errors.Is(err, ErrStorageFault) {
		t.Errorf("Store() error = %v, want ErrStorageFault", err)
	}
}

func TestNew_DefaultDir(t *testing.T) {
	if got := New("").dir; got != DefaultDir {
		t.Errorf("dir = %q, want %q", got, DefaultDir)
	}
}
