package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sortline/internal/config"
	"sortline/internal/logging"
)

func newStore(t *testing.T) (*config.Store, string) {
	t.Helper()
	model := writeModel(t, t.TempDir())
	path := writeConfig(t, validTOML(model))
	store, err := config.NewStore(path, logging.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, path
}

// touchForward bumps the file's timestamp well past the store's recorded one
// so reload checks do not depend on filesystem timestamp granularity.
func touchForward(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func marshal(t *testing.T, cfg *config.Config) []byte {
	t.Helper()
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return encoded
}

func TestReloadIfChangedUnchangedFile(t *testing.T) {
	store, _ := newStore(t)
	swapped, err := store.ReloadIfChanged()
	if err != nil {
		t.Fatalf("ReloadIfChanged: %v", err)
	}
	if swapped {
		t.Fatal("expected no swap for an untouched file")
	}
}

func TestReloadIfChangedSwapsValidCandidate(t *testing.T) {
	store, path := newStore(t)

	updated := strings.Replace(readFile(t, path), "speed_mps = 0.1", "speed_mps = 0.25", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	touchForward(t, path)

	swapped, err := store.ReloadIfChanged()
	if err != nil {
		t.Fatalf("ReloadIfChanged: %v", err)
	}
	if !swapped {
		t.Fatal("expected a swap after the file changed")
	}
	if got := store.Current().Belt.SpeedMPS; got != 0.25 {
		t.Fatalf("expected reloaded speed 0.25, got %v", got)
	}
}

func TestReloadIfChangedKeepsPreviousOnInvalidCandidate(t *testing.T) {
	store, path := newStore(t)
	before := marshal(t, store.Current())

	broken := strings.Replace(readFile(t, path), "speed_mps = 0.1", "speed_mps = 0.0", 1)
	if err := os.WriteFile(path, []byte(broken), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	touchForward(t, path)

	swapped, err := store.ReloadIfChanged()
	if err == nil {
		t.Fatal("expected an error for the invalid candidate")
	}
	if swapped {
		t.Fatal("invalid candidate must not be installed")
	}
	if after := marshal(t, store.Current()); string(after) != string(before) {
		t.Fatal("active configuration changed after a rejected reload")
	}

	// The rejected timestamp is remembered, so the broken file is not
	// re-parsed on the next check.
	swapped, err = store.ReloadIfChanged()
	if err != nil || swapped {
		t.Fatalf("expected quiet no-op after rejection, got swapped=%v err=%v", swapped, err)
	}
}

func TestStoreGet(t *testing.T) {
	store, _ := newStore(t)

	if got := store.Get("belt", "speed_mps", nil); got != 0.1 {
		t.Fatalf("Get belt.speed_mps = %v, want 0.1", got)
	}
	if got := store.Get("belt", "no_such_key", 42); got != 42 {
		t.Fatalf("Get missing key = %v, want default 42", got)
	}
	if got := store.Get("no_such_section", "key", "fallback"); got != "fallback" {
		t.Fatalf("Get missing section = %v, want default", got)
	}
}

func TestStoreSetValidatesWholeDocument(t *testing.T) {
	store, _ := newStore(t)
	before := marshal(t, store.Current())

	if store.Set("belt", "speed_mps", -1.0, false) {
		t.Fatal("expected Set to reject a negative belt speed")
	}
	if after := marshal(t, store.Current()); string(after) != string(before) {
		t.Fatal("rejected Set mutated the active configuration")
	}

	if !store.Set("belt", "speed_mps", 0.25, false) {
		t.Fatal("expected Set to accept a valid belt speed")
	}
	if got := store.Current().Belt.SpeedMPS; got != 0.25 {
		t.Fatalf("Belt.SpeedMPS = %v after Set, want 0.25", got)
	}
	if got := store.Get("belt", "speed_mps", nil); got != 0.25 {
		t.Fatalf("Get after Set = %v, want 0.25", got)
	}
}

func TestStoreSetPersist(t *testing.T) {
	store, path := newStore(t)

	if !store.Set("belt", "speed_mps", 0.3, true) {
		t.Fatal("expected persisted Set to succeed")
	}

	// The backing file now carries the new value and no backup is left.
	reloaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("reload persisted config: %v", err)
	}
	if reloaded.Belt.SpeedMPS != 0.3 {
		t.Fatalf("persisted speed = %v, want 0.3", reloaded.Belt.SpeedMPS)
	}
	if _, err := os.Stat(path + ".backup"); !os.IsNotExist(err) {
		t.Fatalf("expected backup file to be cleaned up, stat err = %v", err)
	}

	// A persisted Set must not trip the next reload check into re-reading.
	swapped, err := store.ReloadIfChanged()
	if err != nil {
		t.Fatalf("ReloadIfChanged after persist: %v", err)
	}
	if swapped {
		t.Fatal("persisted Set should leave the store in sync with the file")
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
