package duocache

import (
	"path/filepath"
	"testing"
)

func TestRegistryOpenReturnsSameInstanceForSamePath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	tier1, err := registryOpen(dir)
	if err != nil {
		t.Fatalf("first registryOpen: %v", err)
	}
	defer registryRelease(dir)

	tier2, err := registryOpen(dir)
	if err != nil {
		t.Fatalf("second registryOpen: %v", err)
	}
	defer registryRelease(dir)

	if tier1 != tier2 {
		t.Fatal("expected the same disk tier instance for the same path")
	}
}

func TestRegistryReleaseClosesOnLastReference(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")

	if _, err := registryOpen(dir); err != nil {
		t.Fatalf("registryOpen: %v", err)
	}
	if _, err := registryOpen(dir); err != nil {
		t.Fatalf("registryOpen: %v", err)
	}

	registryRelease(dir)
	registryMu.Lock()
	_, stillPresent := registry[mustAbs(t, dir)]
	registryMu.Unlock()
	if !stillPresent {
		t.Fatal("expected the entry to survive the first release (refs == 1)")
	}

	registryRelease(dir)
	registryMu.Lock()
	_, stillPresent = registry[mustAbs(t, dir)]
	registryMu.Unlock()
	if stillPresent {
		t.Fatal("expected the entry to be evicted after the last release")
	}
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
	return abs
}
