package allocator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/postalsys/relaychat/internal/logging"
)

func TestFile_NextIsMonotonic(t *testing.T) {
	a := NewFile(filepath.Join(t.TempDir(), DefaultCounterFile), logging.NopLogger())

	first := a.Next()
	second := a.Next()
	third := a.Next()

	if first != "127.0.0.2" {
		t.Errorf("first = %q, want 127.0.0.2", first)
	}
	if second != "127.0.0.3" || third != "127.0.0.4" {
		t.Errorf("got %q, %q", second, third)
	}
}

func TestFile_ResetStartsOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultCounterFile)
	a := NewFile(path, nil)

	a.Next()
	a.Next()

	if err := a.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := a.Next(); got != "127.0.0.2" {
		t.Errorf("Next() after Reset = %q, want 127.0.0.2", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "3" {
		t.Errorf("counter file = %q, want 3", data)
	}
}

func TestFile_InvalidContentFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultCounterFile)
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := NewFile(path, nil).Next(); got != "127.0.0.2" {
		t.Errorf("Next() = %q, want base address", got)
	}
}

func TestFile_ExistingCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultCounterFile)
	if err := os.WriteFile(path, []byte("17\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := NewFile(path, nil).Next(); got != "127.0.0.17" {
		t.Errorf("Next() = %q, want 127.0.0.17", got)
	}
}

func TestFile_UnwritableStillAllocates(t *testing.T) {
	// A path inside a missing directory can be neither read nor written.
	a := NewFile(filepath.Join(t.TempDir(), "missing", "counter.txt"), nil)

	if got := a.Next(); got != "127.0.0.2" {
		t.Errorf("Next() = %q, want fallback 127.0.0.2", got)
	}
	if err := a.Reset(); err == nil {
		t.Error("Reset() into missing directory should fail")
	}
}

func TestFile_CustomBaseAndPrefix(t *testing.T) {
	a := &File{Path: filepath.Join(t.TempDir(), "c"), Base: 10, Prefix: "10.0.0."}

	if got := a.Next(); got != "10.0.0.10" {
		t.Errorf("Next() = %q", got)
	}
	if err := a.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := a.Next(); got != "10.0.0.10" {
		t.Errorf("Next() after Reset = %q", got)
	}
}

func TestStatic(t *testing.T) {
	var a Allocator = Static("127.0.0.1")
	if a.Next() != "127.0.0.1" || a.Next() != "127.0.0.1" {
		t.Error("Static allocator changed its address")
	}
}
