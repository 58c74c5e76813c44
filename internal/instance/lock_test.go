package instance

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tab_titler.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	if first.Path() != path {
		t.Fatalf("Path() = %q; want %q", first.Path(), path)
	}

	if _, err := Acquire(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Acquire() = %v; want ErrAlreadyRunning", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() after release = %v", err)
	}
	_ = again.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("Release() on nil = %v", err)
	}
}
