package synclock

import (
	"path/filepath"
	"testing"
)

func TestAcquireThenReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	libDir := filepath.Join(dir, "library")

	l := New(libDir)
	unlock, err := l.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !l.Locked() {
		t.Fatal("expected Locked() to be true after Acquire")
	}
	unlock()
	if l.Locked() {
		t.Fatal("expected Locked() to be false after unlock")
	}

	l2 := New(libDir)
	unlock2, err := l2.Acquire()
	if err != nil {
		t.Fatalf("second Acquire after release: %v", err)
	}
	unlock2()
}

func TestAcquireFailsWhenAlreadyLocked(t *testing.T) {
	dir := t.TempDir()
	libDir := filepath.Join(dir, "library")

	l1 := New(libDir)
	unlock, err := l1.Acquire()
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer unlock()

	l2 := New(libDir)
	_, err = l2.Acquire()
	if err != ErrLibraryBusy {
		t.Fatalf("expected ErrLibraryBusy, got %v", err)
	}
}
