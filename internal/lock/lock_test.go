package lock

import (
	"path/filepath"
	"testing"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")

	l, ok, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected to acquire uncontended lock")
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, ok2, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if !ok2 {
		t.Fatal("expected to re-acquire after release")
	}
	_ = l2.Release()
}

func TestAcquireContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.lock")

	l, ok, err := Acquire(path)
	if err != nil || !ok {
		t.Fatalf("first Acquire failed: ok=%v err=%v", ok, err)
	}
	defer l.Release()

	_, ok2, err := Acquire(path)
	if err != nil {
		t.Fatalf("second Acquire returned error instead of contention: %v", err)
	}
	if ok2 {
		t.Fatal("expected contention on second Acquire")
	}
}
