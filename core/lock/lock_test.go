package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json.lock")
	release, err := Acquire(path, Options{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file while held: %v", err)
	}
	release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file removed after release, got %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json.lock")
	release, err := Acquire(path, Options{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	started := time.Now()
	_, err = Acquire(path, Options{Timeout: 50 * time.Millisecond, Retry: 5 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Fatalf("timeout took too long: %s", time.Since(started))
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json.lock")
	if err := os.WriteFile(path, []byte("1\n"), 0o600); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}
	release, err := Acquire(path, Options{Timeout: 100 * time.Millisecond, StaleAfter: time.Minute})
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
	release()
}

func TestWithSerializesCriticalSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.lock")
	var active atomic.Int32
	var overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := With(path, Options{Timeout: 5 * time.Second, Retry: time.Millisecond}, func() error {
				if active.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("with lock: %v", err)
			}
		}()
	}
	wg.Wait()
	if overlaps.Load() != 0 {
		t.Fatalf("expected no overlapping critical sections, got %d", overlaps.Load())
	}
}
