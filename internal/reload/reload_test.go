package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestFileSupervisorReloadsOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var reloads int64
	s := &FileSupervisor{
		Name:     "rules",
		Path:     path,
		Interval: 10 * time.Millisecond,
		Reload:   func() error { atomic.AddInt64(&reloads, 1); return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&reloads) == 1 })

	time.Sleep(20 * time.Millisecond) // newer mtime than the initial write
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&reloads) == 2 })
}

func TestFileSupervisorKeepsOldSnapshotOnReloadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	var attempts int64
	s := &FileSupervisor{
		Path:     path,
		Interval: 10 * time.Millisecond,
		Reload:   func() error { atomic.AddInt64(&attempts, 1); return os.ErrInvalid },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&attempts) >= 1 })
	// lastMtime must not have advanced past a failed reload, so the very
	// next tick retries against the same unchanged file without erroring
	// out the supervisor loop itself.
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt64(&attempts) < 2 {
		t.Fatal("expected the failed reload to be retried on a later tick")
	}
}

func TestFileSupervisorStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	os.WriteFile(path, []byte("v1"), 0o644)

	done := make(chan struct{})
	s := &FileSupervisor{Path: path, Interval: 5 * time.Millisecond, Reload: func() error { return nil }}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after context cancel")
	}
}

func TestDirSignatureSupervisorReloadsOnSignatureChange(t *testing.T) {
	sig := int64(1)
	var reloads int64
	s := &DirSignatureSupervisor{
		Interval:  10 * time.Millisecond,
		Signature: func() (uint64, error) { return uint64(atomic.LoadInt64(&sig)), nil },
		Reload:    func() error { atomic.AddInt64(&reloads, 1); return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&reloads) == 1 })
	atomic.StoreInt64(&sig, 2)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&reloads) == 2 })
}

func TestCertSupervisorReloadsOnFingerprintChange(t *testing.T) {
	fp := int64(1)
	var reloads int64
	s := &CertSupervisor{
		Interval:    10 * time.Millisecond,
		Fingerprint: func() (uint64, error) { return uint64(atomic.LoadInt64(&fp)), nil },
		Reload:      func() error { atomic.AddInt64(&reloads, 1); return nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&reloads) == 1 })
	atomic.StoreInt64(&fp, 2)
	waitFor(t, time.Second, func() bool { return atomic.LoadInt64(&reloads) == 2 })
}
