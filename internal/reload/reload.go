// Package reload implements the reload supervisors: background pollers for
// the rules file, the upstream config file, the domain map file, the
// policies directory, and the cert store, each rebuilding and atomically
// swapping its snapshot on change while keeping the previous snapshot on
// any parse/build failure. Each supervisor is a goroutine with a
// time.Ticker and a select on a done channel, polling and comparing
// mtime/signature/fingerprint against the last observed value.
package reload

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// FileSupervisor polls one file's mtime on a fixed tick and invokes reload
// whenever it observes a strictly newer mtime than the last one it acted
// on. On parse/build failure it logs and keeps the old snapshot.
type FileSupervisor struct {
	Name     string
	Path     string
	Interval time.Duration
	Reload   func() error
	Log      *logrus.Logger

	lastMtime time.Time
}

// Run blocks, polling until ctx is canceled.
func (s *FileSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.tick() // load once at startup before waiting for the first tick
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *FileSupervisor) tick() {
	info, err := os.Stat(s.Path)
	if err != nil {
		s.logWarn(err, "stat failed")
		return
	}
	if !info.ModTime().After(s.lastMtime) {
		return
	}

	if err := s.Reload(); err != nil {
		s.logWarn(err, "reload failed, keeping previous snapshot")
		return
	}
	s.lastMtime = info.ModTime()
}

func (s *FileSupervisor) logWarn(err error, msg string) {
	if s.Log == nil {
		return
	}
	s.Log.WithError(err).WithField("supervisor", s.Name).WithField("path", s.Path).Warn(msg)
}

// DirSignatureSupervisor polls a directory signature -- an FNV-1a hash over,
// for each .yaml/.yml entry, (file_name, size, mtime_nanos) -- and reloads
// and swaps on change. Used for the policies directory, whose membership
// (not just a single file's mtime) can change between ticks.
type DirSignatureSupervisor struct {
	Name      string
	Interval  time.Duration
	Signature func() (uint64, error)
	Reload    func() error
	Log       *logrus.Logger

	lastSignature uint64
	loaded        bool
}

func (s *DirSignatureSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *DirSignatureSupervisor) tick() {
	sig, err := s.Signature()
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("supervisor", s.Name).Warn("signature computation failed")
		}
		return
	}
	if s.loaded && sig == s.lastSignature {
		return
	}

	if err := s.Reload(); err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("supervisor", s.Name).Warn("reload failed, keeping previous snapshot")
		}
		return
	}
	s.lastSignature = sig
	s.loaded = true
}

// CertSupervisor polls the cert store's tree fingerprint on a worker
// goroutine -- offloaded so blocking filesystem I/O never occupies the
// select loop -- and rebuilds the snapshot on a change.
type CertSupervisor struct {
	Name        string
	Interval    time.Duration
	Fingerprint func() (uint64, error)
	Reload      func() error
	Log         *logrus.Logger

	lastFingerprint uint64
	loaded          bool
}

// Run launches the poll loop; each tick's fingerprint computation is
// offloaded to its own goroutine so a slow filesystem never blocks the
// select below from observing ctx.Done().
func (s *CertSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	results := make(chan struct {
		fp  uint64
		err error
	}, 1)

	go s.computeAsync(results)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-results:
			s.handle(r.fp, r.err)
		case <-ticker.C:
			go s.computeAsync(results)
		}
	}
}

func (s *CertSupervisor) computeAsync(results chan<- struct {
	fp  uint64
	err error
}) {
	fp, err := s.Fingerprint()
	results <- struct {
		fp  uint64
		err error
	}{fp, err}
}

func (s *CertSupervisor) handle(fp uint64, err error) {
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("supervisor", s.Name).Warn("fingerprint computation failed")
		}
		return
	}
	if s.loaded && fp == s.lastFingerprint {
		return
	}
	if err := s.Reload(); err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithField("supervisor", s.Name).Warn("cert store rebuild failed, keeping previous snapshot")
		}
		return
	}
	s.lastFingerprint = fp
	s.loaded = true
}
