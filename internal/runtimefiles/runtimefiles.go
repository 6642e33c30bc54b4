// Package runtimefiles owns the daemon's on-disk runtime artifacts:
// the PID file, the config snapshot, and the poll cursor. It implements
// the claim/release/status protocol that guarantees at most one live
// daemon per team.
package runtimefiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/botminter/bm/internal/bmerrors"
)

// Store resolves and manipulates the runtime-file paths for one team
// under a state root directory (by default a per-user state directory).
type Store struct {
	root string
	team string
}

// New returns a Store rooted at stateRoot for the given team.
func New(stateRoot, team string) *Store {
	return &Store{root: stateRoot, team: team}
}

func (s *Store) pidPath() string { return filepath.Join(s.root, fmt.Sprintf("daemon-%s.pid", s.team)) }
func (s *Store) configPath() string {
	return filepath.Join(s.root, fmt.Sprintf("daemon-%s.json", s.team))
}
func (s *Store) pollPath() string {
	return filepath.Join(s.root, fmt.Sprintf("daemon-%s-poll.json", s.team))
}
func (s *Store) logDir() string { return filepath.Join(s.root, "logs") }
func (s *Store) DaemonLogPath() string {
	return filepath.Join(s.logDir(), fmt.Sprintf("daemon-%s.log", s.team))
}
func (s *Store) MemberLogPath(member string) string {
	return filepath.Join(s.logDir(), fmt.Sprintf("member-%s-%s.log", s.team, member))
}

// ConfigSnapshot is the immutable record written at start and removed
// at stop. The webhook secret itself is never written here, only its
// presence.
type ConfigSnapshot struct {
	Team                 string    `json:"team"`
	Mode                 string    `json:"mode"`
	Port                 int       `json:"port,omitempty"`
	IntervalSeconds      int       `json:"interval_seconds,omitempty"`
	PID                  int       `json:"pid"`
	StartTime            time.Time `json:"start_time"`
	WebhookSecretPresent bool      `json:"webhook_secret_present"`
}

// Status describes the outcome of a status check. Exactly one of the
// three shapes applies: Running, NotRunning, or stale (PID was dead).
type Status struct {
	Running  bool
	Stale    bool // true if a PID file existed but pointed at a dead process
	PID      int
	Snapshot *ConfigSnapshot // non-nil only when Running
}

// isAlive sends signal 0 to pid to check liveness without affecting it.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	// EPERM means the process exists but we can't signal it: still alive.
	return err == syscall.EPERM
}

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Claim refuses to proceed while a live daemon holds the PID file,
// silently reclaims a stale one, and on success writes the config
// snapshot and PID file, reporting whether a stale PID was reclaimed
// along the way.
func (s *Store) Claim(snapshot ConfigSnapshot) (reclaimedStale bool, err error) {
	if pid, rerr := readPID(s.pidPath()); rerr == nil {
		if isAlive(pid) {
			return false, &bmerrors.DaemonAlreadyRunning{PID: pid}
		}
		// Stale: remove silently and proceed.
		_ = os.Remove(s.pidPath())
		_ = os.Remove(s.configPath())
		reclaimedStale = true
	} else if !os.IsNotExist(rerr) {
		return false, fmt.Errorf("reading pid file: %w", rerr)
	}

	cfgBytes, err := json.Marshal(snapshot)
	if err != nil {
		return reclaimedStale, fmt.Errorf("marshal config snapshot: %w", err)
	}
	if err := atomicWrite(s.configPath(), cfgBytes, 0o600); err != nil {
		return reclaimedStale, fmt.Errorf("write config snapshot: %w", err)
	}
	if err := atomicWrite(s.pidPath(), []byte(strconv.Itoa(snapshot.PID)), 0o600); err != nil {
		return reclaimedStale, fmt.Errorf("write pid file: %w", err)
	}
	return reclaimedStale, nil
}

// CommitPID overwrites the PID file, and the snapshot's pid field, with
// the daemon-run child's real pid once it is known and confirmed alive
// (the snapshot written at Claim time carries the shim's own pid as a
// placeholder).
func (s *Store) CommitPID(pid int) error {
	if snap, err := s.readSnapshot(); err == nil {
		snap.PID = pid
		if b, merr := json.Marshal(snap); merr == nil {
			if werr := atomicWrite(s.configPath(), b, 0o600); werr != nil {
				return fmt.Errorf("rewriting config snapshot: %w", werr)
			}
		}
	}
	return atomicWrite(s.pidPath(), []byte(strconv.Itoa(pid)), 0o600)
}

// Release removes the PID, config, and poll-cursor files. Failures are
// returned individually so the caller can log-and-continue; Release
// itself never fails shutdown.
func (s *Store) Release() []error {
	var errs []error
	for _, p := range []string{s.pidPath(), s.configPath(), s.pollPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
		}
	}
	return errs
}

// StatusCheck reports whether the daemon is running. A stale PID file
// is removed as a side effect; StatusCheck never creates files.
func (s *Store) StatusCheck() (Status, error) {
	pid, err := readPID(s.pidPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Status{Running: false}, nil
		}
		return Status{}, fmt.Errorf("reading pid file: %w", err)
	}

	if !isAlive(pid) {
		_ = os.Remove(s.pidPath())
		_ = os.Remove(s.configPath())
		return Status{Running: false, Stale: true, PID: pid}, nil
	}

	snap, err := s.readSnapshot()
	if err != nil {
		// PID alive but no readable snapshot: report running with no detail.
		return Status{Running: true, PID: pid}, nil
	}
	return Status{Running: true, PID: pid, Snapshot: snap}, nil
}

func (s *Store) readSnapshot() (*ConfigSnapshot, error) {
	b, err := os.ReadFile(s.configPath())
	if err != nil {
		return nil, err
	}
	var snap ConfigSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// EnsureLogDir creates the logs/ directory if absent.
func (s *Store) EnsureLogDir() error {
	return os.MkdirAll(s.logDir(), 0o700)
}

// PollCursorPath exposes the poll-cursor path for the poller package.
func (s *Store) PollCursorPath() string { return s.pollPath() }
