package supervisor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/botminter/bm/internal/dlog"
)

func newTestLog(t *testing.T) *dlog.Writer {
	t.Helper()
	w, err := dlog.Open(filepath.Join(t.TempDir(), "daemon.log"))
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestRunCollectsNaturalExit(t *testing.T) {
	dir := t.TempDir()
	log := newTestLog(t)
	spec := LaunchSpec{
		Member:    "architect-alice",
		Workspace: dir,
		Command:   "/bin/sh",
		Args:      []string{"-c", "exit 0"},
		LogPath:   filepath.Join(dir, "member.log"),
	}

	done := make(chan struct{})
	results := Run([]LaunchSpec{spec}, log, done)

	if len(results) != 1 || results[0].ExitCode != 0 || results[0].SpawnErr != nil {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestRunLogsLaunchLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "daemon.log")
	log, err := dlog.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	spec := LaunchSpec{
		Member:    "architect-alice",
		Workspace: dir,
		Command:   "/bin/sh",
		Args:      []string{"-c", "exit 0"},
		LogPath:   filepath.Join(dir, "member.log"),
	}
	Run([]LaunchSpec{spec}, log, make(chan struct{}))

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(b)
	if !strings.Contains(content, "architect-alice: launched (PID") {
		t.Fatalf("expected launch line, got %q", content)
	}
	if !strings.Contains(content, "architect-alice: log file at") {
		t.Fatalf("expected log-file line, got %q", content)
	}
}

func TestRunRecordsSpawnFailureWithoutCancelingOthers(t *testing.T) {
	dir := t.TempDir()
	log := newTestLog(t)
	specs := []LaunchSpec{
		{
			Member:    "bad-member",
			Workspace: dir,
			Command:   "/no/such/executable",
			LogPath:   filepath.Join(dir, "bad.log"),
		},
		{
			Member:    "good-member",
			Workspace: dir,
			Command:   "/bin/sh",
			Args:      []string{"-c", "exit 0"},
			LogPath:   filepath.Join(dir, "good.log"),
		},
	}

	results := Run(specs, log, make(chan struct{}))
	byMember := map[string]Result{}
	for _, r := range results {
		byMember[r.Member] = r
	}

	if byMember["bad-member"].SpawnErr == nil {
		t.Fatal("expected spawn error for bad-member")
	}
	if byMember["good-member"].SpawnErr != nil || byMember["good-member"].ExitCode != 0 {
		t.Fatalf("expected good-member to succeed, got %+v", byMember["good-member"])
	}
}

func TestRunSpawnsEvenWhenMemberLogCannotOpen(t *testing.T) {
	dir := t.TempDir()
	log := newTestLog(t)
	marker := filepath.Join(dir, "ran")
	spec := LaunchSpec{
		Member:    "quiet-member",
		Workspace: dir,
		Command:   "/bin/sh",
		Args:      []string{"-c", "touch " + marker},
		// Parent directory does not exist, so the open fails.
		LogPath: filepath.Join(dir, "no-such-dir", "member.log"),
	}

	results := Run([]LaunchSpec{spec}, log, make(chan struct{}))
	if results[0].SpawnErr != nil {
		t.Fatalf("expected spawn to proceed despite log failure, got %v", results[0].SpawnErr)
	}
	if results[0].ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", results[0].ExitCode)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected child to have run: %v", err)
	}
}

func TestRunShutdownTerminatesLingeringChild(t *testing.T) {
	dir := t.TempDir()
	log := newTestLog(t)
	spec := LaunchSpec{
		Member:    "slow-member",
		Workspace: dir,
		Command:   "/bin/sh",
		Args:      []string{"-c", "sleep 30"},
		LogPath:   filepath.Join(dir, "member.log"),
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(done)
	}()

	start := time.Now()
	results := Run([]LaunchSpec{spec}, log, done)
	elapsed := time.Since(start)

	if elapsed > 3*time.Second {
		t.Fatalf("expected SIGTERM to end the child promptly, took %s", elapsed)
	}
	if results[0].ExitCode == 0 {
		t.Fatalf("expected non-zero exit for terminated child, got %+v", results[0])
	}
}

func TestRunChildExitingQuicklyDuringShutdownIsNotKilled(t *testing.T) {
	dir := t.TempDir()
	log := newTestLog(t)
	spec := LaunchSpec{
		Member:    "fast-member",
		Workspace: dir,
		Command:   "/bin/sh",
		Args:      []string{"-c", "sleep 0.1; exit 0"},
		LogPath:   filepath.Join(dir, "member.log"),
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(done)
	}()

	results := Run([]LaunchSpec{spec}, log, done)
	if results[0].ExitCode != 0 {
		t.Fatalf("expected natural exit 0, got %+v", results[0])
	}
}
