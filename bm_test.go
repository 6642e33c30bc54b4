package bm

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/botminter/bm/internal/trigger"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestRuntimeFilesFacadeClaimStatusRelease(t *testing.T) {
	requireUnix(t)
	store := RuntimeFiles(t.TempDir(), "acme")

	snap := ConfigSnapshot{Team: "acme", Mode: "poll", IntervalSeconds: 60, PID: os.Getpid(), StartTime: time.Now().UTC()}
	if _, err := store.Claim(snap); err != nil {
		t.Fatalf("claim: %v", err)
	}

	st, err := store.StatusCheck()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Running || st.PID != os.Getpid() {
		t.Fatalf("unexpected status: %+v", st)
	}

	for _, e := range store.Release() {
		t.Fatalf("release: %v", e)
	}
	st, err = store.StatusCheck()
	if err != nil {
		t.Fatalf("status after release: %v", err)
	}
	if st.Running || st.Stale {
		t.Fatalf("expected not-running after release, got %+v", st)
	}
}

func TestDaemonLogFacade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-acme.log")
	w, err := OpenDaemonLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	w.Info("cycle complete")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "[INFO] cycle complete") {
		t.Fatalf("unexpected log content: %q", b)
	}
}

func TestWebhookListenerFacadeBindFailureMessage(t *testing.T) {
	requireUnix(t)
	// Occupy a port, then ask the listener to bind the same one.
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()
	port := taken.Addr().(*net.TCPAddr).Port

	log, err := OpenDaemonLog(filepath.Join(t.TempDir(), "daemon.log"))
	if err != nil {
		t.Fatal(err)
	}
	triggers := make(chan trigger.Trigger, 1)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	l := NewWebhookListener(addr, "", log, triggers)

	err = l.ListenAndServe()
	if err == nil {
		t.Fatal("expected bind failure")
	}
	if want := "Failed to bind to " + addr; err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
