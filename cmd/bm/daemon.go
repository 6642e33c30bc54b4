package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/botminter/bm/internal/bmerrors"
	"github.com/botminter/bm/internal/dlog"
	"github.com/botminter/bm/internal/metrics"
	"github.com/botminter/bm/internal/orchestrator"
	"github.com/botminter/bm/internal/poller"
	"github.com/botminter/bm/internal/runtimefiles"
	"github.com/botminter/bm/internal/shutdown"
	"github.com/botminter/bm/internal/teamconfig"
	"github.com/botminter/bm/internal/trigger"
	"github.com/botminter/bm/internal/webhook"

	"github.com/prometheus/client_golang/prometheus"
)

const liveProbeTimeout = 2 * time.Second
const stopPollInterval = 1 * time.Second
const stopTimeout = 30 * time.Second

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Manage the BotMinter event daemon"}
	cmd.AddCommand(daemonStartCmd(), daemonStopCmd(), daemonStatusCmd(), daemonRunCmd())
	return cmd
}

func loadTeam(team string) (*teamconfig.Config, *teamconfig.Team, error) {
	path, err := resolvedConfigPath()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := teamconfig.Load(path)
	if err != nil {
		return nil, nil, &bmerrors.MissingConfig{Team: team}
	}
	t, err := cfg.ResolveTeam(team)
	if err != nil {
		return nil, nil, err
	}
	return cfg, t, nil
}

func daemonStartCmd() *cobra.Command {
	var team, mode string
	var port, interval int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the event daemon for a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(team, mode, port, interval)
		},
	}
	cmd.Flags().StringVarP(&team, "team", "t", "", "team name")
	cmd.Flags().StringVar(&mode, "mode", "webhook", "webhook|poll")
	cmd.Flags().IntVar(&port, "port", 8484, "webhook listen port")
	cmd.Flags().IntVar(&interval, "interval", 60, "poll interval seconds")
	return cmd
}

func runStart(teamFlag, mode string, port, interval int) error {
	switch mode {
	case "webhook":
		if port < 1 || port > 65535 {
			fmt.Fprintf(os.Stderr, "invalid port %d: must be between 1 and 65535\n", port)
			return errExit{1}
		}
	case "poll":
		if interval < 1 {
			fmt.Fprintln(os.Stderr, "invalid interval: must be at least 1 second")
			return errExit{1}
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid mode %q: must be webhook or poll\n", mode)
		return errExit{1}
	}

	cfg, t, err := loadTeam(teamFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errExit{1}
	}
	if err := orchestrator.CheckSchema(cfg.Workzone, t.Name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errExit{1}
	}

	// Surface a port collision here, before claiming anything, so the
	// documented bind-failure message comes out of "daemon start" itself
	// rather than being buried in the detached child's log.
	if mode == "webhook" {
		probe, err := net.Listen("tcp", webhook.BindAddr(port))
		if err != nil {
			fmt.Fprintln(os.Stderr, &bmerrors.BindFailure{Addr: webhook.BindAddr(port), Err: err})
			return errExit{1}
		}
		_ = probe.Close()
	}

	root, err := stateRoot()
	if err != nil {
		return err
	}
	store := runtimefiles.New(root, t.Name)
	if err := store.EnsureLogDir(); err != nil {
		return err
	}

	snapshot := runtimefiles.ConfigSnapshot{
		Team: t.Name, Mode: mode, Port: port, IntervalSeconds: interval,
		PID: os.Getpid(), StartTime: time.Now().UTC(),
		WebhookSecretPresent: t.Credentials.WebhookSecret != "",
	}
	stale, err := store.Claim(snapshot)
	var already *bmerrors.DaemonAlreadyRunning
	if errors.As(err, &already) {
		fmt.Fprintln(os.Stderr, "Daemon already running")
		return errExit{1}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errExit{1}
	}
	if stale {
		fmt.Fprintln(os.Stderr, "notice: reclaimed stale PID")
	}

	executable, err := os.Executable()
	if err != nil {
		releaseQuietly(store)
		return fmt.Errorf("resolving executable: %w", err)
	}

	runArgs := []string{"daemon-run", "-t", t.Name, "--mode", mode,
		"--port", strconv.Itoa(port), "--interval", strconv.Itoa(interval)}
	if configPath != "" {
		runArgs = append(runArgs, "--config", configPath)
	}

	logFile, err := os.OpenFile(store.DaemonLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		releaseQuietly(store)
		return fmt.Errorf("opening daemon log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(executable, runArgs...)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdout = logFile
	child.Stderr = logFile
	child.Stdin = nil

	if err := child.Start(); err != nil {
		releaseQuietly(store)
		return fmt.Errorf("spawning daemon-run: %w", err)
	}

	// Wait up to 2 seconds for the child to prove it stays alive,
	// checking often enough to notice an early death.
	deadline := time.Now().Add(liveProbeTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(child.Process.Pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !processAlive(child.Process.Pid) {
		releaseQuietly(store)
		return fmt.Errorf("daemon-run process did not stay alive; see %s", store.DaemonLogPath())
	}

	if err := store.CommitPID(child.Process.Pid); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	fmt.Printf("Daemon started (PID %d)\n", child.Process.Pid)
	return nil
}

func daemonStopCmd() *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the event daemon for a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(team)
		},
	}
	cmd.Flags().StringVarP(&team, "team", "t", "", "team name")
	return cmd
}

func runStop(teamFlag string) error {
	_, t, err := loadTeam(teamFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errExit{1}
	}
	root, err := stateRoot()
	if err != nil {
		return err
	}
	store := runtimefiles.New(root, t.Name)

	status, err := store.StatusCheck()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return errExit{1}
	}
	if !status.Running {
		// A stale status already removed the PID and config files; sweep
		// any leftover poll cursor too so stop always leaves a clean slate.
		if status.Stale {
			releaseQuietly(store)
		}
		fmt.Println("Daemon not running")
		return nil
	}

	_ = syscall.Kill(status.PID, syscall.SIGTERM)

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if !processAlive(status.PID) {
			break
		}
		time.Sleep(stopPollInterval)
	}
	if processAlive(status.PID) {
		_ = syscall.Kill(status.PID, syscall.SIGKILL)
	}

	releaseQuietly(store)
	return nil
}

func daemonStatusCmd() *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report daemon status for a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, err := loadTeam(team)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return nil
			}
			root, err := stateRoot()
			if err != nil {
				return err
			}
			store := runtimefiles.New(root, t.Name)
			status, err := store.StatusCheck()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return nil
			}
			printStatus(status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&team, "team", "t", "", "team name")
	return cmd
}

func printStatus(status runtimefiles.Status) {
	switch {
	case status.Running && status.Snapshot != nil:
		s := status.Snapshot
		fmt.Printf("Running (PID %d, mode=%s, started=%s", status.PID, s.Mode, s.StartTime.Format(time.RFC3339))
		if s.Mode == "webhook" {
			fmt.Printf(", port=%d", s.Port)
		} else {
			fmt.Printf(", interval=%d", s.IntervalSeconds)
		}
		fmt.Println(")")
	case status.Running:
		fmt.Printf("Running (PID %d)\n", status.PID)
	case status.Stale:
		fmt.Printf("Not running (stale PID %d removed)\n", status.PID)
	default:
		fmt.Println("Not running")
	}
}

// daemonRunCmd is the hidden entry point of the long-lived process,
// spawned by "daemon start".
func daemonRunCmd() *cobra.Command {
	var team, mode string
	var port, interval int

	cmd := &cobra.Command{
		Use:    "daemon-run",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(team, mode, port, interval)
		},
	}
	cmd.Flags().StringVarP(&team, "team", "t", "", "team name")
	cmd.Flags().StringVar(&mode, "mode", "webhook", "webhook|poll")
	cmd.Flags().IntVar(&port, "port", 8484, "webhook listen port")
	cmd.Flags().IntVar(&interval, "interval", 60, "poll interval seconds")
	return cmd
}

func runDaemon(teamFlag, mode string, port, interval int) error {
	cfg, t, err := loadTeam(teamFlag)
	if err != nil {
		return err
	}

	root, err := stateRoot()
	if err != nil {
		return err
	}
	store := runtimefiles.New(root, t.Name)
	if err := store.EnsureLogDir(); err != nil {
		return err
	}
	log, err := dlog.Open(store.DaemonLogPath())
	if err != nil {
		return err
	}
	defer log.Close()

	_ = metrics.Register(prometheus.DefaultRegisterer)

	metricsPort := port + 1
	if mode == "poll" {
		metricsPort = 9484
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", metricsPort), Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics endpoint: %v", err)
		}
	}()
	defer metricsSrv.Close()

	sig := shutdown.New()

	triggers := make(chan trigger.Trigger, 1)

	var stopProducer func()
	switch mode {
	case "webhook":
		listener := webhook.New(webhook.BindAddr(port), t.Credentials.WebhookSecret, log, triggers)
		go func() {
			if err := listener.ListenAndServe(); err != nil {
				log.Error("%v", err)
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}()
		stopProducer = func() { _ = listener.Shutdown() }
	case "poll":
		owner, repo := splitRepo(t.GitHubRepo)
		p := poller.New(owner, repo, t.Credentials.GHToken, time.Duration(interval)*time.Second,
			store.PollCursorPath(), log, triggers)
		// The poller watches the shutdown flag directly: its interval sleep
		// stops within a second of the signal, while an HTTP request
		// already in flight is not interrupted.
		go p.Run(sig.Done())
		stopProducer = func() {}
	default:
		return fmt.Errorf("unsupported mode %q", mode)
	}

	orch := &orchestrator.Orchestrator{
		Team: t.Name, Workzone: cfg.Workzone, GHToken: t.Credentials.GHToken,
		LauncherCommand: "bm-member-launcher",
		Log:             log, Store: store, Triggers: triggers, Shutdown: sig,
	}

	log.Info("Daemon started (mode=%s)", mode)
	orch.Run()
	stopProducer()
	log.Info("Daemon stopped")
	return nil
}

func splitRepo(ownerRepo string) (string, string) {
	owner, repo, _ := strings.Cut(ownerRepo, "/")
	return owner, repo
}

func releaseQuietly(store *runtimefiles.Store) {
	for _, e := range store.Release() {
		fmt.Fprintln(os.Stderr, "warning:", e)
	}
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// errExit carries a desired process exit code through cobra's error path.
type errExit struct{ code int }

func (e errExit) Error() string { return "" }
