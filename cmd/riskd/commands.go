package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_sentinel/internal/audit"
	"github.com/eddiefleurent/scranton_sentinel/internal/broker"
	"github.com/eddiefleurent/scranton_sentinel/internal/config"
	"github.com/eddiefleurent/scranton_sentinel/internal/daemon"
	"github.com/eddiefleurent/scranton_sentinel/internal/dashboard"
	"github.com/eddiefleurent/scranton_sentinel/internal/logging"
	"github.com/eddiefleurent/scranton_sentinel/internal/pnl"
	"github.com/eddiefleurent/scranton_sentinel/internal/state"
	"github.com/eddiefleurent/scranton_sentinel/internal/tracker"
)

const (
	defaultAPIURL = "https://api.topstepx.com"
	defaultHubURL = "wss://rtc.topstepx.com/hubs/user"
	pidPath       = "logs/riskd.pid"

	// fallbackAccountID mirrors the account the daemon was first deployed
	// against; used only when PROJECT_X_ACCOUNT_ID is unset.
	fallbackAccountID = 12089421
)

func parseConfigFlag(cmd string, args []string) (string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath, "path to daemon configuration")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *configPath, nil
}

func gatewayURL() string {
	if u := os.Getenv("PROJECT_X_API_URL"); u != "" {
		return u
	}
	return defaultAPIURL
}

func hubURL() string {
	if u := os.Getenv("PROJECT_X_RTC_URL"); u != "" {
		return u
	}
	return defaultHubURL
}

func credentials() (broker.Credentials, error) {
	creds := broker.Credentials{
		Username: os.Getenv("PROJECT_X_USERNAME"),
		APIKey:   os.Getenv("PROJECT_X_API_KEY"),
	}
	if creds.Username == "" || creds.APIKey == "" {
		return creds, errors.New("PROJECT_X_USERNAME and PROJECT_X_API_KEY must be set")
	}
	return creds, nil
}

// resolveAccountID reads PROJECT_X_ACCOUNT_ID, falling back to the historical
// default with a warning so a misconfigured deployment is visible.
func resolveAccountID(log *logrus.Logger, aud *audit.Logger) int {
	raw := os.Getenv("PROJECT_X_ACCOUNT_ID")
	if raw == "" {
		aud.Warnf("PROJECT_X_ACCOUNT_ID is not set. Using fallback account %d.", fallbackAccountID)
		return fallbackAccountID
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		log.WithError(err).Warn("unparseable PROJECT_X_ACCOUNT_ID")
		aud.Warnf("PROJECT_X_ACCOUNT_ID %q is not an integer. Using fallback account %d.", raw, fallbackAccountID)
		return fallbackAccountID
	}
	return id
}

func cmdStart(args []string, forceDryRun bool) error {
	configPath, err := parseConfigFlag("start", args)
	if err != nil {
		return err
	}

	cfg, loadErr := config.Load(configPath)
	log := logging.New("", cfg.LogLevel, true)
	aud, err := audit.New("")
	if err != nil {
		return err
	}
	defer aud.Close()

	if loadErr != nil {
		aud.Warnf("Configuration problem: %v. Running with safe defaults.", loadErr)
	}
	if forceDryRun {
		cfg.DryRun = true
	}

	if err := promptPasscode(cfg.Passcode()); err != nil {
		return err
	}

	if err := writePIDFile(); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	creds, err := credentials()
	if err != nil {
		return err
	}
	accountID := resolveAccountID(log, aud)

	client := broker.NewProjectXClient(gatewayURL(), creds, accountID, log)
	guarded := broker.NewBreakerClient(client, log)
	stream := broker.NewStream(hubURL(), client, accountID, log)

	instruments, err := tracker.LoadInstruments("")
	if err != nil {
		log.WithError(err).Warn("instrument metadata load failed, using defaults")
	}
	tr := tracker.New(instruments)

	store, err := state.NewStore("")
	if err != nil {
		return err
	}
	engine, err := pnl.NewEngine(guarded, tr, store, aud, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Restore(ctx, time.Now()); err != nil {
		return err
	}

	cfgStore := config.NewStore(configPath, cfg, log)
	d := daemon.New(cfgStore, guarded, stream, tr, engine, aud, log)
	d.WarnIfAlreadyBreached()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return cfgStore.Watch(gctx) })
	if cfg.Dashboard.Enabled {
		srv := dashboard.NewServer(cfg.Dashboard.Port, d, log)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func cmdStop(args []string) error {
	configPath, err := parseConfigFlag("stop", args)
	if err != nil {
		return err
	}
	cfg, _ := config.Load(configPath)
	if err := promptPasscode(cfg.Passcode()); err != nil {
		return err
	}

	pid, err := readPIDFile()
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling pid %d: %w", pid, err)
	}
	fmt.Printf("Sent stop signal to riskd (pid %d).\n", pid)
	return nil
}

func cmdStatus(args []string) error {
	configPath, err := parseConfigFlag("status", args)
	if err != nil {
		return err
	}
	cfg, loadErr := config.Load(configPath)
	if loadErr != nil {
		fmt.Printf("Config:  %s (unreadable, defaults in effect: %v)\n", configPath, loadErr)
	} else {
		fmt.Printf("Config:  %s\n", configPath)
	}
	fmt.Printf("Dry run: %t\n", cfg.DryRun)

	fmt.Println("Rules:")
	for _, name := range cfg.Rules.Names() {
		rc, _ := cfg.Rules.Get(name)
		enabled := "disabled"
		if rc.Enabled {
			enabled = "enabled"
		}
		fmt.Printf("  %-14s %s (severity %s)\n", name, enabled, rc.Severity)
	}

	if sess := readCheckpoint(); sess != nil {
		fmt.Printf("Daily P&L: %.2f (session %s)\n", sess.DailyRealizedPnl, sess.LastResetDate)
		fmt.Printf("Trading locked: %t\n", sess.TradingLocked)
	} else {
		fmt.Println("Daily P&L: no checkpoint")
	}

	if pid, err := readPIDFile(); err == nil && processAlive(pid) {
		fmt.Printf("Daemon:  running (pid %d)\n", pid)
	} else {
		fmt.Println("Daemon:  not running")
	}

	// Display-only broker P&L; skipped silently when credentials are absent.
	if creds, err := credentials(); err == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		client := broker.NewProjectXClient(gatewayURL(), creds, fallbackAccountIDFromEnv(), log)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if pnlSummary, err := client.GetPortfolioPnL(ctx); err == nil {
			fmt.Printf("Broker day P&L: %.2f\n", pnlSummary.DayPnl)
		} else {
			fmt.Printf("Broker day P&L: unavailable (%v)\n", err)
		}
	}
	return nil
}

func fallbackAccountIDFromEnv() int {
	if raw := os.Getenv("PROJECT_X_ACCOUNT_ID"); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			return id
		}
	}
	return fallbackAccountID
}

func readCheckpoint() *state.Session {
	store, err := state.NewStore("")
	if err != nil {
		return nil
	}
	sess, err := store.Load()
	if err != nil {
		return nil
	}
	return sess
}

func cmdTail(args []string) error {
	if _, err := parseConfigFlag("tail", args); err != nil {
		return err
	}
	f, err := os.Open(logging.DefaultPath)
	if err != nil {
		return fmt.Errorf("opening technical log: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if rerr != nil && rerr != io.EOF {
			return rerr
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func cmdValidate(args []string) error {
	if _, err := parseConfigFlag("validate", args); err != nil {
		return err
	}
	creds, err := credentials()
	if err != nil {
		return err
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := broker.NewProjectXClient(gatewayURL(), creds, fallbackAccountIDFromEnv(), log)
	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("gateway auth: %w", err)
	}
	stream := broker.NewStream(hubURL(), client, fallbackAccountIDFromEnv(), log)
	if err := stream.Validate(ctx); err != nil {
		return fmt.Errorf("realtime feed: %w", err)
	}
	fmt.Println("Gateway connectivity OK.")
	return nil
}

func writePIDFile() error {
	if pid, err := readPIDFile(); err == nil && processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile() (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, fmt.Errorf("reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(trimNewline(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid file: %w", err)
	}
	return pid, nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
