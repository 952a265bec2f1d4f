// riskd is the risk-management daemon for a ProjectX futures account.
//
// Usage:
//
//	riskd <start|stop|status|tail|dry-run|validate> [-config path]
//
// start and stop are gated by the admin passcode read from stdin. Gateway
// credentials come from PROJECT_X_* environment variables, loaded from .env
// when present.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	// Missing .env is fine; the environment may carry the variables directly.
	_ = godotenv.Load()

	var err error
	switch command {
	case "start":
		err = cmdStart(os.Args[2:], false)
	case "dry-run":
		err = cmdStart(os.Args[2:], true)
	case "stop":
		err = cmdStop(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "tail":
		err = cmdTail(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "riskd %s: %v\n", command, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: riskd <command> [-config path]

commands:
  start     run the daemon (passcode required)
  stop      stop a running daemon (passcode required)
  status    show config, rules, P&L, and lock state
  tail      follow the technical log
  dry-run   run the daemon with enforcement suppressed
  validate  smoke-test gateway connectivity`)
}

// promptPasscode reads one line from stdin and compares it to the configured
// passcode.
func promptPasscode(expected string) error {
	fmt.Fprint(os.Stderr, "Passcode: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading passcode: %w", err)
	}
	if trimNewline(line) != expected {
		return fmt.Errorf("passcode rejected")
	}
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
