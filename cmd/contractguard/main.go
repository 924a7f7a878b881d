package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. args[0] is the program name.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServeCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "sync":
		return runSyncCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "check":
		return runCheckCmd(args[2:], stdout, stderr)
	case "schemas":
		return runSchemasCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServeCmd(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sContractGuard%s\n", ColorBold+ColorBlue, ColorReset)
	_, _ = fmt.Fprintf(w, "%sNo contract reaches the ledger unvalidated.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  contractguard <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the HTTP API (default; --watch, --config)")
	printCommand(w, "sync", "Run one sync pass over the examples directory")

	printSection(w, "VALIDATION")
	printCommand(w, "validate", "Validate one document (--type, --file, --json)")
	printCommand(w, "check", "Examples must pass and invalid fixtures must fail")
	printCommand(w, "schemas", "Lint every contract schema")

	printSection(w, "LEDGER")
	printCommand(w, "status", "Show the status of a contract (<id>)")
	printCommand(w, "list", "List ledger entries (--type, --status, --limit, --filter)")
	printCommand(w, "verify", "Recompute the integrity hash of a contract (<id>)")

	printSection(w, "UTILITIES")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}
