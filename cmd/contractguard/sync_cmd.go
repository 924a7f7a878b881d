package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/aspace-os/contractguard/pkg/contractsync"
)

// runSyncCmd runs one sync pass.
//
// Exit codes:
//
//	0 = pass completed, even when some contracts were rejected
//	1 = the pass could not run
//	2 = usage error
func runSyncCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sync", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the sync result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.Close(ctx)

	res, err := rt.syncer.Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sync failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, d := range res.Details {
		mark := ColorGreen + "✓" + ColorReset
		switch d.Status {
		case contractsync.DetailRejected:
			mark = ColorRed + "✗" + ColorReset
		case contractsync.DetailError:
			mark = ColorRed + "!" + ColorReset
		}
		line := fmt.Sprintf("  %s %-32s %s", mark, d.File, d.Status)
		if d.Skipped {
			line += " (already in ledger)"
		}
		if d.Error != "" {
			line += ": " + d.Error
		}
		_, _ = fmt.Fprintln(stdout, line)
	}
	_, _ = fmt.Fprintf(stdout, "Sync complete: %d total, %d accepted, %d rejected, %d errors\n",
		res.Total, res.Accepted, res.Rejected, res.Errors)
	return 0
}
