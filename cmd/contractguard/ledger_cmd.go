package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/query"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

// filterScan bounds how many ledger rows a CEL filter inspects.
const filterScan = 1000

// withRuntime parses the shared --config and --json flags plus extra, then
// runs fn against a wired runtime. Logs go to stderr.
func withRuntime(name string, args []string, stdout, stderr io.Writer, extra func(*flag.FlagSet),
	fn func(ctx context.Context, rt *runtime, fs *flag.FlagSet, jsonOutput bool) int) int {
	cmd := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configPath := cmd.String("config", "", "Path to a YAML config file")
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if extra != nil {
		extra(cmd)
	}
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadConfig(*configPath)
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
	return fn(ctx, rt, cmd, *jsonOutput)
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

// runStatusCmd prints the stored status of one contract. Exit 1 when the
// contract is unknown.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	return withRuntime("status", args, stdout, stderr, nil, func(ctx context.Context, rt *runtime, fs *flag.FlagSet, jsonOutput bool) int {
		if fs.NArg() != 1 {
			_, _ = fmt.Fprintln(stderr, "Usage: contractguard status <contract-id>")
			return 2
		}
		id := fs.Arg(0)
		view, err := rt.guard.GetContractStatus(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if view == nil {
			_, _ = fmt.Fprintf(stderr, "Contract %s not found\n", id)
			return 1
		}
		if jsonOutput {
			printJSON(stdout, view)
			return 0
		}
		_, _ = fmt.Fprintf(stdout, "Contract: %s\n", view.ContractID)
		_, _ = fmt.Fprintf(stdout, "Type:     %s\n", view.ContractType)
		_, _ = fmt.Fprintf(stdout, "Status:   %s\n", view.Status)
		_, _ = fmt.Fprintf(stdout, "Created:  %s\n", view.CreatedAt.Format(ledger.TimeLayout))
		_, _ = fmt.Fprintf(stdout, "Source:   %s\n", view.Source)
		if view.ValidationLog != "" {
			_, _ = fmt.Fprintf(stdout, "Log:\n%s\n", view.ValidationLog)
		}
		return 0
	})
}

// runListCmd lists ledger entries, newest first.
func runListCmd(args []string, stdout, stderr io.Writer) int {
	var typeName, statusName, filterExpr string
	var limit int
	extra := func(fs *flag.FlagSet) {
		fs.StringVar(&typeName, "type", "", "Only this contract type")
		fs.StringVar(&statusName, "status", "", "Only ACCEPTED or REJECTED")
		fs.IntVar(&limit, "limit", ledger.DefaultLimit, "Maximum entries")
		fs.StringVar(&filterExpr, "filter", "", "CEL expression over contract_id, contract_type, status, created_at, payload")
	}
	return withRuntime("list", args, stdout, stderr, extra, func(ctx context.Context, rt *runtime, fs *flag.FlagSet, jsonOutput bool) int {
		var f ledger.Filter
		var err error
		if typeName != "" {
			if f.Type, err = contracts.ParseType(typeName); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}
		if statusName != "" {
			if f.Status, err = contracts.ParseStatus(statusName); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
				return 2
			}
		}
		f.Limit = limit

		var filter *query.Filter
		if filterExpr != "" {
			if filter, err = query.Compile(filterExpr); err != nil {
				_, _ = fmt.Fprintf(stderr, "Error: invalid filter: %v\n", err)
				return 2
			}
			f.Limit = filterScan
		}

		entries, err := rt.guard.ListContracts(ctx, f)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if filter != nil {
			entries = filter.Apply(entries)
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
		}

		if jsonOutput {
			printJSON(stdout, entries)
			return 0
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "CONTRACT\tTYPE\tSTATUS\tCREATED")
		for _, e := range entries {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ContractID, e.ContractType, e.Status, e.CreatedAt.Format(ledger.TimeLayout))
		}
		_ = tw.Flush()
		return 0
	})
}

// runVerifyCmd recomputes the integrity hash of one contract.
//
// Exit codes:
//
//	0 = hash matches
//	1 = mismatch or unknown contract
//	2 = usage error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	return withRuntime("verify", args, stdout, stderr, nil, func(ctx context.Context, rt *runtime, fs *flag.FlagSet, jsonOutput bool) int {
		if fs.NArg() != 1 {
			_, _ = fmt.Fprintln(stderr, "Usage: contractguard verify <contract-id>")
			return 2
		}
		id := fs.Arg(0)
		ok, err := rt.guard.VerifyIntegrity(ctx, id)
		if errors.Is(err, ledger.ErrNotFound) {
			_, _ = fmt.Fprintf(stderr, "Contract %s not found\n", id)
			return 1
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if jsonOutput {
			printJSON(stdout, map[string]any{"contractId": id, "valid": ok})
		} else if ok {
			_, _ = fmt.Fprintf(stdout, "✅ integrity hash of %s verified\n", id)
		} else {
			_, _ = fmt.Fprintf(stdout, "❌ integrity hash of %s does not match its content\n", id)
		}
		if !ok {
			return 1
		}
		return 0
	})
}
