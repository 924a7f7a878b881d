// Package query compiles CEL expressions that filter ledger entries.
//
// Expressions see five variables:
//
//	contract_id    string
//	contract_type  string
//	status         string
//	created_at     timestamp
//	payload        map (the stored raw JSON document)
//
// For example: status == "REJECTED" && payload.cycle.week > 6
package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

const costLimit = 10000

// Filter is a compiled, reusable predicate over ledger entries.
type Filter struct {
	expr string
	prg  cel.Program
}

var env *cel.Env

func init() {
	var err error
	env, err = cel.NewEnv(
		cel.Variable("contract_id", cel.StringType),
		cel.Variable("contract_type", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("created_at", cel.TimestampType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		// JSON numbers decode as double; let them compare against int literals.
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		panic(fmt.Sprintf("query: failed to create CEL environment: %v", err))
	}
}

// Compile parses and type-checks expr. Expressions whose result is not a
// boolean are rejected.
func Compile(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty filter expression")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", out)
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against e. Evaluation errors, such as a
// missing payload key, are returned to the caller.
func (f *Filter) Match(e ledger.Entry) (bool, error) {
	payload := map[string]any{}
	if e.RawJSON != "" {
		if err := json.Unmarshal([]byte(e.RawJSON), &payload); err != nil {
			payload = map[string]any{}
		}
	}
	out, _, err := f.prg.Eval(map[string]any{
		"contract_id":   e.ContractID,
		"contract_type": string(e.ContractType),
		"status":        string(e.Status),
		"created_at":    e.CreatedAt,
		"payload":       payload,
	})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T, not bool", out.Value())
	}
	return b, nil
}

// Apply keeps the entries that match. Entries that fail to evaluate are
// dropped.
func (f *Filter) Apply(entries []ledger.Entry) []ledger.Entry {
	out := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		if ok, err := f.Match(e); err == nil && ok {
			out = append(out, e)
		}
	}
	return out
}
