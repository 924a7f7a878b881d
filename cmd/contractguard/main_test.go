package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspace-os/contractguard/pkg/contractsync"
	"github.com/aspace-os/contractguard/pkg/schema"
)

const (
	protocolsDir = "../../protocols"
	examplesDir  = "../../contracts/examples"
	invalidDir   = "../../contracts/invalid"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"contractguard"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// env points every directory at the repository fixtures and isolates the
// command from the host environment.
func env(t *testing.T) {
	t.Helper()
	t.Setenv("SCHEMAS_DIR", protocolsDir)
	t.Setenv("EXAMPLES_DIR", examplesDir)
	t.Setenv("INVALID_DIR", invalidDir)
	t.Setenv("AUDIT_SINK", "file")
	t.Setenv("AUDIT_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ASPACE_AIR_LOCK_MODE", "false")
	t.Setenv("OTEL_ENABLED", "false")
}

func TestRun_Help(t *testing.T) {
	code, out, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "USAGE")
	assert.Contains(t, out, "verify")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, errOut := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func TestValidateCmd(t *testing.T) {
	env(t)

	code, out, _ := run("validate", "--type", "Order", "--file", filepath.Join(examplesDir, "order.example.json"))
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "valid Order")

	code, out, _ = run("validate", "--file", filepath.Join(invalidDir, "decision.bad-fields.json"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "not a valid Decision")

	code, out, _ = run("validate", "--json", "--file", filepath.Join(invalidDir, "intent.extra-field.json"))
	assert.Equal(t, 1, code)
	var outcome schema.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcome))
	assert.False(t, outcome.Valid)
	assert.NotEmpty(t, outcome.Violations)
}

func TestValidateCmd_UsageErrors(t *testing.T) {
	env(t)
	readme := filepath.Join(t.TempDir(), "readme.json")
	require.NoError(t, os.WriteFile(readme, []byte(`{}`), 0600))

	tests := map[string][]string{
		"no file":      {"validate", "--type", "Order"},
		"bad type":     {"validate", "--type", "Memo", "--file", readme},
		"no inference": {"validate", "--file", readme},
		"missing file": {"validate", "--type", "Order", "--file", "does-not-exist.json"},
	}
	for name, args := range tests {
		code, _, _ := run(args...)
		assert.Equal(t, 2, code, name)
	}
}

func TestCheckCmd(t *testing.T) {
	env(t)
	code, out, _ := run("check")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "All checks passed")
}

func TestCheckCmd_Drift(t *testing.T) {
	env(t)
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join(invalidDir, "pulse.missing-kpi.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pulse.example.json"), data, 0600))
	t.Setenv("EXAMPLES_DIR", dir)

	code, out, _ := run("check")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "expected valid")
}

func TestSchemasCmd(t *testing.T) {
	env(t)
	code, out, _ := run("schemas", "--dir", protocolsDir)
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "order.schema.json")

	code, _, _ = run("schemas", "--dir", t.TempDir())
	assert.Equal(t, 1, code)
}

func TestSyncThenReadCommands(t *testing.T) {
	env(t)
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "contractguard.db"))

	code, out, errOut := run("sync")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "5 accepted, 0 rejected, 0 errors")

	code, out, _ = run("sync", "--json")
	require.Equal(t, 0, code)
	var res contractsync.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 5, res.Accepted)
	for _, d := range res.Details {
		assert.True(t, d.Skipped, d.File)
	}

	code, out, _ = run("status", "DEC-20250721-HOSTING")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "ACCEPTED")
	assert.Contains(t, out, "ledger")

	code, _, _ = run("status", "DEC-404")
	assert.Equal(t, 1, code)

	code, out, _ = run("list", "--type", "order")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "ORD-20250721-ASPACE-W01")
	assert.NotContains(t, out, "PULSE-20250720-ASPACE-W01")

	code, out, _ = run("list", "--filter", `contract_type == "Uplink"`, "--json")
	assert.Equal(t, 0, code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "UPLINK-20250721", entries[0]["contractId"])

	code, _, _ = run("list", "--filter", "status +")
	assert.Equal(t, 2, code)

	code, out, _ = run("verify", "INT-20250719-SELFHOST")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "verified")

	code, _, _ = run("verify", "INT-404")
	assert.Equal(t, 1, code)

	code, _, _ = run("verify")
	assert.Equal(t, 2, code)
}

func TestAirLock_ServesSnapshot(t *testing.T) {
	env(t)
	t.Setenv("ASPACE_AIR_LOCK_MODE", "true")

	code, out, _ := run("sync", "--json")
	require.Equal(t, 0, code)
	var res contractsync.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 5, res.Total)
	for _, d := range res.Details {
		assert.True(t, d.Skipped, "%s is served by the snapshot", d.File)
	}

	code, out, _ = run("status", "--json", "PULSE-20250720-ASPACE-W01")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, `"source": "snapshot"`)
}
