package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/integrity"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

var registry = schema.NewRegistry("../../../protocols")

func TestLoad_Examples(t *testing.T) {
	s, err := Load("../../../contracts/examples", registry)
	require.NoError(t, err)
	require.Equal(t, 5, s.Len())
	assert.Empty(t, s.Skipped)

	ctx := context.Background()
	all, err := s.List(ctx, ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "DEC-20250721-HOSTING", all[0].ContractID, "newest created_at first")
	assert.Equal(t, "INT-20250719-SELFHOST", all[4].ContractID)

	for _, e := range all {
		assert.Equal(t, contracts.StatusAccepted, e.Status, e.ContractID)
		assert.Empty(t, e.ValidationLog)
		assert.True(t, integrity.VerifyEntry(e), e.ContractID)
	}

	pulses, err := s.List(ctx, ledger.Filter{Type: contracts.TypePulse})
	require.NoError(t, err)
	require.Len(t, pulses, 1)
	assert.Equal(t, "PULSE-20250720-ASPACE-W01", pulses[0].ContractID)

	e, err := s.Find(ctx, "ORD-20250721-ASPACE-W01")
	require.NoError(t, err)
	assert.Equal(t, contracts.TypeOrder, e.ContractType)

	_, err = s.Find(ctx, "ORD-404")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLoad_MissingDirectory(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope"), registry)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestLoad_SkipsAndRejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0600))
	}
	write("readme.json", `{"id":"X"}`)
	write("order.noid.json", `{"schema_version":"1.0"}`)
	write("pulse.broken.json", `{"id":`)
	write("intent.array.json", `[1,2]`)
	write("notes.txt", `ignored`)

	invalid, err := os.ReadFile("../../../contracts/invalid/order.week-out-of-range.json")
	require.NoError(t, err)
	write("order.invalid.json", string(invalid))

	s, err := Load(dir, registry)
	require.NoError(t, err)

	require.Equal(t, 1, s.Len())
	e, err := s.Find(context.Background(), "ORD-INVALID-999")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRejected, e.Status)
	assert.Contains(t, e.ValidationLog, "[Root.cycle.week] Value too high: 99 > maximum 12")

	reasons := map[string]string{}
	for _, sk := range s.Skipped {
		reasons[sk.File] = sk.Reason
	}
	assert.Len(t, reasons, 4)
	assert.Equal(t, "cannot infer contract type from filename", reasons["readme.json"])
	assert.Equal(t, "missing id", reasons["order.noid.json"])
	assert.Contains(t, reasons["pulse.broken.json"], "invalid JSON")
	assert.Equal(t, "document is not a JSON object", reasons["intent.array.json"])
}
