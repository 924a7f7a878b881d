package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aspace-os/contractguard/pkg/auditlog"
	"github.com/aspace-os/contractguard/pkg/contractsync"
	"github.com/aspace-os/contractguard/pkg/guard"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
	projstore "github.com/aspace-os/contractguard/pkg/store/projection"
)

const (
	protocolsDir = "../../protocols"
	examplesDir  = "../../contracts/examples"
	invalidDir   = "../../contracts/invalid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGuard(t *testing.T, airLock bool) *guard.Guard {
	t.Helper()
	return guard.New(context.Background(), guard.Options{
		Ledger:      ledger.NewMemoryLedger(),
		Projections: projstore.NewMemoryStore(),
		Registry:    schema.NewRegistry(protocolsDir),
		ExamplesDir: examplesDir,
		AirLock:     airLock,
	})
}

func body(t *testing.T, contractType, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return fmt.Sprintf(`{"contractType":%q,"data":%s}`, contractType, data)
}

func do(h http.Handler, method, target, payload string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if payload == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()

	for _, path := range []string{"/", "/health"} {
		rec := do(h, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp map[string]any
		decodeBody(t, rec, &resp)
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, "READY", resp["mode"])
		assert.Nil(t, resp["last_sync"])
		assert.Equal(t, false, resp["syncing"])
	}
}

func TestWriteReadVerify(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()
	payload := body(t, "Order", filepath.Join(examplesDir, "order.example.json"))

	rec := do(h, http.MethodPost, "/contracts", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res guard.Result
	decodeBody(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "ORD-20250721-ASPACE-W01", res.ContractID)
	assert.NotEmpty(t, res.LedgerID)

	rec = do(h, http.MethodPost, "/contracts", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &res)
	assert.True(t, res.Idempotent)

	rec = do(h, http.MethodGet, "/contracts/ORD-20250721-ASPACE-W01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view guard.StatusView
	decodeBody(t, rec, &view)
	assert.Equal(t, "ACCEPTED", string(view.Status))
	assert.Equal(t, "ledger", view.Source)

	rec = do(h, http.MethodGet, "/contracts/ORD-20250721-ASPACE-W01/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var verify map[string]any
	decodeBody(t, rec, &verify)
	assert.Equal(t, true, verify["valid"])

	rec = do(h, http.MethodGet, "/contracts/ORD-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(h, http.MethodGet, "/contracts/ORD-404/verify", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteRejected(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()

	rec := do(h, http.MethodPost, "/contracts", body(t, "Order", filepath.Join(invalidDir, "order.week-out-of-range.json")))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p ProblemDetail
	decodeBody(t, rec, &p)
	assert.Equal(t, "Contract Rejected", p.Title)
	require.NotNil(t, p.Result)
	assert.Equal(t, guard.KindValidation, p.Result.ErrorKind)
	assert.NotEmpty(t, p.Result.Violations)
	assert.Contains(t, p.Detail, "contract validation failed")
}

func TestWriteBadInput(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()

	tests := map[string]string{
		"malformed":    `{"contractType":`,
		"unknown type": `{"contractType":"Memo","data":{"id":"MEMO-1"}}`,
		"not object":   `{"contractType":"Order","data":[1,2]}`,
		"missing id":   `{"contractType":"Order","data":{"week":1}}`,
	}
	for name, payload := range tests {
		rec := do(h, http.MethodPost, "/contracts", payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestWriteAirLock(t *testing.T) {
	g := newGuard(t, true)
	h := NewServer(Options{Guard: g}).Handler()

	rec := do(h, http.MethodPost, "/contracts", body(t, "Intent", filepath.Join(examplesDir, "intent.example.json")))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var p ProblemDetail
	decodeBody(t, rec, &p)
	require.NotNil(t, p.Result)
	assert.Equal(t, guard.KindWritesDisabled, p.Result.ErrorKind)

	rec = do(h, http.MethodGet, "/contracts/INT-20250719-SELFHOST", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view guard.StatusView
	decodeBody(t, rec, &view)
	assert.Equal(t, "snapshot", view.Source)

	rec = do(h, http.MethodGet, "/health", "")
	var health map[string]any
	decodeBody(t, rec, &health)
	assert.Equal(t, "DEGRADED", health["mode"])
}

func TestValidateEndpoint(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()

	rec := do(h, http.MethodPost, "/validate", body(t, "Pulse", filepath.Join(examplesDir, "pulse.example.json")))
	require.Equal(t, http.StatusOK, rec.Code)
	var out schema.Outcome
	decodeBody(t, rec, &out)
	assert.True(t, out.Valid)

	rec = do(h, http.MethodPost, "/validate", body(t, "Pulse", filepath.Join(invalidDir, "pulse.missing-kpi.json")))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &out)
	assert.False(t, out.Valid)

	rec = do(h, http.MethodGet, "/contracts", "")
	var list listResponse
	decodeBody(t, rec, &list)
	assert.Zero(t, list.Count, "validate never writes")
}

func TestListContracts(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()
	for typ, file := range map[string]string{
		"Order":    "order.example.json",
		"Decision": "decision.example.json",
		"Uplink":   "uplink.example.json",
	} {
		rec := do(h, http.MethodPost, "/contracts", body(t, typ, filepath.Join(examplesDir, file)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	var list listResponse
	rec := do(h, http.MethodGet, "/contracts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 3, list.Count)

	rec = do(h, http.MethodGet, "/contracts?type=decision&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "DEC-20250721-HOSTING", list.Contracts[0].ContractID)

	rec = do(h, http.MethodGet, `/contracts?filter=`+urlEscape(`contract_id.startsWith("UPLINK")`), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "UPLINK-20250721", list.Contracts[0].ContractID)

	rec = do(h, http.MethodGet, "/contracts?filter=&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	for _, q := range []string{"type=Memo", "status=PENDING", "limit=0", "limit=abc", "filter=" + urlEscape("contract_id +")} {
		rec = do(h, http.MethodGet, "/contracts?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func urlEscape(s string) string {
	r := strings.NewReplacer(" ", "%20", `"`, "%22", "+", "%2B", "(", "%28", ")", "%29")
	return r.Replace(s)
}

func TestRequireJWT(t *testing.T) {
	auth := NewJWTValidator("test-secret")
	h := NewServer(Options{Guard: newGuard(t, false), Auth: auth}).Handler()
	payload := body(t, "Uplink", filepath.Join(examplesDir, "uplink.example.json"))

	rec := do(h, http.MethodPost, "/contracts", payload)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(h, http.MethodPost, "/contracts", payload, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := NewJWTValidator("other-secret").Sign(jwt.RegisteredClaims{Subject: "mallory"})
	require.NoError(t, err)
	rec = do(h, http.MethodPost, "/contracts", payload, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	noSubject, err := auth.Sign(jwt.RegisteredClaims{})
	require.NoError(t, err)
	rec = do(h, http.MethodPost, "/contracts", payload, "Authorization", "Bearer "+noSubject)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.Sign(jwt.RegisteredClaims{Subject: "operator"})
	require.NoError(t, err)
	rec = do(h, http.MethodPost, "/contracts", payload, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(h, http.MethodGet, "/contracts/UPLINK-20250721", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")
}

func TestRateLimit(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false), Limiter: NewRateLimiter(1, 1)}).Handler()

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", "").Code)
	rec := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 50; i++ {
		assert.True(t, rl.Allow("10.0.0.1"))
	}
}

func TestNotFoundListsEndpoints(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()

	rec := do(h, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var p ProblemDetail
	decodeBody(t, rec, &p)
	assert.Equal(t, Endpoints, p.Endpoints)

	rec = do(h, http.MethodDelete, "/contracts", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncEndpoint(t *testing.T) {
	dir := t.TempDir()
	examples, err := filepath.Glob(filepath.Join(examplesDir, "*.json"))
	require.NoError(t, err)
	for _, p := range examples {
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.Base(p)), data, 0600))
	}
	sink, err := auditlog.NewFileSink(t.TempDir())
	require.NoError(t, err)

	g := newGuard(t, false)
	srv := NewServer(Options{
		Guard:  g,
		Syncer: contractsync.NewSyncer(g, contractsync.Options{Dir: dir, Sink: sink}),
	})
	h := srv.Handler()

	rec := do(h, http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"message":"Sync started"}`, rec.Body.String())
	srv.Close()

	rec = do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Syncing bool                 `json:"syncing"`
		Result  *contractsync.Result `json:"result"`
	}
	decodeBody(t, rec, &status)
	assert.False(t, status.Syncing)
	require.NotNil(t, status.Result)
	assert.Equal(t, 5, status.Result.Accepted)

	rec = do(h, http.MethodGet, "/health", "")
	var health map[string]any
	decodeBody(t, rec, &health)
	assert.NotNil(t, health["last_sync"])
}

func TestSyncEndpoint_Unconfigured(t *testing.T) {
	h := NewServer(Options{Guard: newGuard(t, false)}).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodPost, "/sync", "").Code)
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	srv := NewServer(Options{Guard: newGuard(t, false)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
