package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aspace-os/contractguard/pkg/contracts"
	"github.com/aspace-os/contractguard/pkg/contractsync"
	"github.com/aspace-os/contractguard/pkg/guard"
	"github.com/aspace-os/contractguard/pkg/query"
	"github.com/aspace-os/contractguard/pkg/schema"
	"github.com/aspace-os/contractguard/pkg/store/ledger"
)

const (
	maxBodyBytes = guard.MaxPayloadBytes + 64<<10
	// filterScan bounds how many ledger rows a CEL filter inspects.
	filterScan = 1000
)

// Endpoints is reported on unknown routes.
var Endpoints = []string{
	"GET  /",
	"GET  /health",
	"POST /sync",
	"GET  /status",
	"GET  /contracts",
	"GET  /contracts/{id}",
	"GET  /contracts/{id}/verify",
	"POST /contracts",
	"POST /validate",
}

// Options configures a Server.
type Options struct {
	Guard   *guard.Guard
	Syncer  *contractsync.Syncer
	Auth    *JWTValidator
	Limiter *RateLimiter
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Server serves the HTTP API.
type Server struct {
	guard   *guard.Guard
	syncer  *contractsync.Syncer
	auth    *JWTValidator
	limiter *RateLimiter
	logger  *slog.Logger
	clock   func() time.Time
	started time.Time

	syncing atomic.Bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewServer(opts Options) *Server {
	s := &Server{
		guard:   opts.Guard,
		syncer:  opts.Syncer,
		auth:    opts.Auth,
		limiter: opts.Limiter,
		logger:  opts.Logger,
		clock:   opts.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "api")
	if s.clock == nil {
		s.clock = time.Now
	}
	s.started = s.clock()
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/contracts", s.handleList)
	r.Get("/contracts/{id}", s.handleGet)
	r.Get("/contracts/{id}/verify", s.handleVerify)
	r.Post("/validate", s.handleValidate)

	r.Group(func(r chi.Router) {
		r.Use(RequireJWT(s.auth))
		r.Post("/sync", s.handleSync)
		r.Get("/sync", s.handleSync)
		r.Post("/contracts", s.handleWrite)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		p := newProblem(r, http.StatusNotFound, "Not Found", "no route for "+r.Method+" "+r.URL.Path)
		p.Endpoints = Endpoints
		writeProblem(w, p)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down and
// waits for background sync passes.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	s.Close()
	return err
}

// Close cancels background sync passes and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type healthResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Mode          guard.Mode `json:"mode"`
	LastSync      *time.Time `json:"last_sync"`
	Syncing       bool       `json:"syncing"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(s.clock().Sub(s.started).Seconds()),
		Mode:          s.guard.Mode(),
		Syncing:       s.isSyncing(),
	}
	if last := s.lastSync(); last != nil {
		t := last.Finished
		resp.LastSync = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) isSyncing() bool {
	return s.syncing.Load() || (s.syncer != nil && s.syncer.Syncing())
}

func (s *Server) lastSync() *contractsync.Result {
	if s.syncer == nil {
		return nil
	}
	return s.syncer.LastResult()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"syncing": s.isSyncing(),
		"result":  s.lastSync(),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "Service Unavailable", "sync is not configured")
		return
	}
	if s.syncer.Syncing() || !s.syncing.CompareAndSwap(false, true) {
		WriteConflict(w, r, "Sync already in progress")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.syncing.Store(false)
		_, err := s.syncer.Run(s.baseCtx)
		switch {
		case errors.Is(err, contractsync.ErrSyncInProgress):
			s.logger.WarnContext(s.baseCtx, "sync skipped", "reason", err)
		case err != nil:
			s.logger.ErrorContext(s.baseCtx, "background sync failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Sync started"})
}

type listResponse struct {
	Contracts []ledger.Entry `json:"contracts"`
	Count     int            `json:"count"`
	Mode      guard.Mode     `json:"mode"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f ledger.Filter
	if v := q.Get("type"); v != "" {
		t, err := contracts.ParseType(v)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		f.Type = t
	}
	if v := q.Get("status"); v != "" {
		st, err := contracts.ParseStatus(v)
		if err != nil {
			WriteBadRequest(w, r, err.Error())
			return
		}
		f.Status = st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteBadRequest(w, r, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	var filter *query.Filter
	if v := q.Get("filter"); v != "" {
		var err error
		if filter, err = query.Compile(v); err != nil {
			WriteBadRequest(w, r, "invalid filter: "+err.Error())
			return
		}
	}

	limit := f.EffectiveLimit()
	if filter != nil {
		f.Limit = filterScan
	}
	entries, err := s.guard.ListContracts(r.Context(), f)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	if filter != nil {
		entries = filter.Apply(entries)
		if len(entries) > limit {
			entries = entries[:limit]
		}
	}
	writeJSON(w, http.StatusOK, listResponse{Contracts: entries, Count: len(entries), Mode: s.guard.Mode()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.guard.GetContractStatus(r.Context(), id)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	if view == nil {
		WriteNotFound(w, r, fmt.Sprintf("contract %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.guard.VerifyIntegrity(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		WriteNotFound(w, r, fmt.Sprintf("contract %s not found", id))
		return
	}
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contractId": id, "valid": ok})
}

type contractRequest struct {
	ContractID   string          `json:"contractId"`
	ContractType string          `json:"contractType"`
	Data         json.RawMessage `json:"data"`
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (contracts.Input, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, r, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
		return contracts.Input{}, false
	}
	var req contractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteBadRequest(w, r, "invalid JSON body: "+err.Error())
		return contracts.Input{}, false
	}
	typ, err := contracts.ParseType(req.ContractType)
	if err != nil {
		WriteBadRequest(w, r, err.Error())
		return contracts.Input{}, false
	}
	doc, err := schema.DecodeJSON(req.Data)
	if err != nil {
		WriteBadRequest(w, r, "data: "+err.Error())
		return contracts.Input{}, false
	}
	data, ok := doc.(map[string]any)
	if !ok {
		WriteBadRequest(w, r, "data must be a JSON object")
		return contracts.Input{}, false
	}
	id := req.ContractID
	if id == "" {
		id, _ = data["id"].(string)
	}
	return contracts.Input{ContractID: id, ContractType: typ, Data: data}, true
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	res := s.guard.WriteContract(r.Context(), in)

	switch {
	case res.Success && res.Idempotent:
		writeJSON(w, http.StatusOK, res)
	case res.Success:
		writeJSON(w, http.StatusCreated, res)
	default:
		status, title := writeFailureStatus(res.ErrorKind)
		p := newProblem(r, status, title, res.Error)
		p.Result = &res
		writeProblem(w, p)
	}
}

func writeFailureStatus(kind guard.ErrorKind) (int, string) {
	switch kind {
	case guard.KindValidation:
		return http.StatusUnprocessableEntity, "Contract Rejected"
	case guard.KindWritesDisabled:
		return http.StatusServiceUnavailable, "Writes Disabled"
	case guard.KindInvalidInput:
		return http.StatusBadRequest, "Bad Request"
	default:
		return http.StatusInternalServerError, "Write Failed"
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.guard.ValidateContract(in))
}
