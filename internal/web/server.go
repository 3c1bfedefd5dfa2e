package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/elys-network/epochvault/internal/bank"
	"github.com/elys-network/epochvault/internal/engine"
	"github.com/elys-network/epochvault/internal/events"
	"github.com/elys-network/epochvault/internal/logger"
	"github.com/elys-network/epochvault/internal/queue"
	"github.com/elys-network/epochvault/internal/state"
)

const maxBodyBytes = 1 << 20

// Error definitions for zero-tolerance error handling
var (
	ErrNilVault = errors.New("vault cannot be nil")
	ErrNilBank  = errors.New("bank cannot be nil")
)

// Config holds the dependencies for creating a WebServer.
type Config struct {
	Vault *engine.Vault
	Bank  bank.Bank
	// Store is optional; history endpoints answer 503 without it.
	Store *state.Store
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// KeeperRunning reports keeper liveness for /health when set.
	KeeperRunning func() bool
	Port          string
}

// WebServer serves the vault's HTTP API.
type WebServer struct {
	logger        zerolog.Logger
	router        *mux.Router
	port          string
	server        *http.Server
	vault         *engine.Vault
	bank          bank.Bank
	store         *state.Store
	metrics       http.Handler
	keeperRunning func() bool
	startedAt     time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(cfg Config) (*WebServer, error) {
	if cfg.Vault == nil {
		return nil, ErrNilVault
	}
	if cfg.Bank == nil {
		return nil, ErrNilBank
	}
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		logger:        logger.GetForComponent("web_server"),
		router:        mux.NewRouter(),
		port:          port,
		vault:         cfg.Vault,
		bank:          cfg.Bank,
		store:         cfg.Store,
		metrics:       cfg.Metrics,
		keeperRunning: cfg.KeeperRunning,
		startedAt:     time.Now(),
	}

	server.setupRoutes()
	return server, nil
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if ws.metrics != nil {
		ws.router.Handle("/metrics", ws.metrics).Methods("GET")
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/ledger", ws.handleGetLedger).Methods("GET")
	api.HandleFunc("/queue", ws.handleGetQueue).Methods("GET")
	api.HandleFunc("/epochs/{id}", ws.handleGetEpoch).Methods("GET")
	api.HandleFunc("/settlements", ws.handleGetSettlements).Methods("GET")
	api.HandleFunc("/deployments", ws.handleGetDeployments).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/accounts/{address}", ws.handleGetAccount).Methods("GET")

	api.HandleFunc("/deposits", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/withdrawals/process", ws.handleProcessWithdrawals).Methods("POST")
	api.HandleFunc("/redemptions", ws.handleRedeem).Methods("POST")
	api.HandleFunc("/epochs/{id}/settle", ws.handleSettle).Methods("POST")
	api.HandleFunc("/deploy", ws.handleDeploy).Methods("POST")

	api.HandleFunc("/admin/params", ws.handleGetParams).Methods("GET")
	api.HandleFunc("/admin/params", ws.handleUpdateParams).Methods("PUT")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler { return ws.router }

// Start starts the web server and blocks until it stops.
func (ws *WebServer) Start() error {
	ws.logger.Info().Str("port", ws.port).Msg("Starting web server")

	ws.server = &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a started server gracefully.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}
	return ws.server.Shutdown(ctx)
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbStatus := "disabled"
	if ws.store != nil {
		dbStatus = "ok"
		if err := ws.store.Ping(r.Context()); err != nil {
			ws.logger.Error().Err(err).Msg("Database health check failed")
			dbStatus = "unreachable"
			hasErrors = true
		}
	}

	keeperStatus := "disabled"
	if ws.keeperRunning != nil {
		keeperStatus = "running"
		if !ws.keeperRunning() {
			keeperStatus = "stopped"
			hasErrors = true
		}
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.startedAt).Seconds()),
		},
		"vault_status": map[string]interface{}{
			"database":          dbStatus,
			"keeper":            keeperStatus,
			"current_epoch":     ws.vault.CurrentEpoch(),
			"deployment_paused": ws.vault.Paused(),
			"queue_depth":       len(ws.vault.QueuedWithdrawals()),
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}
	ws.writeJSONResponse(w, statusCode, response)
}

type strategyView struct {
	Name      string `json:"name"`
	Tier      string `json:"tier"`
	WeightBps uint32 `json:"weightBps"`
	Active    bool   `json:"active"`
}

// handleGetLedger returns the fund's accounting snapshot
func (ws *WebServer) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	slots := ws.vault.Strategies()
	strategies := make([]strategyView, 0, len(slots))
	for _, s := range slots {
		strategies = append(strategies, strategyView{Name: s.Name, Tier: string(s.Tier), WeightBps: s.WeightBps, Active: s.Active})
	}

	response := map[string]interface{}{
		"snapshot":     ws.vault.Snapshot(r.Context()),
		"shareSupply":  ws.vault.TotalSupply(),
		"currentEpoch": ws.vault.CurrentEpoch(),
		"paused":       ws.vault.Paused(),
		"strategies":   strategies,
	}
	if last, ok := ws.vault.LastDeploy(); ok {
		response["lastDeploy"] = last.UTC()
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

type withdrawalView struct {
	ID       uint64      `json:"id"`
	Position int         `json:"position"`
	Owner    string      `json:"owner"`
	Receiver string      `json:"receiver"`
	Assets   sdkmath.Int `json:"assets"`
	Shares   sdkmath.Int `json:"shares"`
	Epoch    uint64      `json:"epoch"`
}

func withdrawalViews(reqs []queue.WithdrawalRequest, keep func(queue.WithdrawalRequest) bool) []withdrawalView {
	out := make([]withdrawalView, 0, len(reqs))
	for i, req := range reqs {
		if keep != nil && !keep(req) {
			continue
		}
		out = append(out, withdrawalView{
			ID:       req.ID,
			Position: i,
			Owner:    req.Owner.String(),
			Receiver: req.Receiver.String(),
			Assets:   req.Assets,
			Shares:   req.Shares,
			Epoch:    req.Epoch,
		})
	}
	return out
}

// handleGetQueue returns the unpaid withdrawal queue in FIFO order
func (ws *WebServer) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	requests := withdrawalViews(ws.vault.QueuedWithdrawals(), nil)
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"requests":            requests,
		"count":               len(requests),
		"pendingAssets":       ws.vault.PendingWithdrawalAssets(),
		"totalPendingDeposit": ws.vault.TotalPendingDeposits(),
	})
}

type depositView struct {
	Depositor string      `json:"depositor"`
	Receiver  string      `json:"receiver"`
	NetAssets sdkmath.Int `json:"netAssets"`
}

// handleGetEpoch returns one epoch's escrowed deposits and settlement state
func (ws *WebServer) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	epoch, ok := ws.epochParam(w, r)
	if !ok {
		return
	}

	entries := ws.vault.PendingDeposits(epoch)
	deposits := make([]depositView, 0, len(entries))
	for _, e := range entries {
		deposits = append(deposits, depositView{Depositor: e.Depositor.String(), Receiver: e.Receiver.String(), NetAssets: e.NetAssets})
	}

	current := ws.vault.CurrentEpoch()
	response := map[string]interface{}{
		"epoch":        epoch,
		"currentEpoch": current,
		"ended":        epoch < current,
		"settled":      ws.vault.IsSettled(epoch),
		"depositTotal": ws.vault.EpochDepositTotal(epoch),
		"deposits":     deposits,
	}
	if ws.store != nil {
		record, err := ws.store.Settlement(r.Context(), epoch)
		switch {
		case err == nil:
			response["settlement"] = record
		case !errors.Is(err, state.ErrNotFound):
			ws.logger.Error().Err(err).Uint64("epoch", epoch).Msg("Failed to get settlement record")
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSettlements returns recent settlement records
func (ws *WebServer) handleGetSettlements(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	limit := limitParam(r)
	records, err := ws.store.RecentSettlements(r.Context(), limit)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get recent settlements")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve settlements")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"settlements": records,
		"count":       len(records),
		"limit":       limit,
	})
}

// handleGetDeployments returns recent deployment batches
func (ws *WebServer) handleGetDeployments(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	limit := limitParam(r)
	records, err := ws.store.RecentDeployments(r.Context(), limit)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get recent deployments")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve deployments")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"deployments": records,
		"count":       len(records),
		"limit":       limit,
	})
}

// handleGetEvents returns the event journal, newest first
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	limit := limitParam(r)
	kind := events.Kind(r.URL.Query().Get("kind"))
	journal, err := ws.store.RecentEvents(r.Context(), kind, limit)
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": journal,
		"count":  len(journal),
		"limit":  limit,
	})
}

// handleGetSummary returns aggregated vault activity
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	if !ws.requireStore(w) {
		return
	}
	summary, err := ws.store.Summary(r.Context())
	if err != nil {
		ws.logger.Error().Err(err).Msg("Failed to get vault summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetAccount returns one account's shares, their value and its queued withdrawals
func (ws *WebServer) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := sdk.AccAddressFromBech32(mux.Vars(r)["address"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid account address")
		return
	}

	shares := ws.vault.BalanceOf(addr)
	queued := withdrawalViews(ws.vault.QueuedWithdrawals(), func(req queue.WithdrawalRequest) bool {
		return req.Owner.Equals(addr)
	})
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"address":           addr.String(),
		"shares":            shares,
		"shareValue":        ws.vault.ConvertToAssets(r.Context(), shares),
		"assetBalance":      ws.bank.Balance(addr),
		"queuedWithdrawals": queued,
	})
}

type depositRequest struct {
	Caller   string      `json:"caller"`
	Receiver string      `json:"receiver"`
	Assets   sdkmath.Int `json:"assets"`
}

// handleDeposit escrows a deposit for the current epoch
func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !ws.decodeJSON(w, r, &req) {
		return
	}
	caller, ok := ws.address(w, "caller", req.Caller)
	if !ok {
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, ok = ws.address(w, "receiver", req.Receiver); !ok {
			return
		}
	}

	receipt, err := ws.vault.RequestDeposit(r.Context(), caller, req.Assets, receiver)
	if err != nil {
		ws.writeEngineError(w, "deposit", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusAccepted, receipt)
}

type withdrawRequest struct {
	Caller   string      `json:"caller"`
	Owner    string      `json:"owner"`
	Receiver string      `json:"receiver"`
	Assets   sdkmath.Int `json:"assets"`
	Shares   sdkmath.Int `json:"shares"`
}

// parties resolves caller, owner and receiver; owner defaults to the caller
// and receiver to the owner.
func (ws *WebServer) parties(w http.ResponseWriter, req withdrawRequest) (caller, owner, receiver sdk.AccAddress, ok bool) {
	if caller, ok = ws.address(w, "caller", req.Caller); !ok {
		return
	}
	owner = caller
	if req.Owner != "" {
		if owner, ok = ws.address(w, "owner", req.Owner); !ok {
			return
		}
	}
	receiver = owner
	if req.Receiver != "" {
		if receiver, ok = ws.address(w, "receiver", req.Receiver); !ok {
			return
		}
	}
	return caller, owner, receiver, true
}

// handleWithdraw queues a withdrawal for an exact asset amount
func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !ws.decodeJSON(w, r, &req) {
		return
	}
	caller, owner, receiver, ok := ws.parties(w, req)
	if !ok {
		return
	}

	queued, err := ws.vault.RequestWithdraw(r.Context(), caller, req.Assets, owner, receiver)
	if err != nil {
		ws.writeEngineError(w, "withdraw", err)
		return
	}
	ws.writeQueued(w, queued)
}

// handleRedeem queues a withdrawal for an exact share amount
func (ws *WebServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !ws.decodeJSON(w, r, &req) {
		return
	}
	caller, owner, receiver, ok := ws.parties(w, req)
	if !ok {
		return
	}

	queued, err := ws.vault.RequestRedeem(r.Context(), caller, req.Shares, owner, receiver)
	if err != nil {
		ws.writeEngineError(w, "redeem", err)
		return
	}
	ws.writeQueued(w, queued)
}

func (ws *WebServer) writeQueued(w http.ResponseWriter, req queue.WithdrawalRequest) {
	view := withdrawalViews([]queue.WithdrawalRequest{req}, nil)[0]
	if pos, ok := ws.vault.QueuePosition(req.ID); ok {
		view.Position = pos
	}
	ws.writeJSONResponse(w, http.StatusAccepted, view)
}

// handleSettle settles one ended epoch
func (ws *WebServer) handleSettle(w http.ResponseWriter, r *http.Request) {
	epoch, ok := ws.epochParam(w, r)
	if !ok {
		return
	}

	settlement, err := ws.vault.Settle(r.Context(), epoch)
	if err != nil {
		ws.writeEngineError(w, "settle", err)
		return
	}
	if ws.store != nil {
		if err := ws.store.SaveSettlement(r.Context(), settlement, time.Now()); err != nil {
			ws.logger.Error().Err(err).Uint64("epoch", epoch).Msg("Failed to record settlement")
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, settlement)
}

// handleProcessWithdrawals pays queued withdrawals from ended epochs
func (ws *WebServer) handleProcessWithdrawals(w http.ResponseWriter, r *http.Request) {
	result, err := ws.vault.ProcessQueuedWithdrawals(r.Context())
	if err != nil {
		ws.writeEngineError(w, "process withdrawals", err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

type callerRequest struct {
	Caller string `json:"caller"`
}

// handleDeploy runs one deployment batch
func (ws *WebServer) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if !ws.decodeJSON(w, r, &req) {
		return
	}
	caller, ok := ws.address(w, "caller", req.Caller)
	if !ok {
		return
	}

	result, err := ws.vault.DeployBatch(r.Context(), caller)
	if err != nil {
		ws.writeEngineError(w, "deploy", err)
		return
	}
	if ws.store != nil {
		if _, err := ws.store.SaveDeployment(r.Context(), result, time.Now()); err != nil {
			ws.logger.Error().Err(err).Msg("Failed to record deployment")
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, result)
}

// handleGetParams returns the parameters in force
func (ws *WebServer) handleGetParams(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"params":    ws.vault.Params(),
		"timestamp": time.Now().UTC(),
	})
}

type paramsRequest struct {
	Caller string        `json:"caller"`
	Params engine.Params `json:"params"`
}

// handleUpdateParams replaces the parameter set and stores it as the new active version
func (ws *WebServer) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if !ws.decodeJSON(w, r, &req) {
		return
	}
	caller, ok := ws.address(w, "caller", req.Caller)
	if !ok {
		return
	}

	if err := ws.vault.UpdateParams(caller, req.Params); err != nil {
		ws.writeEngineError(w, "update params", err)
		return
	}

	response := map[string]interface{}{"params": ws.vault.Params(), "persisted": false}
	if ws.store != nil {
		version, err := ws.store.SaveParams(r.Context(), ws.vault.Params(), state.DefaultParamsConfig, true)
		if err != nil {
			ws.logger.Error().Err(err).Msg("Failed to persist vault parameters")
		} else {
			response["persisted"] = true
			response["version"] = version.Version
		}
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) requireStore(w http.ResponseWriter) bool {
	if ws.store == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "History store is not configured")
		return false
	}
	return true
}

func (ws *WebServer) epochParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	epoch, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid epoch ID")
		return 0, false
	}
	return epoch, true
}

func (ws *WebServer) address(w http.ResponseWriter, field, raw string) (sdk.AccAddress, bool) {
	addr, err := sdk.AccAddressFromBech32(raw)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s address", field))
		return nil, false
	}
	return addr, true
}

func (ws *WebServer) decodeJSON(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func limitParam(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrDeployTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrEpochAlreadySettled), errors.Is(err, engine.ErrEpochNotEnded):
		return http.StatusConflict
	case errors.Is(err, engine.ErrZeroAmount),
		errors.Is(err, engine.ErrEmptyAddress),
		errors.Is(err, engine.ErrBelowMinimum),
		errors.Is(err, engine.ErrInsufficientShares),
		errors.Is(err, engine.ErrInsufficientAllowance),
		errors.Is(err, engine.ErrInsufficientAssets),
		errors.Is(err, engine.ErrZeroAssetsForShares),
		errors.Is(err, engine.ErrNoStrategies),
		errors.Is(err, engine.ErrFeeTooHigh),
		errors.Is(err, engine.ErrInvalidReserve),
		errors.Is(err, engine.ErrInvalidEpochLength),
		errors.Is(err, engine.ErrInvalidConfig),
		errors.Is(err, engine.ErrNonPositiveDeployCap):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (ws *WebServer) writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		ws.logger.Error().Err(err).Str("operation", op).Msg("Vault operation failed")
	}

	var tooSoon *engine.DeployTooSoonError
	if errors.As(err, &tooSoon) {
		ws.writeJSONResponse(w, status, map[string]interface{}{
			"error":       true,
			"message":     err.Error(),
			"nextAllowed": tooSoon.NextAllowed.UTC(),
			"timestamp":   time.Now().UTC(),
		})
		return
	}
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		ws.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
