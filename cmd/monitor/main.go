// Package main runs the trading monitor as a unified service:
// - Monitor loop (scheduled): price fetch, emergency check, decision, dispatch
// - Reconciliation (scheduled): phantom position detection and cleanup
// - HTTP surface: health, status, metrics, and manual tick/reconcile triggers
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"solana-bump-monitor/internal/emergency"
	"solana-bump-monitor/internal/engine"
	"solana-bump-monitor/internal/executor"
	"solana-bump-monitor/internal/observability"
	"solana-bump-monitor/internal/oracle"
	"solana-bump-monitor/internal/reconcile"
	"solana-bump-monitor/internal/scheduler"
	"solana-bump-monitor/internal/solana"
	"solana-bump-monitor/internal/storage"
	chstore "solana-bump-monitor/internal/storage/clickhouse"
	"solana-bump-monitor/internal/storage/memory"
	"solana-bump-monitor/internal/storage/migrations"
	pgstore "solana-bump-monitor/internal/storage/postgres"
	"solana-bump-monitor/internal/wallet"
)

// Server holds all components of the unified service.
type Server struct {
	reconciler  *reconcile.Engine
	scheduler   *scheduler.Driver
	tickEvery   time.Duration
	reconEvery  time.Duration
	reconApply  bool
	logger      *log.Logger
	serverStart time.Time

	mu            sync.Mutex
	lastTick      time.Time
	lastReconcile time.Time
	tickRuns      int
	reconcileRuns int
}

// allStores holds all storage implementations.
type allStores struct {
	sessionStore   storage.SessionStore
	positionStore  storage.PositionStore
	tradeStore     storage.TradeStore
	emergencyStore storage.EmergencyOrderStore
	priceTickStore storage.PriceTickStore
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional tick log)")
	swapURL := flag.String("swap-url", os.Getenv("SWAP_SERVICE_URL"), "Swap/broadcast service base URL")
	signerURL := flag.String("signer-url", os.Getenv("SIGNER_SERVICE_URL"), "Signing service base URL")
	streamURL := flag.String("stream-url", os.Getenv("TRADE_STREAM_URL"), "Trade stream WebSocket URL (optional tertiary price source)")
	primaryURL := flag.String("price-primary-url", "", "Primary price provider base URL override")
	secondaryURL := flag.String("price-secondary-url", "", "Secondary price provider base URL override")
	tickInterval := flag.Duration("tick-interval", 10*time.Second, "Monitor loop interval")
	reconInterval := flag.Duration("reconcile-interval", 15*time.Minute, "Reconciliation interval")
	reconApply := flag.Bool("reconcile-apply", false, "Clean phantom positions on the scheduled reconciliation (default report-only)")
	maxConcurrent := flag.Int("max-concurrent", scheduler.DefaultMaxConcurrent, "Max sessions processed concurrently per tick")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	migrate := flag.Bool("migrate", true, "Run database migrations on startup")
	httpAddr := flag.String("http-addr", ":8080", "HTTP address for health/status/metrics/triggers")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *swapURL == "" {
		logger.Fatal("--swap-url is required")
	}
	if *signerURL == "" {
		logger.Fatal("--signer-url is required")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, *migrate)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Price oracle: DexScreener primary, Jupiter secondary, trade stream
	// tap as last resort.
	var stream *oracle.TradeStream
	if *streamURL != "" {
		stream, err = oracle.NewTradeStream(ctx, *streamURL,
			nil, log.New(os.Stdout, "[stream] ", log.LstdFlags))
		if err != nil {
			logger.Printf("Trade stream unavailable, continuing without it: %v", err)
			stream = nil
		} else {
			defer stream.Close()
		}
	}
	oracleOpts := oracle.Options{
		Primary:   oracle.NewDexScreener(*primaryURL),
		Secondary: oracle.NewJupiter(*secondaryURL),
		Logger:    log.New(os.Stdout, "[oracle] ", log.LstdFlags),
	}
	if stream != nil {
		oracleOpts.Stream = stream
	}
	prices := oracle.New(oracleOpts)

	// Components
	rpcClient := solana.NewHTTPClient(*rpcEndpoint)
	signers := wallet.NewRemoteResolver(*signerURL)
	swapService := executor.NewSwapClient(*swapURL)

	dispatcher := executor.New(executor.Options{
		Swap:      swapService,
		Sessions:  stores.sessionStore,
		Positions: stores.positionStore,
		Trades:    stores.tradeStore,
		Signers:   signers,
		Logger:    log.New(os.Stdout, "[executor] ", log.LstdFlags),
	})
	decisions := engine.New(engine.Options{
		Positions: stores.positionStore,
		Trades:    stores.tradeStore,
		Logger:    log.New(os.Stdout, "[engine] ", log.LstdFlags),
	})
	monitor := emergency.New(emergency.Options{
		Orders:     stores.emergencyStore,
		Positions:  stores.positionStore,
		Dispatcher: dispatcher,
		Logger:     log.New(os.Stdout, "[emergency] ", log.LstdFlags),
	})
	driver := scheduler.New(scheduler.Options{
		Sessions:      stores.sessionStore,
		Positions:     stores.positionStore,
		Ticks:         stores.priceTickStore,
		Oracle:        &streamSubscribingOracle{prices: prices, stream: stream},
		Engine:        decisions,
		Dispatcher:    dispatcher,
		Emergency:     monitor,
		Logger:        log.New(os.Stdout, "[scheduler] ", log.LstdFlags),
		MaxConcurrent: *maxConcurrent,
	})
	reconciler := reconcile.New(reconcile.Options{
		Sessions:  stores.sessionStore,
		Positions: stores.positionStore,
		Balances:  rpcClient,
		Logger:    log.New(os.Stdout, "[reconcile] ", log.LstdFlags),
	})

	server := &Server{
		reconciler:  reconciler,
		scheduler:   driver,
		tickEvery:   *tickInterval,
		reconEvery:  *reconInterval,
		reconApply:  *reconApply,
		logger:      logger,
		serverStart: time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*httpAddr)

	// Run the schedulers
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// streamSubscribingOracle resolves prices and lazily subscribes the trade
// stream to every mint the scheduler asks about.
type streamSubscribingOracle struct {
	prices *oracle.Client
	stream *oracle.TradeStream

	mu   sync.Mutex
	seen map[string]bool
}

func (o *streamSubscribingOracle) GetPrice(ctx context.Context, mint string) (float64, string, bool) {
	if o.stream != nil {
		o.mu.Lock()
		if o.seen == nil {
			o.seen = make(map[string]bool)
		}
		first := !o.seen[mint]
		o.seen[mint] = true
		o.mu.Unlock()
		if first {
			// Future misses can fall back to the stream cache.
			_ = o.stream.Subscribe(mint)
		}
	}
	return o.prices.GetPrice(ctx, mint)
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory, migrate bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			sessionStore:   memory.NewSessionStore(),
			positionStore:  memory.NewPositionStore(),
			tradeStore:     memory.NewTradeStore(),
			emergencyStore: memory.NewEmergencyOrderStore(),
			priceTickStore: memory.NewPriceTickStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL (transactional state)
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	stores := &allStores{
		sessionStore:   pgstore.NewSessionStore(pool),
		positionStore:  pgstore.NewPositionStore(pool),
		tradeStore:     pgstore.NewTradeStore(pool),
		emergencyStore: pgstore.NewEmergencyOrderStore(pool),
	}

	// ClickHouse (tick analytics log) is optional.
	cleanup := func() { pool.Close() }
	if clickhouseDSN != "" {
		chConn, err := chstore.NewConn(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if migrate {
			if err := migrations.RunClickhouseMigrations(ctx, chConn); err != nil {
				chConn.Close()
				pool.Close()
				return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
			}
		}
		stores.priceTickStore = chstore.NewPriceTickStore(chConn)
		cleanup = func() {
			chConn.Close()
			pool.Close()
		}
	}

	return stores, cleanup, nil
}

// Run starts both schedulers and blocks until cancellation.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Printf("Monitor loop every %s, reconciliation every %s (apply=%v)",
		s.tickEvery, s.reconEvery, s.reconApply)

	errCh := make(chan error, 2)

	go func() {
		if err := s.runTickScheduler(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("tick scheduler: %w", err)
		}
	}()
	go func() {
		if err := s.runReconcileScheduler(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("reconcile scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) runTickScheduler(ctx context.Context) error {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			summary, err := s.scheduler.Tick(ctx)
			if err != nil {
				s.logger.Printf("Tick failed: %v", err)
				continue
			}
			s.mu.Lock()
			s.lastTick = summary.Timestamp
			s.tickRuns++
			s.mu.Unlock()
		}
	}
}

func (s *Server) runReconcileScheduler(ctx context.Context) error {
	ticker := time.NewTicker(s.reconEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.reconcileOnce(ctx, s.reconApply)
		}
	}
}

func (s *Server) reconcileOnce(ctx context.Context, apply bool) *reconcile.Report {
	start := time.Now()
	report, err := s.reconciler.Run(ctx, apply)
	if err != nil {
		s.logger.Printf("Reconciliation failed: %v", err)
		return nil
	}

	mode := "dry_run"
	if apply {
		mode = "apply"
	}
	observability.RecordReconcileRun(mode, report.PhantomCount, report.CleanedCount, time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulReconcile.SetToCurrentTime()

	s.logger.Printf("Reconciled %d positions: %d valid, %d phantom, %d unknown, %d cleaned",
		report.TotalHolding, report.ValidCount, report.PhantomCount, report.UnknownCount, report.CleanedCount)

	s.mu.Lock()
	s.lastReconcile = report.Timestamp
	s.reconcileRuns++
	s.mu.Unlock()
	return report
}

// startHTTPServer serves health, status, metrics, and manual triggers.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tick", s.handleTick)
	mux.HandleFunc("/reconcile", s.handleReconcile)

	s.logger.Printf("HTTP server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := map[string]interface{}{
		"uptimeSeconds": int(time.Since(s.serverStart).Seconds()),
		"lastTick":      s.lastTick,
		"tickRuns":      s.tickRuns,
		"lastReconcile": s.lastReconcile,
		"reconcileRuns": s.reconcileRuns,
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleTick triggers one monitor pass immediately.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := s.scheduler.Tick(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.lastTick = summary.Timestamp
	s.tickRuns++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// handleReconcile triggers one reconciliation pass. The body may carry
// {"dryRun": false} to clean phantoms; the default is report-only.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := struct {
		DryRun *bool `json:"dryRun"`
	}{}
	if r.Body != nil {
		// An empty body means defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	report := s.reconcileOnce(r.Context(), !dryRun)
	if report == nil {
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
