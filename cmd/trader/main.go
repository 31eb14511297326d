package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rajchodisetti/options-trader/internal/alerts"
	"github.com/Rajchodisetti/options-trader/internal/broker"
	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/events"
	"github.com/Rajchodisetti/options-trader/internal/executor"
	"github.com/Rajchodisetti/options-trader/internal/exits"
	"github.com/Rajchodisetti/options-trader/internal/observ"
	"github.com/Rajchodisetti/options-trader/internal/options"
	"github.com/Rajchodisetti/options-trader/internal/recovery"
	"github.com/Rajchodisetti/options-trader/internal/risk"
	"github.com/Rajchodisetti/options-trader/internal/schedule"
	"github.com/Rajchodisetti/options-trader/internal/trader"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		httpAddr   = flag.String("http", ":8090", "address for metrics and status endpoints")
		signals    = flag.String("signals", "", "comma-separated seed signals, e.g. AAPL:LONG,NVDA:SHORT")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	observ.SetLevel(cfg.LogLevel)
	observ.Log("starting", map[string]any{
		"mode": cfg.Execution.Mode, "broker": cfg.Broker.Adapter, "http": *httpAddr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := broker.New(cfg.Broker)
	if err != nil {
		observ.Error("broker_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if err := b.Connect(ctx); err != nil {
		observ.Error("broker_connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer b.Disconnect()

	clock, err := schedule.NewClock(cfg.Schedule, nil)
	if err != nil {
		observ.Error("clock_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	notifier := alerts.NewWebhook(cfg.Alerts, nil)
	bus := events.New()
	handler := recovery.NewHandler(cfg.Errors, notifier, nil)
	riskMgr := risk.NewManager(cfg.Risk, b, notifier, nil)
	exec := executor.New(cfg.Execution, b, notifier, bus, clock)
	sched := schedule.NewScheduler(clock, cfg.Schedule)

	t := trader.New(cfg, trader.Deps{
		Broker:   b,
		Selector: options.NewSelector(cfg.Options, nil),
		Risk:     riskMgr,
		Executor: exec,
		Exits:    exits.NewManager(cfg.Exits),
		Handler:  handler,
		Notifier: notifier,
		Bus:      bus,
		Sched:    sched,
		Clock:    clock,
	})

	for _, s := range parseSignals(*signals) {
		t.Submit(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.Health())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(t.Status())
	})
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var sig options.TradeSignal
		if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if sig.Symbol == "" || (sig.Direction != options.Long && sig.Direction != options.Short) {
			http.Error(w, "need symbol and direction LONG|SHORT", http.StatusBadRequest)
			return
		}
		if sig.Timestamp.IsZero() {
			sig.Timestamp = time.Now()
		}
		if !t.Submit(sig) {
			http.Error(w, "signal queue full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Error("http_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	go sched.Run(ctx)
	t.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	observ.Log("stopped", nil)
}

func parseSignals(raw string) []options.TradeSignal {
	var out []options.TradeSignal
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			observ.Warn("bad_seed_signal", map[string]any{"value": part})
			continue
		}
		dir := options.Direction(strings.ToUpper(fields[1]))
		if dir != options.Long && dir != options.Short {
			observ.Warn("bad_seed_signal", map[string]any{"value": part})
			continue
		}
		out = append(out, options.TradeSignal{
			Symbol:    strings.ToUpper(fields[0]),
			Direction: dir,
			Timestamp: time.Now(),
		})
	}
	return out
}
