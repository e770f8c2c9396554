package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rtoken/config"
	"rtoken/core"
	"rtoken/core/events"
	"rtoken/native/assets"
	"rtoken/native/backing"
	"rtoken/native/basket"
	"rtoken/native/oracle"
	"rtoken/native/token"
	"rtoken/observability"
	"rtoken/observability/logging"
	"rtoken/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	env := strings.TrimSpace(os.Getenv("RTOKEN_ENV"))
	if env == "" {
		env = strings.TrimSpace(cfg.Env)
	}
	logger := logging.Setup(cfg.Service, env, logging.Options{FilePath: cfg.LogFile, MaxSizeMB: 64, MaxBackups: 4})

	def, err := config.LoadBasket(cfg.BasketFile)
	if err != nil {
		logger.Error("failed to load basket definition", "path", cfg.BasketFile, "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		logger.Error("failed to open journal database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	journal, err := storage.NewJournal(db)
	if err != nil {
		logger.Error("failed to open journal", "error", err)
		os.Exit(1)
	}

	source := oracle.NewManualSource()
	prices := oracle.NewAggregator([]string{"manual"})
	prices.Register("manual", source)
	ledger := token.NewMemLedger()
	inst, err := core.New(core.Params{
		TokenSymbol:    cfg.TokenSymbol,
		StakeSymbol:    cfg.StakeSymbol,
		OracleErrorBps: cfg.OracleErrorBps,
		MaxSlippageBps: cfg.MaxSlippageBps,
		MinTradeVolume: cfg.MinVolume(),
		MaxTradeVolume: cfg.MaxVolume(),
		MeltShareBps:   cfg.MeltShareBps,
		RewardPeriod:   cfg.RewardPeriod.Duration,
		PriceTimeout:   cfg.PriceTimeout.Duration,
		PriceStaleness: cfg.PriceStaleness.Duration,
	}, ledger, prices)
	if err != nil {
		logger.Error("failed to build instance", "error", err)
		os.Exit(1)
	}
	inst.SetEmitter(&meteredEmitter{journal: journal, logger: logger})

	for _, spec := range def.Collateral {
		col := assets.Collateral{
			ID:                  spec.ID,
			Token:               spec.Token,
			TargetUnit:          spec.TargetUnit,
			DefaultThresholdBps: spec.DefaultThresholdBps,
		}
		if spec.Peg != "" {
			col.PegPrice, _ = config.ParseWad(spec.Peg)
		}
		if spec.DefaultDelay != "" {
			col.DefaultDelay, _ = time.ParseDuration(spec.DefaultDelay)
		}
		if err := inst.Registry().Register(col); err != nil {
			logger.Error("failed to register collateral", "id", spec.ID, "error", err)
			os.Exit(1)
		}
	}

	d := &daemon{cfg: cfg, def: def, inst: inst, source: source, ledger: ledger, logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: cfg.ListenAddress, Handler: d.router()}
	go func() {
		logger.Info("http listener started", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http listener failed", "error", err)
			stop()
		}
	}()

	d.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

type daemon struct {
	cfg      *config.Config
	def      *config.BasketDefinition
	inst     *core.Instance
	source   *oracle.ManualSource
	ledger   token.Ledger
	logger   *slog.Logger
	primeSet bool
}

// run drives the maintenance loop until the context is cancelled. The prime
// basket is installed lazily on the first cycle with usable prices; before
// that every cycle is a refresh-only pass.
func (d *daemon) run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.MaintenanceInterval.Duration)
	defer ticker.Stop()
	metrics := observability.Metrics()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			metrics.MaintainedTotal.Inc()
			if !d.primeSet {
				d.trySetPrime()
			}
			if err := d.inst.Maintain(now); err != nil {
				metrics.MaintainErrors.Inc()
				if errors.Is(err, backing.ErrBasketDisabled) {
					d.logger.Warn("basket disabled, awaiting repair")
				} else {
					d.logger.Error("maintenance failed", "error", err)
				}
			}
			metrics.BasketStatus.Set(float64(d.inst.Basket().Status()))
			metrics.BasketGen.Set(float64(d.inst.Basket().Generation()))
		}
	}
}

func (d *daemon) trySetPrime() {
	entries := make([]basket.PrimeEntry, 0, len(d.def.Prime))
	for _, weight := range d.def.Prime {
		qty, err := config.ParseWad(weight.Quantity)
		if err != nil {
			d.logger.Error("invalid prime quantity", "id", weight.ID, "error", err)
			return
		}
		entries = append(entries, basket.PrimeEntry{CollateralID: weight.ID, Quantity: qty})
	}
	if err := d.inst.Basket().SetPrime(entries, d.inst); err != nil {
		d.logger.Info("prime basket not yet installable", "error", err)
		return
	}
	d.primeSet = true
	d.logger.Info("prime basket installed", "generation", d.inst.Basket().Generation())
}

func (d *daemon) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", d.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/admin/price", d.handleSetPrice)
	return r
}

func (d *daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	reference, generation := d.inst.Basket().Reference()
	assetsOut := make([]string, 0, len(reference))
	for _, entry := range reference {
		assetsOut = append(assetsOut, entry.CollateralID)
	}
	payload := map[string]any{
		"status":     d.inst.Basket().Status().String(),
		"generation": generation,
		"reference":  assetsOut,
		"supply":     d.ledger.TotalSupply(d.cfg.TokenSymbol).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

type priceRequest struct {
	Asset     string `json:"asset"`
	Mid       string `json:"mid"`
	SpreadBps uint64 `json:"spreadBps"`
}

func (d *daemon) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mid, err := config.ParseWad(req.Mid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := d.source.Set(req.Asset, mid, req.SpreadBps, time.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// meteredEmitter forwards events to the journal, the metrics registry and the
// structured log.
type meteredEmitter struct {
	journal *storage.Journal
	logger  *slog.Logger
}

func (m *meteredEmitter) Emit(e events.Event) {
	m.journal.Emit(e)
	metrics := observability.Metrics()
	switch ev := e.(type) {
	case events.TradeStarted:
		metrics.TradesOpened.WithLabelValues(ev.Venue).Inc()
		m.logger.Info("trade started", "venue", ev.Venue, "sell", ev.Sell, "buy", ev.Buy,
			"sellAmt", ev.SellAmt.String(), "minBuyAmt", ev.MinBuyAmt.String())
	case events.TradeSettled:
		outcome := "filled"
		if ev.Expired {
			outcome = "expired"
		}
		metrics.TradesSettled.WithLabelValues(ev.Venue, outcome).Inc()
		m.logger.Info("trade settled", "venue", ev.Venue, "outcome", outcome)
	case events.MeltExecuted:
		metrics.MeltsExecuted.Inc()
		m.logger.Info("melt executed", "amount", ev.Amount.String(), "epoch", ev.Epoch)
	case events.BasketStatusChanged:
		m.logger.Info("basket status changed", "previous", ev.Previous, "current", ev.Current)
	}
}
