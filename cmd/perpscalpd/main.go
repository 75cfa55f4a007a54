// Command perpscalpd is the engine's entrypoint: load config, wire the
// exchange adapter and every pipeline component, serve /healthz and
// /metrics, and run the periodic decision scan until signaled to stop.
//
// Flags:
//
//	-config    path to the YAML config file (default config.yaml)
//	-env       optional .env file layered in before config (default .env)
//	-state     position-registry state file (default data/positions.json)
//	-journal   CSV journal directory (default data/journal)
//	-equity    starting equity in USD: seeds the paper exchange and is the equity the engine sizes and gates against with any venue
//	-addr      HTTP listen address for /healthz and /metrics
//	-venue     exchange adapter: paper (default) or okx
//	-rest-base REST API root, used only with -venue=okx
//	-ws-url    streaming root, used only with -venue=okx
//
// -venue=okx reads OKX_API_KEY, OKX_API_SECRET and OKX_API_PASSPHRASE from
// the environment; it refuses to start without them.
//
// Example:
//
//	go run ./cmd/perpscalpd -config config.yaml -addr :9090
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krivonosoff161/perpscalp/internal/adapter"
	"github.com/krivonosoff161/perpscalp/internal/adapter/paper"
	"github.com/krivonosoff161/perpscalp/internal/adapter/rest"
	"github.com/krivonosoff161/perpscalp/internal/adapter/ws"
	"github.com/krivonosoff161/perpscalp/internal/config"
	"github.com/krivonosoff161/perpscalp/internal/domain"
	"github.com/krivonosoff161/perpscalp/internal/engine"
	"github.com/krivonosoff161/perpscalp/internal/journal"
	"github.com/krivonosoff161/perpscalp/internal/logging"
	"github.com/krivonosoff161/perpscalp/internal/position"
	"github.com/krivonosoff161/perpscalp/internal/reconcile"
)

func main() {
	var configPath, envPath, statePath, journalDir, addr, venue, restBase, wsURL string
	var startingEquity float64
	flag.StringVar(&configPath, "config", "config.yaml", "Path to YAML config")
	flag.StringVar(&envPath, "env", ".env", "Optional .env file layered before config")
	flag.StringVar(&statePath, "state", "data/positions.json", "Position registry state file")
	flag.StringVar(&journalDir, "journal", "data/journal", "CSV journal directory")
	flag.StringVar(&addr, "addr", ":9090", "HTTP listen address for /healthz and /metrics")
	flag.StringVar(&venue, "venue", "paper", "Exchange adapter: paper or okx")
	flag.StringVar(&restBase, "rest-base", "https://www.okx.com", "REST API root for -venue=okx")
	flag.StringVar(&wsURL, "ws-url", "wss://ws.okx.com:8443/ws/v5/public", "Streaming root for -venue=okx")
	flag.Float64Var(&startingEquity, "equity", 10000, "Starting paper equity in USD")
	flag.Parse()

	log := logging.Init(logging.Options{Pretty: os.Getenv("ENV") != "production"})

	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if position.ShouldFatalNoStateMount(statePath) {
		log.Fatal().Str("state", statePath).Msg("state file directory does not exist; refusing to start with an unmounted volume")
	}

	reg := position.NewRegistry(statePath)
	if err := reg.Load(); err != nil {
		log.Fatal().Err(err).Msg("load position state")
	}

	jr, err := journal.New(journalDir)
	if err != nil {
		log.Fatal().Err(err).Msg("init journal")
	}

	var restClient *rest.Client
	var streamer adapter.Streamer
	equity := startingEquity

	if venue == "okx" {
		creds := rest.Credentials{
			APIKey: os.Getenv("OKX_API_KEY"), APISecret: os.Getenv("OKX_API_SECRET"),
			Passphrase: os.Getenv("OKX_API_PASSPHRASE"),
		}
		if creds.APIKey == "" {
			log.Fatal().Msg("OKX_API_KEY/OKX_API_SECRET/OKX_API_PASSPHRASE must be set for -venue=okx")
		}
		restClient = rest.New("okx", restBase, creds, log)
		streamer = ws.New(wsURL, log)
	}

	symbols := resolveSymbols(context.Background(), restClient, cfg.Trading.Symbols, log)

	var ex adapter.Exchange
	if restClient != nil {
		ex = restClient
	} else {
		ex = paper.New(decimal.NewFromFloat(startingEquity), symbols)
	}

	eng := engine.New(cfg, ex, symbols, reg, jr, log, func() float64 { return equity })

	rw := reconcile.New(ex, reg, reconcile.DefaultConfig(), log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info().Str("addr", addr).Msg("serving /healthz and /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go rw.Run(ctx)
	if streamer != nil {
		go runIngestLoop(ctx, eng, streamer, cfg.Trading.Symbols, log)
	}
	runScanLoop(ctx, eng, reg, cfg.CheckInterval(), log)

	if err := reg.Save(); err != nil {
		log.Error().Err(err).Msg("save position state on shutdown")
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// runScanLoop drives Engine.ScanAll on cfg.Scalping.check_interval until
// ctx is canceled, persisting position state after every cycle so a crash
// between scans loses at most one interval of state.
func runScanLoop(ctx context.Context, eng *engine.Engine, reg *position.Registry, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.ScanAll(ctx); err != nil {
				log.Error().Err(err).Msg("decision scan")
				continue
			}
			if err := reg.Save(); err != nil {
				log.Error().Err(err).Msg("save position state")
			}
		}
	}
}

// runIngestLoop feeds every normalized push from streamer into the engine
// until ctx is cancelled, logging (not fataling) stream errors since a
// dropped connection is retried transparently by the streamer itself.
func runIngestLoop(ctx context.Context, eng *engine.Engine, streamer adapter.Streamer, symbols []string, log zerolog.Logger) {
	events, errc := streamer.Subscribe(ctx, symbols)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errc:
			if !ok {
				continue
			}
			log.Warn().Err(err).Msg("stream error")
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case adapter.StreamTick:
				eng.OnTick(ev.Tick)
			case adapter.StreamBar:
				eng.OnBar(ev.Symbol, ev.Bar)
			case adapter.StreamBook:
				eng.OnBook(ev.Symbol, ev.Book)
			case adapter.StreamFunding:
				eng.OnFunding(ev.Symbol, ev.Funding)
			}
		}
	}
}

// resolveSymbols fetches live instrument specs for each configured symbol
// when a REST client is wired, falling back to a conservative guess for
// paper mode and for any symbol the venue rejects (e.g. name typos should
// surface as rejected orders, not a dead start).
func resolveSymbols(ctx context.Context, restClient *rest.Client, names []string, log zerolog.Logger) []domain.Symbol {
	symbols := make([]domain.Symbol, 0, len(names))
	for _, name := range names {
		if restClient != nil {
			if det, err := restClient.GetInstrumentDetails(ctx, name); err == nil {
				symbols = append(symbols, det.Symbol)
				continue
			} else {
				log.Warn().Err(err).Str("symbol", name).Msg("instrument lookup failed; using fallback spec")
			}
		}
		symbols = append(symbols, defaultSymbolSpec(name))
	}
	return symbols
}

func defaultSymbolSpec(name string) domain.Symbol {
	return domain.Symbol{
		Name:                name,
		ContractValue:       decimal.NewFromInt(1),
		LotSize:             decimal.NewFromFloat(0.001),
		TickSize:            decimal.NewFromFloat(0.01),
		MinSize:             decimal.NewFromFloat(0.001),
		MaxLeverage:         50,
		AdmissibleLeverages: []int{1, 2, 3, 5, 10, 20, 50},
	}
}
