package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ducle1408/futures-sentinel/internal/config"
	"github.com/ducle1408/futures-sentinel/internal/engine"
	boterrors "github.com/ducle1408/futures-sentinel/internal/errors"
	"github.com/ducle1408/futures-sentinel/internal/exchange"
	"github.com/ducle1408/futures-sentinel/internal/exchange/bybit"
	"github.com/ducle1408/futures-sentinel/internal/journal"
	"github.com/ducle1408/futures-sentinel/internal/logger"
	"github.com/ducle1408/futures-sentinel/internal/monitoring"
	"github.com/ducle1408/futures-sentinel/internal/notifications"
	"github.com/ducle1408/futures-sentinel/internal/position"
	"github.com/ducle1408/futures-sentinel/internal/regime"
	"github.com/ducle1408/futures-sentinel/internal/reporting"
	"github.com/ducle1408/futures-sentinel/internal/risk"
	"github.com/ducle1408/futures-sentinel/internal/scanner"
	"github.com/ducle1408/futures-sentinel/internal/state"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to TOML configuration file")
	logDir := flag.String("log-dir", "logs", "directory for log files")
	flag.Parse()

	if err := run(*configPath, *logDir); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath, logDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.NewLogger("sentinel", logDir)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	lg.WithConsole()
	defer lg.Close()

	reporting.PrintStartup(cfg)

	exch, err := buildExchange(cfg, lg)
	if err != nil {
		return err
	}

	var notifier notifications.Notifier = notifications.Nop{}
	if cfg.Notifications.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	} else {
		lg.Info("telegram notifications disabled (no token configured)")
	}

	store, err := state.NewStore(cfg.State.Dir)
	if err != nil {
		return fmt.Errorf("init state store: %w", err)
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.New(cfg.Journal.Dir)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
	}

	riskSt := risk.NewState(0, cfg.Risk.RecentOutcomeWindow)
	guard := risk.NewGuardrails(cfg.Risk, riskSt, lg)
	corr := risk.NewCorrelationTracker(cfg.Trading.KlineLimit)
	ledger := position.NewLedger(cfg.Position, lg)
	detector := regime.NewDetector(regime.DefaultDetectorConfig())
	cache := scanner.NewCache(cfg.Scheduler.OpportunityTTL())
	source := scanner.NewTrendMomentumSource(detector, scanner.DefaultTrendMomentumConfig())
	scan := scanner.NewScanner(exch, []scanner.SignalSource{source}, cache, cfg.Trading, lg)
	health := monitoring.NewHealthChecker()

	eng, err := engine.New(cfg, engine.Deps{
		Exchange: exch,
		RiskSt:   riskSt,
		Guard:    guard,
		Corr:     corr,
		Ledger:   ledger,
		Cache:    cache,
		Scanner:  scan,
		Detector: detector,
		Store:    store,
		Journal:  jnl,
		Health:   health,
		Notifier: notifier,
		Log:      lg,
	})
	if err != nil {
		return err
	}

	srv := serveMonitoring(cfg.Monitoring.ListenAddr, health, lg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := notifier.SendAlert("info", "controller starting"); err != nil {
		lg.Warning("startup notification failed: %v", err)
	}

	err = eng.Run(ctx)

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			lg.Warning("monitoring server shutdown: %v", serr)
		}
	}
	return err
}

func buildExchange(cfg *config.Config, lg *logger.Logger) (exchange.Exchange, error) {
	switch cfg.Exchange.Name {
	case "paper":
		lg.Info("using paper exchange")
		return exchange.NewPaperExchange(10000), nil
	case "bybit", "":
		return bybit.NewClient(cfg.Exchange, lg)
	default:
		return nil, boterrors.NewFatalError("main", "build_exchange",
			fmt.Sprintf("unknown exchange %q", cfg.Exchange.Name))
	}
}

func serveMonitoring(addr string, health *monitoring.HealthChecker, lg *logger.Logger) *http.Server {
	if addr == "" {
		lg.Info("monitoring listener disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/health", health)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		lg.Info("monitoring listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("monitoring server: %v", err)
		}
	}()
	return srv
}
