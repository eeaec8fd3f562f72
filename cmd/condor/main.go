// Command condor runs the 0DTE SPX iron condor trading loop: one entry per
// session, per-side exit monitoring, and session-end expiry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craig10e/tastytrade/internal/broker"
	"github.com/craig10e/tastytrade/internal/config"
	"github.com/craig10e/tastytrade/internal/dashboard"
	"github.com/craig10e/tastytrade/internal/marketdata"
	"github.com/craig10e/tastytrade/internal/orders"
	"github.com/craig10e/tastytrade/internal/retry"
	"github.com/craig10e/tastytrade/internal/storage"
	"github.com/craig10e/tastytrade/internal/strategy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Bot wires the trading loop's collaborators together.
type Bot struct {
	config   *config.Config
	broker   broker.Broker
	storage  storage.Interface
	cache    *marketdata.Cache
	stream   *marketdata.Stream
	monitor  *strategy.Monitor
	executor *orders.Executor
	logger   *log.Logger
	clock    func() time.Time

	// latch: one entry attempt per session, successful or not
	lastEntryAttempt time.Time
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[CONDOR] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting SPX condor bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bot, stream, dash, err := buildBot(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Startup failed: %v", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return stream.Run(ctx)
	})

	if dash != nil {
		group.Go(func() error {
			return dash.Start()
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return dash.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		return bot.Run(ctx)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Println("Bot stopped")
}

// buildBot constructs the broker client, storage, market-data stream, and
// the monitoring stack.
func buildBot(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Bot, *marketdata.Stream, *dashboard.Server, error) {
	client := broker.NewTastytradeClient(
		cfg.Broker.APIEndpoint,
		cfg.Broker.APIToken,
		cfg.Broker.AccountID,
		logger,
		brokerOptions(cfg)...,
	)
	brk := broker.NewCircuitBreakerBroker(client, broker.DefaultCircuitBreakerSettings())

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	// Verify connectivity before anything else.
	balanceCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	balance, err := brk.GetAccountBalance(balanceCtx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to brokerage: %w", err)
	}
	logger.Printf("Connected. Net liq $%.2f, buying power $%.2f",
		balance.NetLiquidatingValue, balance.DerivativeBuyingPower)

	creds, err := client.GetStreamerCredentials(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetching streamer credentials: %w", err)
	}
	streamURL := creds.URL
	if cfg.Broker.StreamURL != "" {
		streamURL = cfg.Broker.StreamURL
	}

	cache := marketdata.NewCache()
	stream := marketdata.NewStream(marketdata.StreamConfig{
		URL:    streamURL,
		Token:  creds.Token,
		Logger: logger,
	}, cache)

	manager := orders.NewManager(brk, logger)
	executor := orders.NewExecutor(brk, manager, logger, orders.DefaultExecutorConfig())
	closer := retry.NewClient(executor, logger)

	monitor := strategy.NewMonitor(strategy.MonitorConfig{
		ExitThreshold:    cfg.Strategy.Exit.Threshold,
		Confirmation:     cfg.GetExitConfirmation(),
		MaxCloseFailures: cfg.Strategy.Exit.MaxCloseFailures,
	}, cache, closer, logger)

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dashLogger.SetLevel(level)
		}
		dash = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, brk, dashLogger)
	}

	bot := &Bot{
		config:   cfg,
		broker:   brk,
		storage:  store,
		cache:    cache,
		stream:   stream,
		monitor:  monitor,
		executor: executor,
		logger:   logger,
		clock:    func() time.Time { return time.Now() },
	}
	return bot, stream, dash, nil
}

// brokerOptions translates broker config into client options.
func brokerOptions(cfg *config.Config) []broker.ClientOption {
	var opts []broker.ClientOption
	if cfg.Broker.PreviewOrders {
		opts = append(opts, broker.WithOrderPreview(cfg.Broker.PreviewOrders))
	}
	return opts
}

// Run reconciles the account once, then polls trading cycles until the
// context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cycle := NewTradingCycle(b)

	reconciler := NewReconciler(b.broker, b.storage, b.config, b.logger)
	if err := reconciler.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	// Subscribe quotes for anything we already track (fresh or recovered).
	for _, trade := range b.storage.GetActiveTrades() {
		cycle.subscribeTrade(trade)
	}

	ticker := time.NewTicker(b.config.GetPollInterval())
	defer ticker.Stop()

	cycle.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cycle.Run(ctx)
		}
	}
}
