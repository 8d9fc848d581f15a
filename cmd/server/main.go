package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/CallRelay/internal/adapters/auth"
	router "github.com/dkeye/CallRelay/internal/adapters/http"
	"github.com/dkeye/CallRelay/internal/adapters/rtc"
	ws "github.com/dkeye/CallRelay/internal/adapters/signal"
	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/app/orch"
	"github.com/dkeye/CallRelay/internal/config"
	"github.com/dkeye/CallRelay/internal/metrics"
	"github.com/dkeye/CallRelay/internal/storage/calllog"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)
	// Only the log level is hot-reloadable; everything else needs a restart.
	loader.Watch(func(next *config.Config) {
		applyLogLevel(next.LogLevel)
	})

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := calllog.Open(ctx, cfg.CallLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("call log close")
		}
	}()

	iceServers, err := rtc.ICEServers(cfg.ICEServers)
	if err != nil {
		return err
	}

	var verifier *auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		if verifier, err = auth.NewVerifier(cfg.Auth); err != nil {
			return err
		}
	}

	m := metrics.New()
	presence := app.NewPresence()
	ledger := app.NewLedger(app.LedgerConfig{
		RingTimeout:  cfg.Sweep.RingTimeout,
		Retention:    cfg.Sweep.Retention,
		JournalQueue: cfg.CallLog.Queue,
		WriteTimeout: cfg.CallLog.WriteTimeout,
	}, presence, store)

	o := &orch.Orchestrator{
		Presence: presence,
		Ledger:   ledger,
		Policy:   app.SimplePolicy{},
		Metrics:  m,
	}
	ctl := ws.NewSignalWSController(o, m, ws.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SendBuffer:     cfg.SendBuffer,
		CallRateLimit:  cfg.RateLimit.Calls,
		CallRateWindow: cfg.RateLimit.Window,
	})
	sweeper := &app.Sweeper{
		Ledger:   ledger,
		Interval: cfg.Sweep.Interval,
		OnSweep:  o.OnSweep,
		Tick:     ctl.Housekeep,
	}

	// Websocket connections live until gctx is done.
	g, gctx := errgroup.WithContext(ctx)
	r := router.SetupRouter(gctx, cfg, router.Deps{
		Orch:       o,
		Signal:     ctl,
		Verifier:   verifier,
		Metrics:    m,
		ICEServers: iceServers,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("CallRelay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := ctl.Wait(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("signal connections still open")
		}
		if err := ledger.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("call log flush incomplete")
		}
		presence.Clear()
		return nil
	})
	return g.Wait()
}

func setupLogger(cfg *config.Config) {
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	applyLogLevel(cfg.LogLevel)
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Info().Str("level", lvl.String()).Msg("log level set")
}
