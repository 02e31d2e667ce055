package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/ledgerrelay/internal/commands"
	"github.com/agentworkforce/ledgerrelay/internal/discord"
	"github.com/agentworkforce/ledgerrelay/internal/httpapi"
	"github.com/agentworkforce/ledgerrelay/internal/poller"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway session, the poller and the optional status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, log.Default())
	},
}

func serve(ctx context.Context, logger *log.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withEngine(); err != nil {
		return err
	}

	router := commands.NewRouter(commands.Options{
		Prefix:   cfg.CommandPrefix,
		GuildID:  cfg.GuildID,
		Replier:  a.discord,
		Lister:   a.engine,
		Renderer: a.renderer,
		Logger:   logger,
	})
	session := discord.NewSession(discord.SessionOptions{
		Token:   cfg.DiscordToken,
		Handler: router.Handle,
		Logger:  logger,
	})
	poll := poller.New(a.engine, poller.Options{
		Interval: cfg.PollInterval,
		Jitter:   cfg.PollJitter,
		Ready:    session.Ready(),
		Logger:   logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- session.Run(runCtx) }()
	go func() { errs <- poll.Run(runCtx) }()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.NewServerWithConfig(a.engine, httpapi.ServerConfig{
				JWTSecret:       cfg.JWTSecret,
				RateLimitMax:    cfg.RateLimitMax,
				RateLimitWindow: cfg.RateLimitWindow,
				Trigger:         poll.Trigger,
				Logger:          logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Printf("status api listening on %s", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("status api failed: %v", err)
			}
		}()
	}

	logger.Printf("ledgerrelay started: sheet %s range %s, state %s, every %s", cfg.SheetID, a.source.Range(), cfg.StateDSN, cfg.PollInterval)

	var runErr error
	pending := 2
	select {
	case <-ctx.Done():
		logger.Printf("shutting down")
	case runErr = <-errs:
		pending--
		logger.Printf("stopping: %v", runErr)
	}
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("status api shutdown: %v", err)
		}
	}
	// The poller returns only after an in-flight pass has finished.
	for ; pending > 0; pending-- {
		<-errs
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
