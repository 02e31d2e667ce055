package main

import (
	"fmt"
	"log"

	"github.com/agentworkforce/ledgerrelay/internal/config"
	"github.com/agentworkforce/ledgerrelay/internal/discord"
	"github.com/agentworkforce/ledgerrelay/internal/events"
	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/reconcile"
	"github.com/agentworkforce/ledgerrelay/internal/render"
	"github.com/agentworkforce/ledgerrelay/internal/sheets"
	"github.com/agentworkforce/ledgerrelay/internal/snapshot"
)

// app holds the wired components one command needs. Fields a command does
// not ask for stay nil.
type app struct {
	cfg       *config.Config
	logger    *log.Logger
	profile   ledger.Profile
	renderer  *render.Renderer
	source    *sheets.RowSource
	store     snapshot.Store
	discord   *discord.Client
	publisher events.Publisher
	engine    *reconcile.Engine
}

func newApp(c *config.Config, logger *log.Logger) (*app, error) {
	profile, err := config.LoadProfile(c.ProfileFile)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      c,
		logger:   logger,
		profile:  profile,
		renderer: render.New(profile.Labels),
	}, nil
}

func (a *app) withSource() error {
	if err := a.cfg.RequireSheets(); err != nil {
		return err
	}
	client, err := sheets.NewClient(sheets.Options{
		BaseURL: a.cfg.SheetsBaseURL,
		APIKey:  a.cfg.SheetsAPIKey,
		Token:   a.cfg.SheetsToken,
	})
	if err != nil {
		return err
	}
	parser := ledger.NewParser(a.profile)
	parser.OnError = func(err *ledger.ParseError) {
		a.logger.Printf("skipping unparsable row: %v", err)
	}
	a.source = sheets.NewRowSource(client, parser, a.cfg.SheetID, a.cfg.SheetName, a.cfg.SheetRange)
	return nil
}

func (a *app) withStore() error {
	store, err := snapshot.BuildStoreFromDSN(a.cfg.StateDSN)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	a.store = store
	return nil
}

func (a *app) withDiscord() error {
	if err := a.cfg.RequireDiscord(); err != nil {
		return err
	}
	client, err := discord.NewClient(discord.ClientOptions{
		Token:     a.cfg.DiscordToken,
		ChannelID: a.cfg.ChannelID,
		BaseURL:   a.cfg.DiscordBaseURL,
	})
	if err != nil {
		return err
	}
	a.discord = client
	return nil
}

// withEngine wires source, store, notifier and publisher into one engine.
func (a *app) withEngine() error {
	for _, step := range []func() error{a.withSource, a.withStore, a.withDiscord} {
		if err := step(); err != nil {
			return err
		}
	}
	publisher, err := events.NewPublisher(a.cfg.NATSURL)
	if err != nil {
		a.logger.Printf("events disabled: %v", err)
		publisher = &events.NoopPublisher{}
	}
	a.publisher = publisher
	engine, err := reconcile.NewEngine(reconcile.Options{
		Source:       a.source,
		Store:        a.store,
		Notifier:     a.discord,
		Renderer:     a.renderer,
		Publisher:    a.publisher,
		Logger:       a.logger,
		FetchTimeout: a.cfg.FetchTimeout,
	})
	if err != nil {
		return err
	}
	a.engine = engine
	return nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Printf("close publisher: %v", err)
		}
	}
	if a.store != nil {
		if err := snapshot.Close(a.store); err != nil {
			a.logger.Printf("close snapshot store: %v", err)
		}
	}
}
