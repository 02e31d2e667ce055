// Package commands answers prefixed chat commands such as !accounting.
package commands

import (
	"context"
	"strings"

	"github.com/agentworkforce/ledgerrelay/internal/discord"
	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/notify"
	"github.com/agentworkforce/ledgerrelay/internal/render"
)

const DefaultPrefix = "!"

type Replier interface {
	CreateChannelMessage(ctx context.Context, channelID string, msg notify.Message) (string, error)
}

// Lister returns the current ledger rows, bypassing the snapshot.
type Lister interface {
	Listing(ctx context.Context) ([]ledger.Row, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Prefix string
	// GuildID restricts commands to one guild when set.
	GuildID  string
	Replier  Replier
	Lister   Lister
	Renderer *render.Renderer
	Logger   Logger
}

type handlerFunc func(ctx context.Context, event discord.MessageEvent) error

type Router struct {
	prefix   string
	guildID  string
	replier  Replier
	lister   Lister
	renderer *render.Renderer
	logger   Logger
	handlers map[string]handlerFunc
}

func NewRouter(opts Options) *Router {
	r := &Router{
		prefix:   opts.Prefix,
		guildID:  strings.TrimSpace(opts.GuildID),
		replier:  opts.Replier,
		lister:   opts.Lister,
		renderer: opts.Renderer,
		logger:   opts.Logger,
	}
	if r.prefix == "" {
		r.prefix = DefaultPrefix
	}
	if r.renderer == nil {
		r.renderer = render.New(ledger.DefaultLabels())
	}
	r.handlers = map[string]handlerFunc{
		"accounting": r.accounting,
		"test":       r.liveness,
	}
	return r
}

// Handle is a discord.MessageHandler.
func (r *Router) Handle(ctx context.Context, event discord.MessageEvent) {
	name, ok := r.match(event)
	if !ok {
		return
	}
	handler, ok := r.handlers[name]
	if !ok {
		return
	}
	r.logf("command %s%s from %s in %s", r.prefix, name, event.Author.ID, event.ChannelID)
	if err := handler(ctx, event); err != nil {
		r.logf("command %s%s failed: %v", r.prefix, name, err)
	}
}

func (r *Router) match(event discord.MessageEvent) (string, bool) {
	if event.Author.Bot {
		return "", false
	}
	if r.guildID != "" && event.GuildID != r.guildID {
		return "", false
	}
	content := strings.TrimSpace(event.Content)
	if !strings.HasPrefix(content, r.prefix) {
		return "", false
	}
	fields := strings.Fields(strings.TrimPrefix(content, r.prefix))
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

func (r *Router) accounting(ctx context.Context, event discord.MessageEvent) error {
	rows, err := r.lister.Listing(ctx)
	if err != nil {
		r.logf("listing for %s failed: %v", event.ChannelID, err)
		_, replyErr := r.replier.CreateChannelMessage(ctx, event.ChannelID, r.renderer.ReadFailure())
		return replyErr
	}
	for _, msg := range r.renderer.Listing(rows) {
		if _, err := r.replier.CreateChannelMessage(ctx, event.ChannelID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) liveness(ctx context.Context, event discord.MessageEvent) error {
	_, err := r.replier.CreateChannelMessage(ctx, event.ChannelID, r.renderer.Liveness())
	return err
}

func (r *Router) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
