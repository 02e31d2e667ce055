// Package discord implements the chat side of the relay: a REST client
// that posts and edits channel messages, and a gateway session that
// reports readiness and delivers incoming messages.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/ledgerrelay/internal/notify"
	"github.com/agentworkforce/ledgerrelay/internal/restclient"
)

const DefaultAPIBaseURL = "https://discord.com/api/v10"

var ErrMissingToken = errors.New("discord: bot token required")

type ClientOptions struct {
	Token      string
	ChannelID  string
	BaseURL    string
	HTTPClient *http.Client
}

// Client posts to one default channel and implements notify.Notifier.
type Client struct {
	rest      *restclient.Client
	channelID string
}

func NewClient(opts ClientOptions) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	baseURL := opts.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Client{
		rest: restclient.New(baseURL, opts.HTTPClient,
			restclient.WithBearerToken("Bot", token),
			restclient.WithUserAgent("DiscordBot (https://github.com/agentworkforce/ledgerrelay, 1.0)"),
		),
		channelID: strings.TrimSpace(opts.ChannelID),
	}, nil
}

func (c *Client) CreateMessage(ctx context.Context, msg notify.Message) (string, error) {
	return c.CreateChannelMessage(ctx, c.channelID, msg)
}

func (c *Client) EditMessage(ctx context.Context, handle string, msg notify.Message) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", url.PathEscape(c.channelID), url.PathEscape(handle))
	if err := c.rest.DoJSON(ctx, http.MethodPatch, path, nil, toWire(msg), nil); err != nil {
		return sendError("edit", handle, err)
	}
	return nil
}

// CreateChannelMessage posts to an arbitrary channel, used for command
// replies.
func (c *Client) CreateChannelMessage(ctx context.Context, channelID string, msg notify.Message) (string, error) {
	if strings.TrimSpace(channelID) == "" {
		return "", &notify.SendError{Op: "create", Err: errors.New("channel id required")}
	}
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	var created struct {
		ID string `json:"id"`
	}
	if err := c.rest.DoJSON(ctx, http.MethodPost, path, nil, toWire(msg), &created); err != nil {
		return "", sendError("create", "", err)
	}
	return created.ID, nil
}

func sendError(op, handle string, err error) error {
	return &notify.SendError{Op: op, Handle: handle, StatusCode: restclient.StatusCode(err), Err: err}
}

type wireMessage struct {
	Content string      `json:"content,omitempty"`
	Embeds  []wireEmbed `json:"embeds"`
}

type wireEmbed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Color       int         `json:"color,omitempty"`
	Fields      []wireField `json:"fields,omitempty"`
	Footer      *wireFooter `json:"footer,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"`
}

type wireField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type wireFooter struct {
	Text string `json:"text"`
}

func toWire(msg notify.Message) wireMessage {
	out := wireMessage{Content: msg.Content, Embeds: make([]wireEmbed, 0, len(msg.Embeds))}
	for _, embed := range msg.Embeds {
		wire := wireEmbed{
			Title:       embed.Title,
			Description: embed.Description,
			Color:       embed.Color,
		}
		for _, field := range embed.Fields {
			wire.Fields = append(wire.Fields, wireField(field))
		}
		if embed.Footer != "" {
			wire.Footer = &wireFooter{Text: embed.Footer}
		}
		if !embed.Timestamp.IsZero() {
			wire.Timestamp = embed.Timestamp.UTC().Format(time.RFC3339)
		}
		out.Embeds = append(out.Embeds, wire)
	}
	return out
}
