package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentMessageContent
)

const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

const gatewayReadLimit = 8 << 20

var (
	ErrAuthenticationFailed = errors.New("discord: gateway authentication failed")
	ErrDisallowedIntents    = errors.New("discord: gateway intents not allowed")
	errReconnectRequested   = errors.New("gateway requested reconnect")
	errHeartbeatTimeout     = errors.New("gateway heartbeat not acknowledged")
)

type Logger interface {
	Printf(format string, args ...any)
}

type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// MessageEvent is the subset of MESSAGE_CREATE the relay consumes.
type MessageEvent struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Author    Author `json:"author"`
}

type MessageHandler func(ctx context.Context, event MessageEvent)

type SessionOptions struct {
	Token      string
	Intents    int
	GatewayURL string
	Handler    MessageHandler
	Logger     Logger
	// MinBackoff and MaxBackoff bound the delay between reconnects.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Session keeps a gateway connection open until its context ends.
type Session struct {
	token      string
	intents    int
	gatewayURL string
	handler    MessageHandler
	logger     Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	seq    *int64
	userID string
}

func NewSession(opts SessionOptions) *Session {
	s := &Session{
		token:      opts.Token,
		intents:    opts.Intents,
		gatewayURL: opts.GatewayURL,
		handler:    opts.Handler,
		logger:     opts.Logger,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		ready:      make(chan struct{}),
	}
	if s.intents == 0 {
		s.intents = DefaultIntents
	}
	if s.gatewayURL == "" {
		s.gatewayURL = DefaultGatewayURL
	}
	if s.minBackoff <= 0 {
		s.minBackoff = time.Second
	}
	if s.maxBackoff <= 0 {
		s.maxBackoff = time.Minute
	}
	return s
}

// Ready is closed after the first READY dispatch and stays closed across
// reconnects.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// UserID is the bot's own user ID once READY has been received.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Run connects and reconnects until ctx is done or the gateway rejects
// the credentials.
func (s *Session) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		connected, err := s.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthenticationFailed) || errors.Is(err, ErrDisallowedIntents) {
			return err
		}
		if connected {
			backoff = s.minBackoff
		}
		s.logf("gateway disconnected: %v; reconnecting in %s", err, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

type gatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

type outgoingPayload struct {
	Op   int `json:"op"`
	Data any `json:"d"`
}

// connect runs one connection. connected reports whether READY was
// reached, which resets the reconnect backoff.
func (s *Session) connect(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, s.gatewayURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(gatewayReadLimit)

	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var hello gatewayPayload
	if err := wsjson.Read(connCtx, conn, &hello); err != nil {
		return false, s.classifyClose(err)
	}
	if hello.Op != opHello {
		return false, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.Data, &helloData); err != nil || helloData.HeartbeatInterval <= 0 {
		return false, fmt.Errorf("invalid hello payload: %s", string(hello.Data))
	}

	if err := wsjson.Write(connCtx, conn, outgoingPayload{Op: opIdentify, Data: s.identifyData()}); err != nil {
		return false, fmt.Errorf("identify: %w", err)
	}

	acks := make(chan struct{}, 1)
	go s.heartbeat(connCtx, cancel, conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond, acks)

	for {
		var payload gatewayPayload
		if err := wsjson.Read(connCtx, conn, &payload); err != nil {
			if cause := context.Cause(connCtx); cause != nil && ctx.Err() == nil {
				return connected, cause
			}
			return connected, s.classifyClose(err)
		}
		if payload.Seq != nil {
			s.mu.Lock()
			s.seq = payload.Seq
			s.mu.Unlock()
		}
		switch payload.Op {
		case opDispatch:
			if s.dispatch(connCtx, payload) {
				connected = true
			}
		case opHeartbeat:
			if err := s.sendHeartbeat(connCtx, conn); err != nil {
				return connected, err
			}
		case opHeartbeatACK:
			select {
			case acks <- struct{}{}:
			default:
			}
		case opReconnect:
			conn.Close(websocket.StatusServiceRestart, "reconnect requested")
			return connected, errReconnectRequested
		case opInvalidSession:
			conn.Close(websocket.StatusNormalClosure, "invalid session")
			return connected, errors.New("gateway invalidated session")
		}
	}
}

// dispatch handles op 0 events and reports whether the event was READY.
func (s *Session) dispatch(ctx context.Context, payload gatewayPayload) bool {
	switch payload.Type {
	case "READY":
		var ready struct {
			User Author `json:"user"`
		}
		_ = json.Unmarshal(payload.Data, &ready)
		s.mu.Lock()
		s.userID = ready.User.ID
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
		s.logf("gateway ready as %s", ready.User.Username)
		return true
	case "MESSAGE_CREATE":
		if s.handler == nil {
			return false
		}
		var event MessageEvent
		if err := json.Unmarshal(payload.Data, &event); err != nil {
			s.logf("decode message event failed: %v", err)
			return false
		}
		go s.handler(context.WithoutCancel(ctx), event)
	}
	return false
}

func (s *Session) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, conn *websocket.Conn, interval time.Duration, acks <-chan struct{}) {
	// First beat is jittered so a fleet reconnecting together spreads out.
	timer := time.NewTimer(time.Duration(rand.Float64() * float64(interval)))
	defer timer.Stop()
	awaitingAck := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-acks:
			awaitingAck = false
			continue
		case <-timer.C:
		}
		if awaitingAck {
			cancel(errHeartbeatTimeout)
			return
		}
		if err := s.sendHeartbeat(ctx, conn); err != nil {
			cancel(fmt.Errorf("heartbeat: %w", err))
			return
		}
		awaitingAck = true
		timer.Reset(interval)
	}
}

func (s *Session) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	var seq any
	if s.seq != nil {
		seq = *s.seq
	}
	s.mu.Unlock()
	return wsjson.Write(ctx, conn, outgoingPayload{Op: opHeartbeat, Data: seq})
}

func (s *Session) identifyData() map[string]any {
	return map[string]any{
		"token":   s.token,
		"intents": s.intents,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "ledgerrelay",
			"device":  "ledgerrelay",
		},
	}
}

func (s *Session) classifyClose(err error) error {
	switch websocket.CloseStatus(err) {
	case 4004:
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	case 4013, 4014:
		return fmt.Errorf("%w: %v", ErrDisallowedIntents, err)
	}
	return err
}

func (s *Session) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
