package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"woodland-client/internal/model"
	appErr "woodland-client/pkg/errors"
	"woodland-client/pkg/logger"
	netutil "woodland-client/pkg/utils/net"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Status string

const (
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusLive           Status = "live"
	StatusClosed         Status = "closed"
)

type CredentialSource interface {
	Credential() (string, error)
}

type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

type Journal interface {
	Record(ctx context.Context, entry *model.JournalEntry) error
}

type Options struct {
	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
	PingEvery      time.Duration
	PongWait       time.Duration
	Dialer         *websocket.Dialer
}

func (o *Options) defaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.PingEvery <= 0 {
		o.PingEvery = 25 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

type outgoing struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

type incoming struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Channel is the push connection of one game view. It never interprets what
// changed: every update notification invalidates all cached reads.
type Channel struct {
	url     string
	gameID  model.GameID
	creds   CredentialSource
	bus     Invalidator
	journal Journal
	opts    Options
	log     *zap.Logger

	mu     sync.Mutex
	status Status
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChannel builds the channel for gameID. baseURL is the game server's
// http(s) or ws(s) origin.
func NewChannel(baseURL string, gameID model.GameID, creds CredentialSource, bus Invalidator, journal Journal, opts Options) (*Channel, error) {
	url, err := netutil.WebSocketURL(baseURL, fmt.Sprintf("/ws/game/%d/", gameID))
	if err != nil {
		return nil, err
	}
	opts.defaults()
	return &Channel{
		url:     url,
		gameID:  gameID,
		creds:   creds,
		bus:     bus,
		journal: journal,
		opts:    opts,
		log:     logger.Named("ws").With(zap.Int64("gameID", gameID)),
		status:  StatusClosed,
	}, nil
}

func (c *Channel) URL() string {
	return c.url
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Start connects in the background. It is a no-op while already running.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = StatusConnecting
	done := c.done
	c.mu.Unlock()

	go c.run(ctx, done)
}

// Close tears the connection down and waits for the read loop to exit.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Done is closed once the channel stopped for good.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.status = StatusClosed
		c.conn = nil
		c.mu.Unlock()
		close(done)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = c.opts.MaxElapsed
	b.Reset()

	reconnecting := false
	for {
		wasLive, err := c.connect(ctx, reconnecting)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, appErr.ErrMissingCredential) || errors.Is(err, appErr.ErrCredentialExpired) {
			c.log.Error("no access token for websocket authentication", zap.Error(err))
			return
		}
		c.log.Info("websocket disconnected", zap.Error(err))
		if !c.opts.Reconnect {
			return
		}
		if wasLive {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			c.log.Warn("giving up reconnecting")
			return
		}
		c.setStatus(StatusConnecting)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		reconnecting = true
	}
}

// connect runs one connection until it drops. wasLive reports whether the
// server acknowledged authentication on it.
func (c *Channel) connect(ctx context.Context, reconnecting bool) (wasLive bool, err error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.conn = conn
	c.status = StatusAuthenticating
	c.mu.Unlock()
	defer conn.Close()

	token, err := c.creds.Credential()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"),
			time.Now().Add(time.Second))
		return false, err
	}
	if err := conn.WriteJSON(outgoing{Type: "authenticate", Token: token}); err != nil {
		return false, err
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.ping(conn, stopPing)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return wasLive, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("ignoring malformed message", zap.Error(err))
			continue
		}
		switch {
		case msg.Type == "authenticated":
			wasLive = true
			c.setStatus(StatusLive)
			c.log.Info("websocket authenticated")
			if reconnecting {
				// updates may have been missed while the socket was down
				c.bus.InvalidateAll(ctx)
			}
		case msg.Message == "update":
			c.log.Debug("game update received, invalidating")
			c.record(ctx)
			c.bus.InvalidateAll(ctx)
		}
	}
}

func (c *Channel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func (c *Channel) record(ctx context.Context) {
	if c.journal == nil {
		return
	}
	entry := &model.JournalEntry{GameID: c.gameID, Kind: model.JournalRemote, Outcome: "ok"}
	if err := c.journal.Record(ctx, entry); err != nil {
		c.log.Warn("failed to journal remote update", zap.Error(err))
	}
}
