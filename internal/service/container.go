package service

import (
	"context"
	"errors"
	"sync"

	"woodland-client/internal/cache"
	"woodland-client/internal/config"
	"woodland-client/internal/gameapi"
	"woodland-client/internal/model"
	"woodland-client/internal/service/engine"
	"woodland-client/internal/service/reads"
	"woodland-client/internal/service/undo"
	"woodland-client/internal/session"
	"woodland-client/internal/ws"
	appErr "woodland-client/pkg/errors"
	"woodland-client/pkg/logger"

	"go.uber.org/zap"
)

type Journal interface {
	Record(ctx context.Context, entry *model.JournalEntry) error
	List(ctx context.Context, gameID int64, limit int) ([]model.JournalEntry, error)
}

// GameView is everything the client runs for one open game: the action
// engine and the realtime channel feeding it.
type GameView struct {
	Engine  *engine.Engine
	Channel *ws.Channel

	cancel context.CancelFunc
	done   chan struct{}
}

func (v *GameView) close() {
	v.cancel()
	v.Channel.Close()
	<-v.done
	v.Engine.Close()
}

// Container wires the application-wide components. The session, API client,
// cache bus, reads and undo are shared; engines and channels live per game.
type Container struct {
	Config  *config.Config
	Session *session.Session
	API     *gameapi.Client
	Bus     *cache.Bus
	Reads   *reads.Service
	Undo    *undo.Controller
	Journal Journal

	mu    sync.Mutex
	ctx   context.Context
	views map[model.GameID]*GameView
	log   *zap.Logger
}

// NewContainer builds the container. journal may be nil.
func NewContainer(cfg *config.Config, store cache.Store, journal Journal) *Container {
	sess := session.New()
	api := gameapi.NewClient(cfg.Server.BaseURL, cfg.HTTP.Timeout, sess)
	bus := cache.NewBus(store)

	return &Container{
		Config:  cfg,
		Session: sess,
		API:     api,
		Bus:     bus,
		Reads:   reads.NewService(api, bus),
		Undo:    undo.NewController(api, bus, journal),
		Journal: journal,
		ctx:     context.Background(),
		views:   make(map[model.GameID]*GameView),
		log:     logger.Named("service"),
	}
}

// Start sets the context game views run under. Views outlive the requests
// that open them.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.log.Info("client started", zap.String("server", c.API.BaseURL()))
	return nil
}

func (c *Container) SignIn(ctx context.Context, username, password string) error {
	return c.Session.SignIn(ctx, c.API, username, password)
}

// SignOut drops the credential, closes every game view and marks all
// remaining reads stale.
func (c *Container) SignOut(ctx context.Context) {
	c.Session.SignOut()
	c.closeAll(ctx)
	c.Bus.InvalidateAll(ctx)
}

// OpenView starts the engine and realtime channel for gameID. Opening an
// already open game returns its view.
func (c *Container) OpenView(gameID model.GameID) (*GameView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.views[gameID]; ok {
		return v, nil
	}

	eng := engine.New(gameID, c.API, c.Bus, c.Journal)
	rt := c.Config.Realtime
	channel, err := ws.NewChannel(c.wsBase(), gameID, c.Session, c.Bus, c.Journal, ws.Options{
		Reconnect:      rt.Reconnect,
		InitialBackoff: rt.InitialBackoff,
		MaxBackoff:     rt.MaxBackoff,
		MaxElapsed:     rt.MaxElapsed,
		PingEvery:      rt.PingEvery,
		PongWait:       rt.PongWait,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	v := &GameView{Engine: eng, Channel: channel, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(v.done)
		eng.Run(ctx)
	}()
	channel.Start(ctx)

	c.views[gameID] = v
	c.log.Info("game view opened", zap.Int64("gameID", gameID), zap.String("ws", channel.URL()))
	return v, nil
}

func (c *Container) View(gameID model.GameID) (*GameView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[gameID]
	if !ok {
		return nil, appErr.ErrGameNotOpen
	}
	return v, nil
}

// CloseView stops the game's engine and channel and forgets its cached reads.
func (c *Container) CloseView(ctx context.Context, gameID model.GameID) error {
	c.mu.Lock()
	v, ok := c.views[gameID]
	delete(c.views, gameID)
	c.mu.Unlock()

	if !ok {
		return appErr.ErrGameNotOpen
	}
	v.close()
	if err := c.Bus.Drop(ctx, gameID); err != nil {
		c.log.Warn("failed to drop cached reads", zap.Int64("gameID", gameID), zap.Error(err))
	}
	c.log.Info("game view closed", zap.Int64("gameID", gameID))
	return nil
}

// Close shuts every open view down.
func (c *Container) Close(ctx context.Context) {
	c.closeAll(ctx)
}

func (c *Container) closeAll(ctx context.Context) {
	c.mu.Lock()
	ids := make([]model.GameID, 0, len(c.views))
	for id := range c.views {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.CloseView(ctx, id); err != nil && !errors.Is(err, appErr.ErrGameNotOpen) {
			c.log.Warn("failed to close view", zap.Int64("gameID", id), zap.Error(err))
		}
	}
}

func (c *Container) wsBase() string {
	if c.Config.Server.WSURL != "" {
		return c.Config.Server.WSURL
	}
	return c.Config.Server.BaseURL
}
