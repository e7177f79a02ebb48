package undo

import (
	"context"

	"woodland-client/internal/model"
	"woodland-client/pkg/logger"

	"go.uber.org/zap"
)

//go:generate mockgen -source=controller.go -destination=mocks/mock_controller.go -package=mocks

type API interface {
	Undo(ctx context.Context, gameID model.GameID) error
}

type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

type Journal interface {
	Record(ctx context.Context, entry *model.JournalEntry) error
}

// Controller asks the server to roll a game back. Any part of the game may
// differ afterwards, so a successful undo invalidates every cached read; a
// failed one leaves the caches alone.
type Controller struct {
	api     API
	bus     Invalidator
	journal Journal
	log     *zap.Logger
}

func NewController(api API, bus Invalidator, journal Journal) *Controller {
	return &Controller{api: api, bus: bus, journal: journal, log: logger.Named("undo")}
}

func (c *Controller) Undo(ctx context.Context, gameID model.GameID) error {
	log := c.log.With(zap.Int64("gameID", gameID))
	entry := &model.JournalEntry{GameID: gameID, Kind: model.JournalUndo, Outcome: "ok"}

	if err := c.api.Undo(ctx, gameID); err != nil {
		log.Error("undo failed", zap.Error(err))
		entry.Outcome, entry.Error = "failed", err.Error()
		c.record(ctx, entry)
		return err
	}

	log.Info("undo applied")
	c.record(ctx, entry)
	c.bus.InvalidateAll(ctx)
	return nil
}

func (c *Controller) record(ctx context.Context, entry *model.JournalEntry) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, entry); err != nil {
		c.log.Warn("failed to journal undo", zap.Error(err))
	}
}
