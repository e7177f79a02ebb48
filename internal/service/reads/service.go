package reads

import (
	"context"

	"woodland-client/internal/cache"
	"woodland-client/internal/model"
)

type API interface {
	Clearings(ctx context.Context, gameID model.GameID) ([]model.Clearing, error)
	PlayerHand(ctx context.Context, gameID model.GameID) ([]model.Card, error)
	Player(ctx context.Context, gameID model.GameID) (*model.Player, error)
	Players(ctx context.Context, gameID model.GameID) ([]model.Player, error)
	CraftedCards(ctx context.Context, gameID model.GameID, faction string) ([]model.CraftedCard, error)
	DominanceSupply(ctx context.Context, gameID model.GameID) (model.DominanceSupply, error)
	FactionBoard(ctx context.Context, gameID model.GameID, faction string) (model.FactionBoard, error)
	TurnInfo(ctx context.Context, gameID model.GameID) (model.TurnInfo, error)
}

// Service serves the game's board reads from the cache bus. Every read it
// has served once is watched, so an invalidation refetches it right away.
type Service struct {
	api API
	bus *cache.Bus
}

func NewService(api API, bus *cache.Bus) *Service {
	return &Service{api: api, bus: bus}
}

func (s *Service) Clearings(ctx context.Context, gameID model.GameID) ([]model.Clearing, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindClearings, gameID), func(ctx context.Context) ([]model.Clearing, error) {
		return s.api.Clearings(ctx, gameID)
	})
}

func (s *Service) PlayerHand(ctx context.Context, gameID model.GameID) ([]model.Card, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindHand, gameID), func(ctx context.Context) ([]model.Card, error) {
		return s.api.PlayerHand(ctx, gameID)
	})
}

func (s *Service) Player(ctx context.Context, gameID model.GameID) (*model.Player, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindPlayer, gameID), func(ctx context.Context) (*model.Player, error) {
		return s.api.Player(ctx, gameID)
	})
}

func (s *Service) Players(ctx context.Context, gameID model.GameID) ([]model.Player, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindPlayers, gameID), func(ctx context.Context) ([]model.Player, error) {
		return s.api.Players(ctx, gameID)
	})
}

func (s *Service) CraftedCards(ctx context.Context, gameID model.GameID, faction string) ([]model.CraftedCard, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindCrafted, gameID, faction), func(ctx context.Context) ([]model.CraftedCard, error) {
		return s.api.CraftedCards(ctx, gameID, faction)
	})
}

func (s *Service) DominanceSupply(ctx context.Context, gameID model.GameID) (model.DominanceSupply, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindDominance, gameID), func(ctx context.Context) (model.DominanceSupply, error) {
		return s.api.DominanceSupply(ctx, gameID)
	})
}

func (s *Service) FactionBoard(ctx context.Context, gameID model.GameID, faction string) (model.FactionBoard, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindFactionBoard, gameID, faction), func(ctx context.Context) (model.FactionBoard, error) {
		return s.api.FactionBoard(ctx, gameID, faction)
	})
}

func (s *Service) TurnInfo(ctx context.Context, gameID model.GameID) (model.TurnInfo, error) {
	return watched(ctx, s.bus, cache.ReadKey(cache.KindTurnInfo, gameID), func(ctx context.Context) (model.TurnInfo, error) {
		return s.api.TurnInfo(ctx, gameID)
	})
}

func watched[T any](ctx context.Context, bus *cache.Bus, k cache.Key, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := cache.Query(ctx, bus, k, fetch)
	if err != nil {
		return v, err
	}
	bus.Watch(k, func(ctx context.Context) error {
		t := bus.Ticket(k)
		fresh, err := fetch(ctx)
		if err != nil {
			return err
		}
		_, err = bus.Put(ctx, t, fresh)
		return err
	})
	return v, nil
}
