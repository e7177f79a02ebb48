package gameapi

import (
	"context"
	"fmt"
	"net/http"

	"woodland-client/internal/model"
)

// factionPaths maps faction codes to the player-info path segment.
var factionPaths = map[string]string{
	"ca": "cats",
	"bi": "birds",
	"wa": "wa",
}

// KnownFaction reports whether faction has a player-info board.
func KnownFaction(faction string) bool {
	_, ok := factionPaths[faction]
	return ok
}

func (c *Client) Clearings(ctx context.Context, gameID model.GameID) ([]model.Clearing, error) {
	var out []model.Clearing
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/clearings/%d/", c.baseURL, gameID), authOptional, nil, &out)
	return out, err
}

func (c *Client) PlayerHand(ctx context.Context, gameID model.GameID) ([]model.Card, error) {
	var out []model.Card
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/player-hand/?game_id=%d", c.baseURL, gameID), authRequired, nil, &out)
	return out, err
}

func (c *Client) Player(ctx context.Context, gameID model.GameID) (*model.Player, error) {
	var out model.Player
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/player/%d/", c.baseURL, gameID), authRequired, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Players(ctx context.Context, gameID model.GameID) ([]model.Player, error) {
	var out []model.Player
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/players/%d/", c.baseURL, gameID), authOptional, nil, &out)
	return out, err
}

func (c *Client) CraftedCards(ctx context.Context, gameID model.GameID, faction string) ([]model.CraftedCard, error) {
	var out []model.CraftedCard
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/crafted-cards/%d/%s/", c.baseURL, gameID, faction), authRequired, nil, &out)
	return out, err
}

func (c *Client) DominanceSupply(ctx context.Context, gameID model.GameID) (model.DominanceSupply, error) {
	var out model.DominanceSupply
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/dominance-supply/%d/", c.baseURL, gameID), authOptional, nil, &out)
	return out, err
}

func (c *Client) FactionBoard(ctx context.Context, gameID model.GameID, faction string) (model.FactionBoard, error) {
	segment, ok := factionPaths[faction]
	if !ok {
		return nil, fmt.Errorf("unknown faction %q", faction)
	}
	var out model.FactionBoard
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/%s/player-info/%d/", c.baseURL, segment, gameID), authOptional, nil, &out)
	return out, err
}

func (c *Client) TurnInfo(ctx context.Context, gameID model.GameID) (model.TurnInfo, error) {
	var out model.TurnInfo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/turn-info/%d/", c.baseURL, gameID), authOptional, nil, &out)
	return out, err
}
