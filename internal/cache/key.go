package cache

import (
	"fmt"
	"strings"
)

const (
	KindRoute = "current-action"
	KindStep  = "current-action-info"

	KindClearings    = "clearings"
	KindHand         = "player-hand"
	KindPlayer       = "player"
	KindPlayers      = "players"
	KindCrafted      = "crafted-cards"
	KindDominance    = "dominance-supply"
	KindFactionBoard = "faction-board"
	KindTurnInfo     = "turn-info"
)

// Key identifies one cached server read. Every key is scoped to a game so
// invalidation can target a single game.
type Key struct {
	Kind   string
	GameID int64
	Parts  []string
}

func (k Key) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d", k.Kind, k.GameID)
	for _, p := range k.Parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

func (k Key) isAction() bool {
	return k.Kind == KindRoute || k.Kind == KindStep
}

func RouteKey(gameID int64) Key {
	return Key{Kind: KindRoute, GameID: gameID}
}

// StepKey includes the route version so a step fetched for an earlier
// resolution of the same route can never satisfy a later one.
func StepKey(gameID int64, route string, routeVersion uint64) Key {
	return Key{Kind: KindStep, GameID: gameID, Parts: []string{route, fmt.Sprint(routeVersion)}}
}

func ReadKey(kind string, gameID int64, parts ...string) Key {
	return Key{Kind: kind, GameID: gameID, Parts: parts}
}
