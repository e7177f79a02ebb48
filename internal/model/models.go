package model

import (
	"time"

	"gorm.io/datatypes"
)

type GameID = int64

// Action protocol

type ActionRoute struct {
	Route string `json:"route"`
}

type PayloadFieldSpec struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// StepCompleted is the step name the server returns once a whole
// multi-step action has concluded.
const StepCompleted = "completed"

type ActionStep struct {
	Faction            string             `json:"faction"`
	Name               string             `json:"name"`
	Prompt             string             `json:"prompt"`
	Endpoint           string             `json:"endpoint"`
	PayloadDetails     []PayloadFieldSpec `json:"payload_details"`
	AccumulatedPayload map[string]any     `json:"accumulated_payload"`
	Options            []Option           `json:"options,omitempty"`
}

func (s *ActionStep) IsCompleted() bool {
	return s != nil && s.Name == StepCompleted
}

// CompletedPayload is the wire body of a step submission.
type CompletedPayload map[string]any

// Game state reads

type Clearing struct {
	SuitName         string `json:"suit_name"`
	Suit             string `json:"suit"`
	ClearingNumber   int    `json:"clearing_number"`
	ConnectedTo      []int  `json:"connected_to"`
	WaterConnectedTo []int  `json:"water_connected_to"`
	Ruins            []int  `json:"ruins"`
}

type Card struct {
	CardName  string   `json:"card_name"`
	Suit      string   `json:"suit"` // r, y, o, b
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Craftable bool     `json:"craftable"`
	Cost      []string `json:"cost"`
	Item      string   `json:"item"`
	Ambush    bool     `json:"ambush"`
	Dominance bool     `json:"dominance"`
}

type CraftedCard struct {
	Card           Card    `json:"card"`
	CanBeUsed      bool    `json:"can_be_used"`
	Used           bool    `json:"used"`
	ActionEndpoint *string `json:"action_endpoint"`
}

type Player struct {
	Username     string `json:"username"`
	Faction      string `json:"faction"` // ca, bi, wa
	FactionLabel string `json:"faction_label"`
	Score        int    `json:"score"`
	TurnOrder    int    `json:"turn_order"`
	CardCount    int    `json:"card_count"`
}

// FactionBoard, DominanceSupply and TurnInfo are passed through untouched;
// the client never interprets them.
type FactionBoard = datatypes.JSON

type DominanceSupply = datatypes.JSON

type TurnInfo = datatypes.JSON

// Journal

type JournalKind string

const (
	JournalSubmit   JournalKind = "submit"
	JournalUndo     JournalKind = "undo"
	JournalCancel   JournalKind = "cancel"
	JournalOverride JournalKind = "override"
	JournalRemote   JournalKind = "remote_update"
)

type JournalEntry struct {
	ID        string      `gorm:"primaryKey;size:36"`
	GameID    int64       `gorm:"index;not null"`
	Kind      JournalKind `gorm:"size:32;not null"`
	Route     string
	Endpoint  string
	StepName  string
	Payload   datatypes.JSON
	Outcome   string // completed, next_step, rejected, failed, ok
	Error     string
	CreatedAt time.Time `gorm:"index"`
}
