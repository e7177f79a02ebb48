package engine

import "woodland-client/internal/model"

type State string

const (
	StateIdle       State = "idle"
	StateRouteKnown State = "route_known"
	StateStepKnown  State = "step_known"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// View is what a UI needs to present the current step.
type View struct {
	GameID   int64                    `json:"gameId"`
	State    State                    `json:"state"`
	Route    string                   `json:"route,omitempty"`
	Faction  string                   `json:"faction,omitempty"`
	StepName string                   `json:"stepName,omitempty"`
	Prompt   string                   `json:"prompt,omitempty"`
	Fields   []model.PayloadFieldSpec `json:"fields,omitempty"`
	Options  []model.Option           `json:"options,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Pending  bool                     `json:"pending"`
}

// Outcome is the result of handing a fragment or payload to the engine.
type Outcome struct {
	Declined  bool              `json:"declined"`
	Completed bool              `json:"completed"`
	Step      *model.ActionStep `json:"step,omitempty"`
}
