package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"woodland-client/internal/cache"
	"woodland-client/internal/model"
	"woodland-client/internal/payload"
	appErr "woodland-client/pkg/errors"
	"woodland-client/pkg/logger"

	"go.uber.org/zap"
)

// API is the slice of the game server the engine drives.
type API interface {
	CurrentAction(ctx context.Context, gameID model.GameID) (*model.ActionRoute, error)
	ActionStep(ctx context.Context, gameID model.GameID, route string) (*model.ActionStep, error)
	SubmitStep(ctx context.Context, gameID model.GameID, route, endpoint string, p model.CompletedPayload) (*model.ActionStep, error)
}

// Journal records protocol events. Failures are logged and ignored.
type Journal interface {
	Record(ctx context.Context, entry *model.JournalEntry) error
}

// Engine tracks the one current action step of a game and turns fragments
// into submissions. Route and step are cached in the bus; the engine keeps
// the identity (route, route version) they were fetched under and drops any
// response that no longer matches it.
type Engine struct {
	gameID  model.GameID
	api     API
	bus     *cache.Bus
	journal Journal
	log     *zap.Logger

	mu           sync.Mutex
	state        State
	route        string
	routeVersion uint64
	step         *model.ActionStep
	lastErr      string
	submitting   bool

	refresh     chan struct{}
	unsubscribe func()
}

func New(gameID model.GameID, api API, bus *cache.Bus, journal Journal) *Engine {
	e := &Engine{
		gameID:  gameID,
		api:     api,
		bus:     bus,
		journal: journal,
		log:     logger.Named("engine").With(zap.Int64("gameID", gameID)),
		state:   StateIdle,
		refresh: make(chan struct{}, 1),
	}
	e.unsubscribe = bus.Subscribe(e.onInvalidate)
	return e
}

// Close stops listening for invalidations. Run must be stopped through its
// context.
func (e *Engine) Close() {
	e.unsubscribe()
}

func (e *Engine) GameID() model.GameID {
	return e.gameID
}

func (e *Engine) onInvalidate(_ context.Context, ev cache.Event) {
	if !ev.Covers(e.gameID) {
		return
	}
	e.scheduleRefresh()
}

func (e *Engine) scheduleRefresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// Run serves scheduled refreshes until ctx ends. It resolves the current
// action once on start.
func (e *Engine) Run(ctx context.Context) {
	e.scheduleRefresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.refresh:
			if err := e.Refresh(ctx); err != nil {
				e.log.Warn("refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh resolves the route and fetches its step. Stale responses are not
// errors.
func (e *Engine) Refresh(ctx context.Context) error {
	if _, err := e.Resolve(ctx); err != nil {
		if errors.Is(err, appErr.ErrStaleResponse) {
			return nil
		}
		return err
	}
	if _, err := e.FetchStep(ctx); err != nil {
		if errors.Is(err, appErr.ErrStaleResponse) {
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) setError(err error) {
	e.mu.Lock()
	e.lastErr = appErr.Message(err)
	e.mu.Unlock()
}

// Resolve fetches the game's current action route.
func (e *Engine) Resolve(ctx context.Context) (model.ActionRoute, error) {
	key := cache.RouteKey(e.gameID)
	t := e.bus.Ticket(key)

	route, err := e.api.CurrentAction(ctx, e.gameID)
	if err != nil {
		e.setError(err)
		return model.ActionRoute{}, err
	}
	applied, err := e.bus.Put(ctx, t, route)
	if err != nil {
		return model.ActionRoute{}, err
	}
	if !applied {
		e.log.Debug("dropping stale route", zap.String("route", route.Route))
		return model.ActionRoute{}, appErr.ErrStaleResponse
	}

	e.mu.Lock()
	prev, replaced := e.adoptRouteLocked(route.Route, e.bus.Version(key))
	e.mu.Unlock()
	if replaced {
		e.dropStep(ctx, prev)
	}
	return *route, nil
}

// adoptRouteLocked switches to route at version. It returns the step key of
// the identity it replaced.
func (e *Engine) adoptRouteLocked(route string, version uint64) (cache.Key, bool) {
	prev, had := e.stepKeyLocked()
	replaced := had && (e.route != route || e.routeVersion != version)

	e.route = route
	e.routeVersion = version
	e.step = nil
	e.lastErr = ""
	if !e.submitting {
		e.state = StateRouteKnown
	}
	return prev, replaced
}

func (e *Engine) stepKeyLocked() (cache.Key, bool) {
	if e.route == "" {
		return cache.Key{}, false
	}
	return cache.StepKey(e.gameID, e.route, e.routeVersion), true
}

func (e *Engine) isCurrent(route string, version uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.route == route && e.routeVersion == version
}

// dropStep deletes the cached step of a superseded route identity.
func (e *Engine) dropStep(ctx context.Context, key cache.Key) {
	if err := e.bus.Delete(ctx, key); err != nil {
		e.log.Warn("failed to drop superseded step", zap.Stringer("key", key), zap.Error(err))
	}
}

// OverrideRoute makes route the current one without asking the server, then
// fetches its first step. The server validates the route on that fetch or on
// the first submission.
func (e *Engine) OverrideRoute(ctx context.Context, route string) (*model.ActionStep, error) {
	key := cache.RouteKey(e.gameID)
	if err := e.bus.Replace(ctx, key, model.ActionRoute{Route: route}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	prev, replaced := e.adoptRouteLocked(route, e.bus.Version(key))
	e.mu.Unlock()
	if replaced {
		e.dropStep(ctx, prev)
	}

	e.record(ctx, &model.JournalEntry{Kind: model.JournalOverride, Route: route, Outcome: "ok"})
	e.log.Info("route overridden", zap.String("route", route))

	step, err := e.FetchStep(ctx)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// FetchStep loads the step for the current route. A cached step written by a
// submission is reused.
func (e *Engine) FetchStep(ctx context.Context) (model.ActionStep, error) {
	e.mu.Lock()
	route, version := e.route, e.routeVersion
	e.mu.Unlock()
	if route == "" {
		return model.ActionStep{}, appErr.ErrNoRoute
	}

	key := cache.StepKey(e.gameID, route, version)
	var cached model.ActionStep
	if st, err := e.bus.Get(ctx, key, &cached); err == nil && st.Found && !st.Stale {
		return e.adoptStep(ctx, route, version, &cached)
	}

	t := e.bus.Ticket(key)
	step, err := e.api.ActionStep(ctx, e.gameID, route)
	if err != nil {
		e.mu.Lock()
		if e.route == route && e.routeVersion == version {
			e.lastErr = appErr.Message(err)
		}
		e.mu.Unlock()
		return model.ActionStep{}, err
	}
	applied, err := e.bus.Put(ctx, t, step)
	if err != nil {
		return model.ActionStep{}, err
	}
	if !applied {
		e.log.Debug("dropping stale step", zap.String("route", route), zap.String("step", step.Name))
		return model.ActionStep{}, appErr.ErrStaleResponse
	}
	return e.adoptStep(ctx, route, version, step)
}

func (e *Engine) adoptStep(ctx context.Context, route string, version uint64, step *model.ActionStep) (model.ActionStep, error) {
	e.mu.Lock()
	if e.route != route || e.routeVersion != version {
		e.mu.Unlock()
		e.log.Debug("dropping step for superseded route", zap.String("route", route))
		e.dropStep(ctx, cache.StepKey(e.gameID, route, version))
		return model.ActionStep{}, appErr.ErrStaleResponse
	}
	e.step = step
	e.lastErr = ""
	if !e.submitting {
		e.state = StateStepKnown
	}
	e.mu.Unlock()
	return *step, nil
}

// SubmitFragment composes the fragment against the current step and submits
// it. A fragment that does not cover the step is declined without a request.
func (e *Engine) SubmitFragment(ctx context.Context, frag payload.Fragment) (Outcome, error) {
	e.mu.Lock()
	step := e.step
	e.mu.Unlock()

	if step == nil {
		e.log.Debug("fragment with no current step", zap.Stringer("fragment", frag))
		return Outcome{Declined: true}, nil
	}
	composed, ok := payload.Compose(step, frag)
	if !ok {
		return Outcome{Declined: true}, nil
	}
	return e.submit(ctx, step, composed)
}

// Submit posts an already complete payload for the current step.
func (e *Engine) Submit(ctx context.Context, p model.CompletedPayload) (Outcome, error) {
	e.mu.Lock()
	step := e.step
	e.mu.Unlock()
	if step == nil {
		return Outcome{}, appErr.ErrNoStep
	}
	return e.submit(ctx, step, p)
}

func (e *Engine) submit(ctx context.Context, composedFor *model.ActionStep, p model.CompletedPayload) (Outcome, error) {
	e.mu.Lock()
	if e.submitting {
		e.mu.Unlock()
		return Outcome{}, appErr.ErrSubmitInFlight
	}
	if e.step == nil {
		e.mu.Unlock()
		return Outcome{}, appErr.ErrNoStep
	}
	if e.step != composedFor {
		e.mu.Unlock()
		return Outcome{Declined: true}, nil
	}
	route, version, step := e.route, e.routeVersion, e.step
	e.submitting = true
	e.state = StateSubmitting
	e.mu.Unlock()

	log := e.log.With(zap.String("route", route), zap.String("step", step.Name))
	entry := &model.JournalEntry{
		Kind:     model.JournalSubmit,
		Route:    route,
		Endpoint: step.Endpoint,
		StepName: step.Name,
		Payload:  mustJSON(p),
	}

	next, err := e.api.SubmitStep(ctx, e.gameID, route, step.Endpoint, p)

	stepKey := cache.StepKey(e.gameID, route, version)
	written := false
	if err == nil && !next.IsCompleted() && e.isCurrent(route, version) {
		if rerr := e.bus.Replace(ctx, stepKey, next); rerr != nil {
			log.Warn("failed to cache next step", zap.Error(rerr))
		} else {
			written = true
		}
	}

	e.mu.Lock()
	e.submitting = false
	current := e.route == route && e.routeVersion == version
	if err != nil {
		if current {
			e.lastErr = appErr.Message(err)
			e.state = StateStepKnown
		} else {
			e.state = e.settledStateLocked()
		}
		e.mu.Unlock()

		log.Info("submission failed", zap.Error(err))
		entry.Outcome, entry.Error = "failed", err.Error()
		if errors.Is(err, appErr.ErrRejected) {
			entry.Outcome = "rejected"
		}
		e.record(ctx, entry)
		return Outcome{}, err
	}

	if next.IsCompleted() {
		e.step = nil
		e.lastErr = ""
		e.state = StateCompleted
		e.mu.Unlock()

		log.Info("action completed")
		entry.Outcome = "completed"
		e.record(ctx, entry)
		e.bus.InvalidateAll(ctx)
		return Outcome{Completed: true}, nil
	}

	if !current {
		e.state = e.settledStateLocked()
		e.mu.Unlock()
		if written {
			e.dropStep(ctx, stepKey)
		}
		log.Debug("dropping step response for superseded route", zap.String("next", next.Name))
		entry.Outcome = "next_step"
		e.record(ctx, entry)
		return Outcome{Step: next}, nil
	}

	e.step = next
	e.lastErr = ""
	e.state = StateStepKnown
	e.mu.Unlock()

	entry.Outcome = "next_step"
	e.record(ctx, entry)
	return Outcome{Step: next}, nil
}

// settledStateLocked is the state to fall back to after a submission whose
// answer no longer applies.
func (e *Engine) settledStateLocked() State {
	switch {
	case e.step != nil:
		return StateStepKnown
	case e.route != "":
		return StateRouteKnown
	case e.state == StateSubmitting:
		return StateIdle
	default:
		return e.state
	}
}

// Cancel abandons the current action. Only the route and step are
// invalidated; responses still in flight are dropped when they arrive.
func (e *Engine) Cancel(ctx context.Context) {
	e.mu.Lock()
	prev, hadStep := e.stepKeyLocked()
	route := e.route
	e.route = ""
	e.routeVersion = 0
	e.step = nil
	e.lastErr = ""
	e.state = StateCancelled
	e.mu.Unlock()

	e.log.Info("action cancelled", zap.String("route", route))
	e.record(ctx, &model.JournalEntry{Kind: model.JournalCancel, Route: route, Outcome: "ok"})
	e.bus.InvalidateAction(ctx, e.gameID)
	if hadStep {
		e.dropStep(ctx, prev)
	}
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := View{
		GameID:  e.gameID,
		State:   e.state,
		Route:   e.route,
		Error:   e.lastErr,
		Pending: e.submitting,
	}
	if e.step != nil {
		v.Faction = e.step.Faction
		v.StepName = e.step.Name
		v.Prompt = e.step.Prompt
		v.Fields = e.step.PayloadDetails
		v.Options = e.step.Options
	}
	return v
}

// Step returns a copy of the current step, if any.
func (e *Engine) Step() (model.ActionStep, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.step == nil {
		return model.ActionStep{}, false
	}
	return *e.step, true
}

func (e *Engine) record(ctx context.Context, entry *model.JournalEntry) {
	if e.journal == nil {
		return
	}
	entry.GameID = e.gameID
	if err := e.journal.Record(ctx, entry); err != nil {
		e.log.Warn("failed to journal", zap.String("kind", string(entry.Kind)), zap.Error(err))
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
