package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"woodland-client/internal/cache"
	"woodland-client/internal/model"
	"woodland-client/internal/payload"
	"woodland-client/internal/service/engine"
	appErr "woodland-client/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gameID = 11

type fakeAPI struct {
	mu         sync.Mutex
	routes     []string
	routeCalls int
	steps      map[string]*model.ActionStep
	stepGates  map[string]chan struct{}
	stepCalls  int
	submitFn   func(route, endpoint string, p model.CompletedPayload) (*model.ActionStep, error)
	submits    []model.CompletedPayload
}

func (f *fakeAPI) CurrentAction(context.Context, model.GameID) (*model.ActionRoute, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.routeCalls
	if i >= len(f.routes) {
		i = len(f.routes) - 1
	}
	f.routeCalls++
	return &model.ActionRoute{Route: f.routes[i]}, nil
}

func (f *fakeAPI) ActionStep(_ context.Context, _ model.GameID, route string) (*model.ActionStep, error) {
	f.mu.Lock()
	gate := f.stepGates[route]
	f.stepCalls++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	step, ok := f.steps[route]
	if !ok {
		return nil, &appErr.RejectionError{Status: 404}
	}
	cp := *step
	return &cp, nil
}

func (f *fakeAPI) SubmitStep(_ context.Context, _ model.GameID, route, endpoint string, p model.CompletedPayload) (*model.ActionStep, error) {
	f.mu.Lock()
	f.submits = append(f.submits, p)
	fn := f.submitFn
	f.mu.Unlock()
	return fn(route, endpoint, p)
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func recruitStep() *model.ActionStep {
	return &model.ActionStep{
		Faction:            "ca",
		Name:               "recruit",
		Prompt:             "Pick a clearing",
		Endpoint:           "recruit",
		PayloadDetails:     []model.PayloadFieldSpec{{Type: "clearing_number", Name: "clearing"}},
		AccumulatedPayload: map[string]any{},
	}
}

func newEngine(t *testing.T, api *fakeAPI) (*engine.Engine, *cache.Bus, *[]cache.Event) {
	t.Helper()
	bus := cache.NewBus(nil)
	var mu sync.Mutex
	events := &[]cache.Event{}
	bus.Subscribe(func(_ context.Context, ev cache.Event) {
		mu.Lock()
		*events = append(*events, ev)
		mu.Unlock()
	})
	return engine.New(gameID, api, bus, nil), bus, events
}

func countScope(events []cache.Event, scope cache.Scope) int {
	n := 0
	for _, ev := range events {
		if ev.Scope == scope {
			n++
		}
	}
	return n
}

func TestRecruitScenario(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		routes: []string{"/api/recruit/", "/api/birds/birdsong/"},
		steps: map[string]*model.ActionStep{
			"/api/recruit/":        recruitStep(),
			"/api/birds/birdsong/": {Faction: "bi", Name: "add-to-decree", Endpoint: "decree", PayloadDetails: []model.PayloadFieldSpec{}},
		},
		submitFn: func(route, endpoint string, p model.CompletedPayload) (*model.ActionStep, error) {
			return &model.ActionStep{Name: model.StepCompleted}, nil
		},
	}
	e, _, events := newEngine(t, api)

	require.NoError(t, e.Refresh(ctx))
	v := e.View()
	assert.Equal(t, engine.StateStepKnown, v.State)
	assert.Equal(t, "Pick a clearing", v.Prompt)
	assert.Equal(t, "ca", v.Faction)

	out, err := e.SubmitFragment(ctx, payload.ClearingFragment(4))
	require.NoError(t, err)
	assert.True(t, out.Completed)
	require.Len(t, api.submits, 1)
	assert.Equal(t, model.CompletedPayload{"clearing": 4}, api.submits[0])

	assert.Equal(t, engine.StateCompleted, e.View().State)
	_, ok := e.Step()
	assert.False(t, ok, "completion must not leave a cached step")
	assert.Equal(t, 1, countScope(*events, cache.ScopeAll))

	require.NoError(t, e.Refresh(ctx))
	v = e.View()
	assert.Equal(t, "/api/birds/birdsong/", v.Route)
	assert.Equal(t, "bi", v.Faction)
}

func TestWrongFragmentTypeDoesNotPost(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		routes: []string{"/api/recruit/"},
		steps:  map[string]*model.ActionStep{"/api/recruit/": recruitStep()},
		submitFn: func(string, string, model.CompletedPayload) (*model.ActionStep, error) {
			t.Fatal("unexpected submission")
			return nil, nil
		},
	}
	e, _, _ := newEngine(t, api)
	require.NoError(t, e.Refresh(ctx))

	out, err := e.SubmitFragment(ctx, payload.OptionFragment(payload.FieldBuildingType, "roost"))
	require.NoError(t, err)
	assert.True(t, out.Declined)
	assert.Zero(t, api.submitCount())
	assert.Equal(t, engine.StateStepKnown, e.View().State)
}

func TestRejectionKeepsStep(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		routes: []string{"/api/recruit/"},
		steps:  map[string]*model.ActionStep{"/api/recruit/": recruitStep()},
		submitFn: func(string, string, model.CompletedPayload) (*model.ActionStep, error) {
			return nil, &appErr.RejectionError{Status: 400, Detail: "You do not rule that clearing"}
		},
	}
	e, bus, events := newEngine(t, api)
	require.NoError(t, e.Refresh(ctx))
	stepCalls := api.stepCalls

	_, err := e.SubmitFragment(ctx, payload.ClearingFragment(9))
	require.ErrorIs(t, err, appErr.ErrRejected)

	v := e.View()
	assert.Equal(t, engine.StateStepKnown, v.State)
	assert.Equal(t, "You do not rule that clearing", v.Error)
	assert.Equal(t, "recruit", v.StepName)
	assert.False(t, v.Pending)
	assert.False(t, bus.IsStale(cache.RouteKey(gameID)))
	assert.Empty(t, *events)

	api.submitFn = func(string, string, model.CompletedPayload) (*model.ActionStep, error) {
		return &model.ActionStep{Name: model.StepCompleted}, nil
	}
	out, err := e.SubmitFragment(ctx, payload.ClearingFragment(4))
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Equal(t, stepCalls, api.stepCalls, "resubmitting must not refetch the step")
}

func TestNextStepIsWrittenThrough(t *testing.T) {
	ctx := context.Background()
	move := &model.ActionStep{
		Faction:            "ca",
		Name:               "move-count",
		Prompt:             "How many warriors?",
		Endpoint:           "count",
		PayloadDetails:     []model.PayloadFieldSpec{{Type: "number", Name: "count"}},
		AccumulatedPayload: map[string]any{"origin": float64(1)},
	}
	api := &fakeAPI{
		routes: []string{"/api/cats/daylight/march/"},
		steps: map[string]*model.ActionStep{"/api/cats/daylight/march/": {
			Faction:            "ca",
			Name:               "move-origin",
			Endpoint:           "origin",
			PayloadDetails:     []model.PayloadFieldSpec{{Type: "clearing_number", Name: "origin"}},
			AccumulatedPayload: map[string]any{},
		}},
	}
	api.submitFn = func(route, endpoint string, p model.CompletedPayload) (*model.ActionStep, error) {
		if endpoint == "origin" {
			return move, nil
		}
		return &model.ActionStep{Name: model.StepCompleted}, nil
	}
	e, _, _ := newEngine(t, api)
	require.NoError(t, e.Refresh(ctx))

	out, err := e.SubmitFragment(ctx, payload.ClearingFragment(1))
	require.NoError(t, err)
	require.NotNil(t, out.Step)
	assert.Equal(t, "How many warriors?", e.View().Prompt)

	calls := api.stepCalls
	step, err := e.FetchStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, "move-count", step.Name)
	assert.Equal(t, calls, api.stepCalls, "written-through step must be served from cache")

	_, err = e.SubmitFragment(ctx, payload.NumberFragment(3))
	require.NoError(t, err)
	assert.Equal(t, model.CompletedPayload{"origin": float64(1), "count": 3}, api.submits[1])
}

func TestStaleRouteImmunity(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	r2Step := &model.ActionStep{Name: "craft", Endpoint: "craft", PayloadDetails: []model.PayloadFieldSpec{{Type: "card", Name: "card"}}}
	api := &fakeAPI{
		routes: []string{"/api/r1/"},
		steps: map[string]*model.ActionStep{
			"/api/r1/": recruitStep(),
			"/api/r2/": r2Step,
		},
		stepGates: map[string]chan struct{}{"/api/r1/": gate},
	}
	e, bus, _ := newEngine(t, api)
	_, err := e.Resolve(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.FetchStep(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.stepCalls == 1
	}, time.Second, 5*time.Millisecond)

	step, err := e.OverrideRoute(ctx, "/api/r2/")
	require.NoError(t, err)
	assert.Equal(t, "craft", step.Name)

	close(gate)
	err = <-done
	assert.ErrorIs(t, err, appErr.ErrStaleResponse)

	v := e.View()
	assert.Equal(t, "/api/r2/", v.Route)
	assert.Equal(t, "craft", v.StepName)

	var cached model.ActionStep
	st, err := bus.Get(ctx, cache.StepKey(gameID, "/api/r2/", bus.Version(cache.RouteKey(gameID))), &cached)
	require.NoError(t, err)
	require.True(t, st.Found)
	assert.Equal(t, "craft", cached.Name)
}

func TestResolvedRouteSupersedesHeldStepFetch(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	api := &fakeAPI{
		routes: []string{"/api/r1/", "/api/r2/"},
		steps: map[string]*model.ActionStep{
			"/api/r1/": recruitStep(),
			"/api/r2/": {Name: "craft", Endpoint: "craft", PayloadDetails: []model.PayloadFieldSpec{{Type: "card", Name: "card"}}},
		},
		stepGates: map[string]chan struct{}{"/api/r1/": gate},
	}
	e, bus, _ := newEngine(t, api)
	_, err := e.Resolve(ctx)
	require.NoError(t, err)
	r1Version := bus.Version(cache.RouteKey(gameID))

	done := make(chan error, 1)
	go func() {
		_, err := e.FetchStep(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.stepCalls == 1
	}, time.Second, 5*time.Millisecond)

	route, err := e.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/api/r2/", route.Route)
	step, err := e.FetchStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, "craft", step.Name)

	close(gate)
	assert.ErrorIs(t, <-done, appErr.ErrStaleResponse)

	v := e.View()
	assert.Equal(t, "/api/r2/", v.Route)
	assert.Equal(t, "craft", v.StepName)

	st, err := bus.Get(ctx, cache.StepKey(gameID, "/api/r1/", r1Version), nil)
	require.NoError(t, err)
	assert.False(t, st.Found, "late r1 step must not be cached")
}

func TestSupersededStepEntriesAreRemoved(t *testing.T) {
	ctx := context.Background()
	route := "/api/recruit/"
	api := &fakeAPI{
		routes: []string{route},
		steps:  map[string]*model.ActionStep{route: recruitStep()},
	}
	e, bus, _ := newEngine(t, api)

	var versions []uint64
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Refresh(ctx))
		versions = append(versions, bus.Version(cache.RouteKey(gameID)))
	}
	require.Len(t, versions, 3)
	assert.NotEqual(t, versions[0], versions[2])

	for _, old := range versions[:2] {
		st, err := bus.Get(ctx, cache.StepKey(gameID, route, old), nil)
		require.NoError(t, err)
		assert.False(t, st.Found, "step of route version %d must be removed", old)
	}
	current := cache.StepKey(gameID, route, versions[2])
	st, err := bus.Get(ctx, current, nil)
	require.NoError(t, err)
	assert.True(t, st.Found)

	e.Cancel(ctx)
	st, err = bus.Get(ctx, current, nil)
	require.NoError(t, err)
	assert.False(t, st.Found, "cancel must remove the step entry")
}

func TestCancelOnlyInvalidatesAction(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		routes: []string{"/api/recruit/"},
		steps:  map[string]*model.ActionStep{"/api/recruit/": recruitStep()},
	}
	e, bus, events := newEngine(t, api)
	require.NoError(t, e.Refresh(ctx))

	hand := cache.ReadKey(cache.KindHand, gameID)
	players := cache.ReadKey(cache.KindPlayers, gameID)
	board := cache.ReadKey(cache.KindClearings, gameID)
	for _, k := range []cache.Key{hand, players, board} {
		_, err := bus.Put(ctx, bus.Ticket(k), "v")
		require.NoError(t, err)
	}

	e.Cancel(ctx)

	assert.Equal(t, engine.StateCancelled, e.View().State)
	assert.True(t, bus.IsStale(cache.RouteKey(gameID)))
	assert.False(t, bus.IsStale(hand))
	assert.False(t, bus.IsStale(players))
	assert.False(t, bus.IsStale(board))
	assert.Equal(t, 0, countScope(*events, cache.ScopeAll))
	assert.Equal(t, 1, countScope(*events, cache.ScopeAction))

	require.NoError(t, e.Refresh(ctx))
	assert.Equal(t, engine.StateStepKnown, e.View().State)
}

func TestSingleSubmissionInFlight(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	api := &fakeAPI{
		routes: []string{"/api/recruit/"},
		steps:  map[string]*model.ActionStep{"/api/recruit/": recruitStep()},
		submitFn: func(string, string, model.CompletedPayload) (*model.ActionStep, error) {
			entered <- struct{}{}
			<-release
			return &model.ActionStep{Name: model.StepCompleted}, nil
		},
	}
	e, _, _ := newEngine(t, api)
	require.NoError(t, e.Refresh(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitFragment(ctx, payload.ClearingFragment(4))
		done <- err
	}()
	<-entered

	v := e.View()
	assert.True(t, v.Pending)
	assert.Equal(t, engine.StateSubmitting, v.State)

	_, err := e.SubmitFragment(ctx, payload.ClearingFragment(5))
	assert.ErrorIs(t, err, appErr.ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, api.submitCount())
}

func TestCancelDropsLateSubmissionResponse(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	api := &fakeAPI{
		routes: []string{"/api/recruit/"},
		steps:  map[string]*model.ActionStep{"/api/recruit/": recruitStep()},
		submitFn: func(string, string, model.CompletedPayload) (*model.ActionStep, error) {
			entered <- struct{}{}
			<-release
			return &model.ActionStep{Name: "recruit-more", Endpoint: "more", PayloadDetails: []model.PayloadFieldSpec{}}, nil
		},
	}
	e, _, _ := newEngine(t, api)
	require.NoError(t, e.Refresh(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitFragment(ctx, payload.ClearingFragment(4))
		done <- err
	}()
	<-entered
	e.Cancel(ctx)
	close(release)
	require.NoError(t, <-done)

	v := e.View()
	assert.Empty(t, v.StepName, "late step must not be rendered after cancel")
	assert.False(t, v.Pending)
}

func TestFetchStepNeedsRoute(t *testing.T) {
	e, _, _ := newEngine(t, &fakeAPI{routes: []string{"/api/x/"}})
	_, err := e.FetchStep(context.Background())
	assert.ErrorIs(t, err, appErr.ErrNoRoute)

	_, err = e.Submit(context.Background(), model.CompletedPayload{})
	assert.ErrorIs(t, err, appErr.ErrNoStep)
}

func TestRunRefreshesOnInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{
		routes: []string{"/api/recruit/"},
		steps:  map[string]*model.ActionStep{"/api/recruit/": recruitStep()},
	}
	e, bus, _ := newEngine(t, api)
	go e.Run(ctx)

	require.Eventually(t, func() bool { return e.View().State == engine.StateStepKnown }, time.Second, 5*time.Millisecond)

	bus.InvalidateAll(ctx)
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.routeCalls >= 2
	}, time.Second, 5*time.Millisecond)
}
