package intent

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ksred/autopilot/internal/database"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/monitor"
	"github.com/ksred/autopilot/internal/planner"
	"github.com/ksred/autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubPlanner struct {
	plan *planner.IntentPlan
	err  error
}

func (p *stubPlanner) PlanIntent(_ context.Context, _, _ string) (*planner.IntentPlan, error) {
	return p.plan, p.err
}

// actionRecorder implements domain.Handler and records the order of calls.
type actionRecorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (h *actionRecorder) Execute(_ context.Context, req domain.Request) (*domain.Result, error) {
	h.mu.Lock()
	h.calls = append(h.calls, req.Reference)
	h.mu.Unlock()
	if h.fail != nil && h.fail[req.Reference] {
		return nil, assert.AnError
	}
	return &domain.Result{Success: true, TxRef: "TX-" + req.Reference, AmountProcessed: req.Amount}, nil
}

func (h *actionRecorder) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type nopNotifier struct{}

func (nopNotifier) Notify(_ context.Context, _, _ string) error { return nil }

type testEnv struct {
	db       *gorm.DB
	service  *Service
	registry *monitor.Registry
	handler  *actionRecorder
}

func newTestEnv(t *testing.T, plan *planner.IntentPlan) *testEnv {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	handler := &actionRecorder{}
	handlers := domain.Handlers{
		Buy: handler, Stake: handler, DCA: handler, Vote: handler,
		Rebalance: handler, LimitCheck: handler, Withdraw: handler,
	}

	metrics := &domain.StaticMetrics{Values: map[string]float64{"yield:USDC": 0.05}}
	registry := monitor.NewRegistry(db, metrics, handlers, nopNotifier{}, time.Minute)

	confirmations := NewConfirmations()
	executor := NewStepExecutor(NewDatabase(db), handlers, registry, confirmations, 5*time.Second, 200*time.Millisecond)
	service := NewService(db, &stubPlanner{plan: plan}, executor, registry, confirmations, 0.5)

	return &testEnv{db: db, service: service, registry: registry, handler: handler}
}

func plainStep(ref string, action types.StepAction, deps ...string) planner.StepDraft {
	return planner.StepDraft{Ref: ref, Action: action, DependsOn: deps}
}

func TestSubmitRejectsLowConfidence(t *testing.T) {
	env := newTestEnv(t, &planner.IntentPlan{
		Confidence: 0.2,
		Steps:      []planner.StepDraft{plainStep("a", types.ActionBuy)},
	})

	_, err := env.service.Submit(context.Background(), "client-1", "do something vague")
	var validationErr *types.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "confidence", validationErr.Field)
}

func TestSubmitRejectsUnsoundPlans(t *testing.T) {
	tests := []struct {
		name  string
		steps []planner.StepDraft
		field string
	}{
		{"no steps", nil, "steps"},
		{"duplicate refs", []planner.StepDraft{
			plainStep("a", types.ActionBuy),
			plainStep("a", types.ActionStake),
		}, "ref"},
		{"unknown action", []planner.StepDraft{
			{Ref: "a", Action: "TELEPORT"},
		}, "action"},
		{"unknown dependency", []planner.StepDraft{
			plainStep("a", types.ActionBuy, "ghost"),
		}, "depends_on"},
		{"self dependency", []planner.StepDraft{
			plainStep("a", types.ActionBuy, "a"),
		}, "depends_on"},
		{"cycle", []planner.StepDraft{
			plainStep("a", types.ActionBuy, "b"),
			plainStep("b", types.ActionStake, "a"),
		}, "depends_on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &planner.IntentPlan{Confidence: 0.9, Steps: tt.steps})

			_, err := env.service.Submit(context.Background(), "client-1", "request")
			var validationErr *types.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestSubmitPersistsValidatedPlan(t *testing.T) {
	env := newTestEnv(t, &planner.IntentPlan{
		Category:   "yield",
		Confidence: 0.9,
		Steps: []planner.StepDraft{
			plainStep("buy", types.ActionBuy),
			plainStep("stake", types.ActionStake, "buy"),
		},
	})

	submitted, err := env.service.Submit(context.Background(), "client-1", "get me yield")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(submitted.IntentID, "INT_"))
	assert.Equal(t, types.IntentStatusPlanning, submitted.Status)
	require.Len(t, submitted.Steps, 2)

	stored, err := env.service.GetDB().GetIntent(submitted.IntentID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Steps, 2)

	// Dependencies were translated from plan refs to assigned step IDs.
	first, second := stored.Steps[0], stored.Steps[1]
	assert.True(t, strings.HasPrefix(first.StepID, "STP_"))
	assert.Empty(t, first.Dependencies())
	require.Len(t, second.Dependencies(), 1)
	assert.Equal(t, first.StepID, second.Dependencies()[0])
	assert.Equal(t, types.StepStatusPending, second.Status)
}

func TestCancelIntent(t *testing.T) {
	env := newTestEnv(t, &planner.IntentPlan{
		Confidence: 0.9,
		Steps:      []planner.StepDraft{plainStep("a", types.ActionBuy)},
	})

	submitted, err := env.service.Submit(context.Background(), "client-1", "request")
	require.NoError(t, err)

	ok, err := env.service.Cancel(submitted.IntentID)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := env.service.GetDB().GetIntent(submitted.IntentID)
	require.NoError(t, err)
	assert.Equal(t, types.IntentStatusCancelled, stored.Status)

	// Terminal statuses cannot be cancelled again.
	ok, err = env.service.Cancel(submitted.IntentID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatusIsOwnerScoped(t *testing.T) {
	env := newTestEnv(t, &planner.IntentPlan{
		Confidence: 0.9,
		Steps:      []planner.StepDraft{plainStep("a", types.ActionBuy)},
	})

	submitted, err := env.service.Submit(context.Background(), "client-1", "request")
	require.NoError(t, err)

	status, err := env.service.Status(submitted.IntentID, "client-1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, submitted.IntentID, status.Intent.IntentID)

	status, err = env.service.Status(submitted.IntentID, "someone-else")
	require.NoError(t, err)
	assert.Nil(t, status)
}
